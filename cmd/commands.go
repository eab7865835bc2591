package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"unnatural-go/internal/config"
	"unnatural-go/internal/controller"
	"unnatural-go/internal/handler"
	"unnatural-go/internal/service/corpus"
	"unnatural-go/internal/service/estimator"
	"unnatural-go/internal/service/sourcemodel"
	"unnatural-go/internal/service/tokenizer"
	"unnatural-go/internal/store"
	"unnatural-go/internal/util"
	"unnatural-go/pkg/mcp"

	"go.uber.org/zap"
)

type app struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) parse(name string, args []string, define func(fs *flag.FlagSet)) (*flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{msg: err.Error()}
	}
	return fs, nil
}

// session is an open corpus with everything needed to feed it source.
type session struct {
	registry *tokenizer.TokenizerRegistry
	shared   *estimator.SharedContext
	corpus   *corpus.CorpusManager
	source   *sourcemodel.SourceModel
}

func (a *app) openSession() (*session, error) {
	registry, err := tokenizer.NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	shared := estimator.NewSharedContext(a.logger)

	cm, err := corpus.NewCorpusManager(a.cfg.Corpus, a.cfg.Model, shared, a.logger)
	if err != nil {
		shared.Close()
		registry.Close()
		return nil, err
	}

	source := sourcemodel.NewSourceModel(cm, registry, sourcemodel.Options{
		WindowSize: a.cfg.Model.WindowSize,
		Language:   a.cfg.Model.Language,
	}, a.logger)

	return &session{registry: registry, shared: shared, corpus: cm, source: source}, nil
}

func (s *session) close(logger *zap.Logger) {
	if err := s.source.Release(); err != nil {
		logger.Error("Failed to release corpus", zap.Error(err))
	}
	s.shared.Close()
	s.registry.Close()
}

// openStore returns nil when no results database is configured.
func (a *app) openStore() (*store.Store, error) {
	if a.cfg.Store.Path == "" {
		return nil, nil
	}
	return store.Open(a.cfg.Store.Path, a.logger)
}

func (a *app) runTrain(args []string) error {
	fs, err := a.parse("train", args, nil)
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usagef("expected at least one file or directory")
	}

	sess, err := a.openSession()
	if err != nil {
		return err
	}
	defer sess.close(a.logger)

	files, err := util.CollectSourceFiles(fs.Args(), sess.registry.HasExtension)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no source files found in %s", strings.Join(fs.Args(), " "))
	}

	report, trainErr := sess.source.TrainProject(a.ctx, files)
	fmt.Fprintf(a.stdout, "trained %d files, %d failed\n", len(report.Succeeded), len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(a.stdout, "  FAILED %s: %v\n", f.Path, f.Err)
	}

	results, err := a.openStore()
	if err != nil {
		return err
	}
	if results != nil {
		defer results.Close()
		runID, err := results.SaveTrainingReport(a.ctx, strings.Join(fs.Args(), " "), report)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "run %s\n", runID)
	}
	return trainErr
}

func (a *app) runQuery(args []string) error {
	var code, language *string
	fs, err := a.parse("query", args, func(fs *flag.FlagSet) {
		code = fs.String("code", "", "Source text to score instead of a file")
		language = fs.String("language", "", "Language of -code (default model.language)")
	})
	if err != nil {
		return err
	}
	if (*code == "") == (fs.NArg() != 1) {
		return usagef("expected exactly one file or -code")
	}

	sess, err := a.openSession()
	if err != nil {
		return err
	}
	defer sess.close(a.logger)

	var score float64
	if *code != "" {
		seq, err := sess.source.Lex(a.ctx, *language, []byte(*code))
		if err != nil {
			return err
		}
		score, err = sess.source.QuerySequence(a.ctx, seq)
		if err != nil {
			return err
		}
	} else {
		seq, err := sess.source.LexFile(a.ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		score, err = sess.source.QuerySequence(a.ctx, seq)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(a.stdout, "%.6f\n", score)
	return nil
}

func (a *app) runRank(args []string) error {
	var window, top *int
	var asJSON *bool
	fs, err := a.parse("rank", args, func(fs *flag.FlagSet) {
		window = fs.Int("window", a.cfg.Model.WindowSize, "Tokens per window")
		top = fs.Int("top", 10, "Windows to print, worst first (0 for all)")
		asJSON = fs.Bool("json", false, "Print the ranking as JSON")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("expected exactly one file")
	}
	if *window < 1 {
		return usagef("window must be at least 1, got %d", *window)
	}
	path := fs.Arg(0)

	sess, err := a.openSession()
	if err != nil {
		return err
	}
	defer sess.close(a.logger)

	seq, err := sess.source.LexFile(a.ctx, path)
	if err != nil {
		return err
	}
	ranking, err := sess.source.Rank(a.ctx, seq, *window, *top)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ranking); err != nil {
			return err
		}
	} else {
		fmt.Fprint(a.stdout, ranking.String())
	}

	results, err := a.openStore()
	if err != nil {
		return err
	}
	if results != nil {
		defer results.Close()
		if _, err := results.SaveRanking(a.ctx, path, ranking); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runServe(args []string) error {
	var port *int
	var socket *string
	if _, err := a.parse("serve", args, func(fs *flag.FlagSet) {
		port = fs.Int("port", a.cfg.App.Port, "TCP port to listen on")
		socket = fs.String("socket", a.cfg.App.Socket, "Unix socket to listen on instead of a port")
	}); err != nil {
		return err
	}

	sess, err := a.openSession()
	if err != nil {
		return err
	}
	defer sess.close(a.logger)

	estimatorController := controller.NewEstimatorController(sess.corpus, sess.source, a.logger)
	mcpServer := mcp.NewNaturalnessServer(sess.source, a.cfg, a.logger)
	router := handler.SetupRouter(estimatorController, mcpServer, a.logger)

	var listener net.Listener
	if *socket != "" {
		os.Remove(*socket)
		listener, err = net.Listen("unix", *socket)
		defer os.Remove(*socket)
	} else {
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", *port))
	}
	if err != nil {
		mcpServer.Shutdown(context.Background())
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := &http.Server{Handler: router}
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()
	a.logger.Info("Starting server", zap.String("address", listener.Addr().String()), zap.String("backend", sess.corpus.Backend()))

	var serveErr error
	select {
	case err := <-served:
		serveErr = fmt.Errorf("server stopped: %w", err)
	case <-a.ctx.Done():
		a.logger.Info("Shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serveErr != nil {
		return errors.Join(serveErr, mcpServer.Shutdown(ctx))
	}
	return errors.Join(server.Shutdown(ctx), mcpServer.Shutdown(ctx))
}

func (a *app) runEstimate(args []string) error {
	var snapshot *string
	fs, err := a.parse("estimate", args, func(fs *flag.FlagSet) {
		snapshot = fs.String("snapshot", "", "Model snapshot to load and save")
	})
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usagef("expected at least one corpus file")
	}

	opts, err := estimator.ModelOptions(a.cfg.Model)
	if err != nil {
		return err
	}
	est, err := estimator.NewLocalEstimator(estimator.LocalOptions{
		CorpusPaths:  fs.Args(),
		SnapshotPath: *snapshot,
		ForceRetrain: a.cfg.Corpus.ForceRetrain,
		Model:        opts,
	}, a.logger)
	if err != nil {
		return err
	}

	serveErr := estimator.ServeLines(a.ctx, a.stdin, a.stdout, est)
	if err := est.Close(); err != nil {
		return err
	}
	return serveErr
}

type statsOutput struct {
	Corpus corpus.CorpusStats `json:"corpus"`
	Runs   []store.Run        `json:"runs,omitempty"`
}

func (a *app) runStats(args []string) error {
	var limit *int
	if _, err := a.parse("stats", args, func(fs *flag.FlagSet) {
		limit = fs.Int("runs", 10, "Recent runs to list")
	}); err != nil {
		return err
	}

	sess, err := a.openSession()
	if err != nil {
		return err
	}
	defer sess.close(a.logger)

	out := statsOutput{Corpus: sess.corpus.Stats()}

	results, err := a.openStore()
	if err != nil {
		return err
	}
	if results != nil {
		defer results.Close()
		out.Runs, err = results.ListRuns(a.ctx, *limit)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
