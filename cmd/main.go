package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"unnatural-go/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `usage: unnatural [flags] <command> [command flags] [args]

commands:
  train <file|dir>...                 train the corpus with source files
  query <file> | -code <text>         score a whole file or snippet
  rank [-window N] [-top K] <file>    rank the windows of a file, worst first
  serve [-port P | -socket PATH]      run the estimator service
  estimate <corpus>...                run a line-protocol estimator on stdin/stdout
  stats                               describe the corpus and recent runs

flags:
`

// usageError is reported with exit code 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("unnatural", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	var appConfigPath = flags.String("config", "app.yaml", "Path to app configuration file")
	var readCorpus = flags.String("corpus", "", "Corpus to read (overrides corpus.read_path)")
	var logLevel = flags.String("log-level", "", "Log level (overrides app.log_level)")
	var storePath = flags.String("store", "", "Results database (overrides store.path)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return exitUsage
	}

	cfg, err := config.LoadConfig(*appConfigPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if *readCorpus != "" {
		cfg.SetReadPath(*readCorpus)
	}
	if *logLevel != "" {
		cfg.App.LogLevel = *logLevel
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger, err := buildLogger(cfg.App)
	if err != nil {
		log.Println("Failed to initialize logger:", err)
		return exitError
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{ctx: ctx, cfg: cfg, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}
	command, commandArgs := flags.Arg(0), flags.Args()[1:]

	switch command {
	case "train":
		err = a.runTrain(commandArgs)
	case "query":
		err = a.runQuery(commandArgs)
	case "rank":
		err = a.runRank(commandArgs)
	case "serve":
		err = a.runServe(commandArgs)
	case "estimate":
		err = a.runEstimate(commandArgs)
	case "stats":
		err = a.runStats(commandArgs)
	default:
		err = usagef("unknown command %q", command)
	}

	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return exitUsage
	default:
		logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return exitError
	}
}

// buildLogger writes to stderr unless configured otherwise; stdout carries
// command results.
func buildLogger(cfg config.AppConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	cfgZap := zap.NewProductionConfig()
	cfgZap.Level.SetLevel(level)
	cfgZap.OutputPaths = cfg.LogOutputs
	cfgZap.ErrorOutputPaths = []string{"stderr"}
	return cfgZap.Build()
}
