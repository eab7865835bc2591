package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"unnatural-go/internal/config"
	"unnatural-go/internal/model"
	"unnatural-go/internal/service/estimator"
	"unnatural-go/internal/service/ngram"
	"unnatural-go/internal/service/stringify"

	"go.uber.org/zap"
)

// CorpusStats describes a corpus manager and, for the local backend, its
// model.
type CorpusStats struct {
	Backend   string                 `json:"backend"`
	ReadPath  string                 `json:"read_path"`
	WritePath string                 `json:"write_path"`
	Appended  int64                  `json:"appended"` // records appended by this manager
	Model     *ngram.ModelStats      `json:"model,omitempty"`
	Memory    *ngram.TrieMemoryStats `json:"memory,omitempty"`
}

// CorpusManager owns the corpus files and the estimator trained from them.
// Training text is appended to the write corpus before the estimator sees
// it, so a restarted estimator reads the same records. With a remote
// estimator the service owns the backing corpus and appends the record
// itself, so no local write corpus is opened.
type CorpusManager struct {
	cfg        config.CorpusConfig
	backend    string
	estimator  estimator.Estimator
	writer     *os.File
	shared     *estimator.SharedContext
	ownsShared bool
	appended   int64
	released   bool
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewCorpusManager checks the corpus environment, opens the write corpus
// and connects the configured estimator. A nil shared context is replaced
// by one the manager owns and closes on Release.
func NewCorpusManager(cfg config.CorpusConfig, modelCfg config.ModelConfig, shared *estimator.SharedContext, logger *zap.Logger) (*CorpusManager, error) {
	if cfg.WritePath == "" {
		cfg.WritePath = cfg.ReadPath
	}
	if err := checkEnvironment(cfg); err != nil {
		return nil, err
	}

	var writer *os.File
	if cfg.ServicePath == "" {
		var err error
		writer, err = os.OpenFile(cfg.WritePath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, &model.EnvironmentError{Path: cfg.WritePath, Msg: "cannot open write corpus", Err: err}
		}
	}

	cm := &CorpusManager{
		cfg:    cfg,
		writer: writer,
		shared: shared,
		logger: logger,
	}
	if err := cm.connect(modelCfg); err != nil {
		if writer != nil {
			writer.Close()
		}
		if cm.ownsShared {
			cm.shared.Close()
		}
		return nil, err
	}

	logger.Info("Opened corpus",
		zap.String("backend", cm.backend),
		zap.String("read_path", cfg.ReadPath),
		zap.String("write_path", cfg.WritePath))
	return cm, nil
}

func checkEnvironment(cfg config.CorpusConfig) error {
	if cfg.ReadPath == "" {
		return &model.EnvironmentError{Msg: "no read corpus configured"}
	}

	writeDir := filepath.Dir(cfg.WritePath)
	if err := os.MkdirAll(writeDir, 0755); err != nil {
		return &model.EnvironmentError{Path: writeDir, Msg: "cannot create corpus directory", Err: err}
	}

	info, err := os.Stat(cfg.ReadPath)
	switch {
	case os.IsNotExist(err):
		readDir := filepath.Dir(cfg.ReadPath)
		if _, err := os.Stat(readDir); err != nil {
			return &model.EnvironmentError{Path: readDir, Msg: "corpus directory not readable", Err: err}
		}
	case err != nil:
		return &model.EnvironmentError{Path: cfg.ReadPath, Msg: "read corpus not readable", Err: err}
	case info.IsDir():
		return &model.EnvironmentError{Path: cfg.ReadPath, Msg: "read corpus is a directory"}
	default:
		f, err := os.Open(cfg.ReadPath)
		if err != nil {
			return &model.EnvironmentError{Path: cfg.ReadPath, Msg: "read corpus not readable", Err: err}
		}
		f.Close()
	}

	if cfg.EstimatorBinary != "" && cfg.ServicePath == "" {
		if _, err := exec.LookPath(cfg.EstimatorBinary); err != nil {
			return &model.EnvironmentError{Path: cfg.EstimatorBinary, Msg: "estimator binary not executable", Err: err}
		}
	}
	return nil
}

func (cm *CorpusManager) corpusPaths() []string {
	paths := []string{cm.cfg.ReadPath}
	if cm.cfg.WritePath != cm.cfg.ReadPath {
		paths = append(paths, cm.cfg.WritePath)
	}
	return paths
}

func (cm *CorpusManager) connect(modelCfg config.ModelConfig) error {
	switch {
	case cm.cfg.ServicePath != "":
		if cm.shared == nil {
			cm.shared = estimator.NewSharedContext(cm.logger)
			cm.ownsShared = true
		}
		remote, err := estimator.NewRemoteEstimator(cm.shared, cm.cfg.ServicePath, cm.cfg.Timeout, cm.logger)
		if err != nil {
			return &model.EnvironmentError{Path: cm.cfg.ServicePath, Msg: "invalid estimator service address", Err: err}
		}
		cm.backend = estimator.BackendRemote
		cm.estimator = remote

	case cm.cfg.EstimatorBinary != "":
		var env []string
		if cm.cfg.ForceRetrain {
			env = append(env, "UC_FORCE_RETRAIN=1")
		}
		cm.backend = estimator.BackendProcess
		cm.estimator = estimator.NewProcessEstimator(estimator.ProcessOptions{
			Binary:  cm.cfg.EstimatorBinary,
			Args:    append(slices.Clone(cm.cfg.EstimatorArgs), cm.corpusPaths()...),
			Env:     env,
			Timeout: cm.cfg.Timeout,
		}, cm.logger)

	default:
		opts, err := estimator.ModelOptions(modelCfg)
		if err != nil {
			return fmt.Errorf("invalid model configuration: %w", err)
		}
		local, err := estimator.NewLocalEstimator(estimator.LocalOptions{
			CorpusPaths:  cm.corpusPaths(),
			SnapshotPath: cm.cfg.SnapshotPath,
			ForceRetrain: cm.cfg.ForceRetrain,
			Model:        opts,
		}, cm.logger)
		if err != nil {
			return err
		}
		cm.backend = estimator.BackendLocal
		cm.estimator = local
	}
	return nil
}

// Backend names the estimator backend in use.
func (cm *CorpusManager) Backend() string {
	return cm.backend
}

// AppendTrainingText appends one stringified record to the write corpus
// and trains the estimator with it. A remote estimator appends the record
// to its own corpus.
func (cm *CorpusManager) AppendTrainingText(ctx context.Context, text string) error {
	if err := checkTrainingText(text); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.released {
		return model.ErrReleased
	}

	if cm.writer != nil {
		if _, err := cm.writer.WriteString(text + "\n"); err != nil {
			return &model.EnvironmentError{Path: cm.cfg.WritePath, Msg: "cannot append to write corpus", Err: err}
		}
		if err := cm.writer.Sync(); err != nil {
			return &model.EnvironmentError{Path: cm.cfg.WritePath, Msg: "cannot sync write corpus", Err: err}
		}
	}
	cm.appended++

	ctx, cancel := cm.withTimeout(ctx)
	defer cancel()
	return cm.estimator.Train(ctx, text)
}

func checkTrainingText(text string) error {
	switch {
	case strings.TrimSpace(text) == "":
		return &model.QueryError{Op: "train", Msg: "empty text"}
	case strings.ContainsAny(text, "\r\n"):
		return &model.QueryError{Op: "train", Msg: "text spans more than one line"}
	case !strings.HasSuffix(strings.TrimSpace(text), stringify.EndMarker):
		return &model.QueryError{Op: "train", Msg: "text does not end with " + stringify.EndMarker}
	}
	return nil
}

// QueryCorpus returns the cross-entropy of text against the corpus.
func (cm *CorpusManager) QueryCorpus(ctx context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, &model.QueryError{Op: "query", Msg: "empty text"}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.released {
		return 0, model.ErrReleased
	}

	ctx, cancel := cm.withTimeout(ctx)
	defer cancel()
	return cm.estimator.Query(ctx, text)
}

func (cm *CorpusManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cm.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cm.cfg.Timeout)
}

// Stats reports the backend and, for the local backend, the model.
func (cm *CorpusManager) Stats() CorpusStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := CorpusStats{
		Backend:   cm.backend,
		ReadPath:  cm.cfg.ReadPath,
		WritePath: cm.cfg.WritePath,
		Appended:  cm.appended,
	}
	if local, ok := cm.estimator.(*estimator.LocalEstimator); ok && !cm.released {
		modelStats := local.Stats()
		memory := local.MemoryStats()
		stats.Model = &modelStats
		stats.Memory = &memory
	}
	return stats
}

// Release closes the write corpus and the estimator. Calling it again is a
// no-op.
func (cm *CorpusManager) Release() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.released {
		return nil
	}
	cm.released = true

	var errs []error
	if cm.writer != nil {
		if err := cm.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close write corpus: %w", err))
		}
	}
	if err := cm.estimator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close estimator: %w", err))
	}
	if cm.ownsShared {
		if err := cm.shared.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	cm.logger.Info("Released corpus",
		zap.String("backend", cm.backend),
		zap.Int64("appended", cm.appended))
	return errors.Join(errs...)
}
