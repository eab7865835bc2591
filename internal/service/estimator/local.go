package estimator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"unnatural-go/internal/model"
	"unnatural-go/internal/service/ngram"

	"go.uber.org/zap"
)

// LocalOptions configures an in-process estimator.
type LocalOptions struct {
	CorpusPaths  []string // corpus files the model is trained from
	SnapshotPath string   // empty disables snapshots
	ForceRetrain bool
	Model        ngram.Options
}

// LocalEstimator keeps the n-gram model in memory and trains it
// incrementally, so every Train is visible to the next Query.
type LocalEstimator struct {
	opts        LocalOptions
	model       *ngram.NGramModel
	persistence *ngram.NGramPersistence
	logger      *zap.Logger
	dirty       bool
	closed      bool
	mu          sync.Mutex
}

// NewLocalEstimator loads the snapshot when it matches the corpus and
// trains from the corpus files otherwise.
func NewLocalEstimator(opts LocalOptions, logger *zap.Logger) (*LocalEstimator, error) {
	e := &LocalEstimator{opts: opts, logger: logger}

	fingerprint, err := ngram.Fingerprint(opts.CorpusPaths...)
	if err != nil {
		return nil, &model.EnvironmentError{Path: fmt.Sprint(opts.CorpusPaths), Msg: "cannot read corpus", Err: err}
	}

	if opts.SnapshotPath != "" {
		e.persistence, err = ngram.NewNGramPersistence(opts.SnapshotPath, logger)
		if err != nil {
			return nil, &model.EnvironmentError{Path: opts.SnapshotPath, Msg: "cannot use snapshot directory", Err: err}
		}

		if !opts.ForceRetrain {
			loaded, err := e.persistence.Load(opts.Model, fingerprint)
			switch {
			case err == nil:
				e.model = loaded
				return e, nil
			case errors.Is(err, fs.ErrNotExist):
			case errors.Is(err, ngram.ErrStaleSnapshot):
				logger.Info("Snapshot is stale, retraining", zap.String("snapshot", opts.SnapshotPath))
			default:
				logger.Warn("Ignoring unreadable snapshot", zap.String("snapshot", opts.SnapshotPath), zap.Error(err))
			}
		}
	}

	e.model = ngram.NewNGramModel(opts.Model)
	for _, path := range opts.CorpusPaths {
		records, err := e.trainFile(path)
		if err != nil {
			return nil, err
		}
		logger.Info("Trained n-gram model from corpus",
			zap.String("corpus", path),
			zap.Int("records", records))
	}
	e.dirty = e.persistence != nil

	logger.Info("N-gram model ready",
		zap.Int("vocabulary", e.model.Stats().VocabularySize),
		zap.Int64("memory_bytes", e.model.MemoryStats().TotalMemoryBytes()))

	return e, nil
}

func (e *LocalEstimator) trainFile(path string) (int, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &model.EnvironmentError{Path: path, Msg: "cannot open corpus", Err: err}
	}
	defer file.Close()

	records, err := e.model.Train(file)
	if err != nil {
		return records, &model.EnvironmentError{Path: path, Msg: "cannot read corpus", Err: err}
	}
	return records, nil
}

func (e *LocalEstimator) Train(ctx context.Context, text string) error {
	if err := checkRecord("train", text); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &model.CorpusUnavailableError{Backend: BackendLocal, Err: model.ErrReleased}
	}

	e.model.AddText(text)
	e.dirty = e.persistence != nil
	return nil
}

func (e *LocalEstimator) Query(ctx context.Context, text string) (float64, error) {
	if err := checkRecord("query", text); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, &model.CorpusUnavailableError{Backend: BackendLocal, Err: err}
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, &model.CorpusUnavailableError{Backend: BackendLocal, Err: model.ErrReleased}
	}

	return e.model.Score(text), nil
}

// Stats describes the in-memory model.
func (e *LocalEstimator) Stats() ngram.ModelStats {
	return e.model.Stats()
}

// MemoryStats estimates the model's memory use.
func (e *LocalEstimator) MemoryStats() ngram.TrieMemoryStats {
	return e.model.MemoryStats()
}

// Close saves the snapshot if the model changed since it was loaded.
func (e *LocalEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if !e.dirty {
		return nil
	}
	fingerprint, err := ngram.Fingerprint(e.opts.CorpusPaths...)
	if err != nil {
		return fmt.Errorf("failed to fingerprint corpus: %w", err)
	}
	if err := e.persistence.Save(e.model, fingerprint); err != nil {
		return err
	}
	e.dirty = false
	return nil
}
