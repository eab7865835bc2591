package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"unnatural-go/internal/service/sourcemodel"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    target TEXT,
    window_size INTEGER,
    succeeded INTEGER,
    failed INTEGER,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_results (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id),
    path TEXT NOT NULL,
    ok INTEGER NOT NULL,
    error TEXT
);

CREATE TABLE IF NOT EXISTS window_scores (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id),
    rank INTEGER NOT NULL,
    window_index INTEGER NOT NULL,
    score REAL NOT NULL,
    z_score REAL NOT NULL,
    level TEXT NOT NULL,
    start_line INTEGER,
    start_col INTEGER,
    end_line INTEGER,
    end_col INTEGER
);
`

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run kinds.
const (
	KindTrain = "train"
	KindRank  = "rank"
)

// Run is one recorded training or ranking run.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Target     string    `json:"target"`
	WindowSize int       `json:"window_size"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Failure is a file that failed during a training run.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Store keeps training reports and window rankings in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the results database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insertRun(ctx context.Context, tx *sql.Tx, run Run) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, kind, target, window_size, succeeded, failed, created_at) VALUES(?,?,?,?,?,?,?)`,
		run.ID, run.Kind, run.Target, run.WindowSize, run.Succeeded, run.Failed, run.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// SaveTrainingReport records a project training run and returns its id.
func (s *Store) SaveTrainingReport(ctx context.Context, target string, report *sourcemodel.ProjectReport) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	run := Run{
		ID:        uuid.New().String(),
		Kind:      KindTrain,
		Target:    target,
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failed),
		CreatedAt: s.now(),
	}
	if err := s.insertRun(ctx, tx, run); err != nil {
		return "", err
	}

	for _, path := range report.Succeeded {
		if _, err := tx.ExecContext(ctx, `INSERT INTO file_results(run_id, path, ok) VALUES(?,?,1)`, run.ID, path); err != nil {
			return "", fmt.Errorf("insert file result: %w", err)
		}
	}
	for _, f := range report.Failed {
		if _, err := tx.ExecContext(ctx, `INSERT INTO file_results(run_id, path, ok, error) VALUES(?,?,0,?)`, run.ID, f.Path, f.Err.Error()); err != nil {
			return "", fmt.Errorf("insert file result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("Saved training report", zap.String("run_id", run.ID), zap.Int("files", report.Total()))
	return run.ID, nil
}

// SaveRanking records a file's ranked windows in rank order.
func (s *Store) SaveRanking(ctx context.Context, target string, ranking *sourcemodel.Ranking) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	run := Run{
		ID:         uuid.New().String(),
		Kind:       KindRank,
		Target:     target,
		WindowSize: ranking.WindowSize,
		Succeeded:  len(ranking.Windows),
		CreatedAt:  s.now(),
	}
	if err := s.insertRun(ctx, tx, run); err != nil {
		return "", err
	}

	for rank, w := range ranking.Windows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO window_scores(run_id, rank, window_index, score, z_score, level, start_line, start_col, end_line, end_col) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			run.ID, rank, w.Index, w.Score, w.ZScore, w.Level,
			w.Start.Line, w.Start.Column, w.End.Line, w.End.Column,
		); err != nil {
			return "", fmt.Errorf("insert window score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return run.ID, nil
}

// ListFailures returns the failed files of a training run in path order.
func (s *Store) ListFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, error FROM file_results WHERE run_id = ? AND ok = 0 ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Path, &f.Error); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, target, window_size, succeeded, failed, created_at FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var created string
		if err := rows.Scan(&run.ID, &run.Kind, &run.Target, &run.WindowSize, &run.Succeeded, &run.Failed, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.CreatedAt, err = time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("parse run time: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

var tables = map[string]bool{"runs": true, "file_results": true, "window_scores": true}

// CountRows returns the number of rows in one of the store's tables.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if !tables[table] {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("scan count: %w", err)
	}
	return count, nil
}
