package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"unnatural-go/internal/model/lexeme"
	"unnatural-go/internal/service/sourcemodel"

	"go.uber.org/zap"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveTrainingReport(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	report := &sourcemodel.ProjectReport{
		Succeeded: []string{"a.py", "b.py"},
		Failed: []sourcemodel.FileFailure{
			{Path: "z.py", Err: errors.New("tokenize z.py: line 3: EOF in multi-line statement")},
			{Path: "c.py", Err: errors.New("failed to read c.py: permission denied")},
		},
	}

	runID, err := s.SaveTrainingReport(ctx, "project", report)
	if err != nil {
		t.Fatalf("save training report: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a run id")
	}

	results, err := s.CountRows(ctx, "file_results")
	if err != nil {
		t.Fatalf("count file results: %v", err)
	}
	if results != 4 {
		t.Fatalf("expected 4 file results, got %d", results)
	}

	failures, err := s.ListFailures(ctx, runID)
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(failures) != 2 || failures[0].Path != "c.py" || failures[1].Path != "z.py" {
		t.Fatalf("unexpected failures %+v", failures)
	}
	if failures[1].Error != report.Failed[0].Err.Error() {
		t.Fatalf("expected the error text to be kept, got %q", failures[1].Error)
	}
}

func TestSaveRanking(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	windows := []sourcemodel.WindowScore{
		{Index: 2, Score: 9, Start: lexeme.Position{Line: 3}, End: lexeme.Position{Line: 3, Column: 12}},
		{Index: 0, Score: 4, Start: lexeme.Position{Line: 1}, End: lexeme.Position{Line: 1, Column: 8}},
		{Index: 1, Score: 2, Start: lexeme.Position{Line: 2}, End: lexeme.Position{Line: 2, Column: 5}},
	}
	ranking := &sourcemodel.Ranking{WindowSize: 5, Stats: sourcemodel.Summarize(windows)}
	for _, w := range windows {
		z := ranking.Stats.ZScore(w.Score)
		ranking.Windows = append(ranking.Windows, sourcemodel.RankedWindow{WindowScore: w, ZScore: z, Level: sourcemodel.InterpretZScore(z)})
	}
	rankID, err := s.SaveRanking(ctx, "main.py", ranking)
	if err != nil {
		t.Fatalf("save ranking: %v", err)
	}

	scores, err := s.CountRows(ctx, "window_scores")
	if err != nil {
		t.Fatalf("count window scores: %v", err)
	}
	if scores != 3 {
		t.Fatalf("expected 3 window scores, got %d", scores)
	}

	var level string
	if err := s.db.QueryRowContext(ctx, `SELECT level FROM window_scores WHERE run_id = ? AND rank = 0`, rankID).Scan(&level); err != nil {
		t.Fatalf("query level: %v", err)
	}
	if level != sourcemodel.LevelHigh {
		t.Fatalf("expected the worst window to be %s, got %s", sourcemodel.LevelHigh, level)
	}

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	trainID, err := s.SaveTrainingReport(ctx, "project", &sourcemodel.ProjectReport{Succeeded: []string{"a.py"}})
	if err != nil {
		t.Fatalf("save training report: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != trainID || runs[1].ID != rankID {
		t.Fatalf("expected newest run first, got %+v", runs)
	}
	if runs[1].Kind != KindRank || runs[1].WindowSize != 5 || runs[1].Target != "main.py" {
		t.Fatalf("unexpected rank run %+v", runs[1])
	}
}

func TestCountRows_UnknownTable(t *testing.T) {
	s := openStore(t)
	if _, err := s.CountRows(context.Background(), "runs; DROP TABLE runs"); err == nil {
		t.Fatal("expected an unknown table to be rejected")
	}
}
