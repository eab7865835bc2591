package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"unnatural-go/internal/config"
	"unnatural-go/internal/model"
	"unnatural-go/internal/service/estimator"

	"go.uber.org/zap"
)

const helperEnv = "UC_TEST_CORPUS_ESTIMATOR"

// TestMain lets the test binary stand in for an estimator process.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) != "serve" {
		os.Exit(m.Run())
	}
	opts, _ := estimator.ModelOptions(testModelConfig)
	est, err := estimator.NewLocalEstimator(estimator.LocalOptions{CorpusPaths: os.Args[1:], Model: opts}, zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	estimator.ServeLines(context.Background(), os.Stdin, os.Stdout, est)
	est.Close()
	os.Exit(0)
}

var testModelConfig = config.ModelConfig{Order: 3, Smoothing: "addk", AddK: 0.1}

var seedRecords = []string{
	"def add ( a , b ) : <NEWLINE> <INDENT> return a + b <NEWLINE> <DEDENT> <ENDMARKER>",
	"print ( add ( 1 , 2 ) ) <NEWLINE> <ENDMARKER>",
}

const novelRecord = "while True : <NEWLINE> <INDENT> pass <NEWLINE> <DEDENT> <ENDMARKER>"

func seededConfig(t *testing.T) config.CorpusConfig {
	t.Helper()
	dir := t.TempDir()
	read := filepath.Join(dir, "corpus.txt")
	if err := os.WriteFile(read, []byte(strings.Join(seedRecords, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write corpus: %v", err)
	}
	return config.CorpusConfig{
		ReadPath:     read,
		WritePath:    filepath.Join(dir, "out", "written.txt"),
		SnapshotPath: filepath.Join(dir, "corpus.gob"),
		Timeout:      5 * time.Second,
	}
}

func TestCorpusManager_LocalAppendThenQuery(t *testing.T) {
	ctx := context.Background()
	cfg := seededConfig(t)

	cm, err := NewCorpusManager(cfg, testModelConfig, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}
	defer cm.Release()

	if cm.Backend() != estimator.BackendLocal {
		t.Fatalf("Expected local backend, got %s", cm.Backend())
	}

	before, err := cm.QueryCorpus(ctx, novelRecord)
	if err != nil {
		t.Fatalf("QueryCorpus failed: %v", err)
	}
	if err := cm.AppendTrainingText(ctx, novelRecord); err != nil {
		t.Fatalf("AppendTrainingText failed: %v", err)
	}
	after, _ := cm.QueryCorpus(ctx, novelRecord)
	if after >= before {
		t.Fatalf("Expected appended text to lower its score: before %f, after %f", before, after)
	}

	data, err := os.ReadFile(cfg.WritePath)
	if err != nil {
		t.Fatalf("Failed to read write corpus: %v", err)
	}
	if string(data) != novelRecord+"\n" {
		t.Fatalf("Unexpected write corpus contents %q", data)
	}

	stats := cm.Stats()
	if stats.Appended != 1 || stats.Model == nil || stats.Model.Records != int64(len(seedRecords)+1) {
		t.Fatalf("Unexpected stats %+v", stats)
	}
}

func TestCorpusManager_RejectsBadTrainingText(t *testing.T) {
	cm, err := NewCorpusManager(seededConfig(t), testModelConfig, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}
	defer cm.Release()

	for _, text := range []string{"", "   ", "a b", "a <ENDMARKER>\nb <ENDMARKER>"} {
		var queryErr *model.QueryError
		if err := cm.AppendTrainingText(context.Background(), text); !errors.As(err, &queryErr) {
			t.Errorf("Expected QueryError for %q, got %v", text, err)
		}
	}
	if _, err := cm.QueryCorpus(context.Background(), " "); err == nil {
		t.Error("Expected empty query to fail")
	}
	if cm.Stats().Appended != 0 {
		t.Fatal("Rejected text must not be appended")
	}
}

func TestCorpusManager_ReleaseIsIdempotent(t *testing.T) {
	cfg := seededConfig(t)
	cm, err := NewCorpusManager(cfg, testModelConfig, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}
	if err := cm.AppendTrainingText(context.Background(), novelRecord); err != nil {
		t.Fatalf("AppendTrainingText failed: %v", err)
	}

	if err := cm.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := cm.Release(); err != nil {
		t.Fatalf("Second Release failed: %v", err)
	}
	if _, err := cm.QueryCorpus(context.Background(), novelRecord); !errors.Is(err, model.ErrReleased) {
		t.Fatalf("Expected ErrReleased, got %v", err)
	}
	if err := cm.AppendTrainingText(context.Background(), novelRecord); !errors.Is(err, model.ErrReleased) {
		t.Fatalf("Expected ErrReleased, got %v", err)
	}
	if _, err := os.Stat(cfg.SnapshotPath); err != nil {
		t.Fatalf("Expected a snapshot after release: %v", err)
	}
}

func TestCorpusManager_EnvironmentErrors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	cases := map[string]config.CorpusConfig{
		"no read path":     {},
		"read is dir":      {ReadPath: dir, WritePath: filepath.Join(dir, "w.txt")},
		"write under file": {ReadPath: filepath.Join(dir, "r.txt"), WritePath: filepath.Join(blocker, "w.txt")},
		"missing read dir": {ReadPath: filepath.Join(dir, "nope", "r.txt"), WritePath: filepath.Join(dir, "w.txt")},
		"missing binary":   {ReadPath: filepath.Join(dir, "r.txt"), EstimatorBinary: filepath.Join(dir, "no-such-estimator")},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCorpusManager(cfg, testModelConfig, nil, zap.NewNop())
			var envErr *model.EnvironmentError
			if !errors.As(err, &envErr) {
				t.Fatalf("Expected EnvironmentError, got %v", err)
			}
		})
	}
}

func TestCorpusManager_ProcessBackend(t *testing.T) {
	t.Setenv(helperEnv, "serve")
	ctx := context.Background()
	cfg := seededConfig(t)
	cfg.EstimatorBinary = os.Args[0]

	cm, err := NewCorpusManager(cfg, testModelConfig, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}
	defer cm.Release()

	if cm.Backend() != estimator.BackendProcess {
		t.Fatalf("Expected process backend, got %s", cm.Backend())
	}

	before, err := cm.QueryCorpus(ctx, novelRecord)
	if err != nil {
		t.Fatalf("QueryCorpus failed: %v", err)
	}
	if err := cm.AppendTrainingText(ctx, novelRecord); err != nil {
		t.Fatalf("AppendTrainingText failed: %v", err)
	}
	after, err := cm.QueryCorpus(ctx, novelRecord)
	if err != nil {
		t.Fatalf("QueryCorpus after training failed: %v", err)
	}
	if after >= before {
		t.Fatalf("Expected the restarted process to observe training: before %f, after %f", before, after)
	}
}

type fakeService struct {
	trained []string
	mu      sync.Mutex
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req estimator.QueryRequest
	json.NewDecoder(r.Body).Decode(&req)
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/api/v1/train":
		s.mu.Lock()
		s.trained = append(s.trained, req.Text)
		s.mu.Unlock()
		w.Write([]byte(`{"status":"ok"}`))
	case "/api/v1/query":
		json.NewEncoder(w).Encode(estimator.QueryResponse{Score: float64(len(strings.Fields(req.Text)))})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestCorpusManager_RemoteBackend(t *testing.T) {
	service := &fakeService{}
	server := httptest.NewServer(service)
	defer server.Close()

	cfg := seededConfig(t)
	cfg.ServicePath = server.URL
	shared := estimator.NewSharedContext(zap.NewNop())
	defer shared.Close()

	cm, err := NewCorpusManager(cfg, testModelConfig, shared, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}

	score, err := cm.QueryCorpus(context.Background(), "a b c")
	if err != nil {
		t.Fatalf("QueryCorpus failed: %v", err)
	}
	if score != 3 {
		t.Fatalf("Expected the service's score 3, got %f", score)
	}
	if err := cm.AppendTrainingText(context.Background(), novelRecord); err != nil {
		t.Fatalf("AppendTrainingText failed: %v", err)
	}

	service.mu.Lock()
	trained := append([]string(nil), service.trained...)
	service.mu.Unlock()
	if len(trained) != 1 || trained[0] != novelRecord {
		t.Fatalf("Expected the service to receive the record, got %v", trained)
	}
	if data, err := os.ReadFile(cfg.WritePath); err == nil && strings.Contains(string(data), novelRecord) {
		t.Fatalf("Expected only the service to store the record, local corpus has %q", data)
	}
	if stats := cm.Stats(); stats.Backend != estimator.BackendRemote || stats.Model != nil {
		t.Fatalf("Unexpected stats %+v", stats)
	}

	if err := cm.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, _, err := shared.Client(server.URL); err != nil {
		t.Fatalf("A borrowed shared context must survive release: %v", err)
	}
}
