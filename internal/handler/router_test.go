package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unnatural-go/internal/config"
	"unnatural-go/internal/controller"
	"unnatural-go/internal/model"
	"unnatural-go/internal/service/corpus"
	"unnatural-go/internal/service/estimator"
	"unnatural-go/internal/service/sourcemodel"
	"unnatural-go/internal/service/tokenizer"
	"unnatural-go/pkg/mcp"

	"go.uber.org/zap"
)

const record = "def add ( a , b ) : <NEWLINE> <INDENT> return a + b <NEWLINE> <DEDENT> <ENDMARKER>"

// startService runs the estimator service over a local corpus at
// corpusPath.
func startService(t *testing.T, corpusPath string) *httptest.Server {
	t.Helper()
	cm, err := corpus.NewCorpusManager(config.CorpusConfig{
		ReadPath: corpusPath,
		Timeout:  5 * time.Second,
	}, config.ModelConfig{Order: 3, Smoothing: "wittenbell"}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}

	registry, err := tokenizer.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("Failed to create tokenizer registry: %v", err)
	}
	source := sourcemodel.NewSourceModel(cm, registry, sourcemodel.Options{}, zap.NewNop())

	cfg := config.Defaults()
	router := SetupRouter(
		controller.NewEstimatorController(cm, source, zap.NewNop()),
		mcp.NewNaturalnessServer(source, cfg, zap.NewNop()),
		zap.NewNop(),
	)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		source.Release()
		registry.Close()
	})
	return server
}

func TestRouter_RemoteEstimatorReadsItsWrites(t *testing.T) {
	ctx := context.Background()
	server := startService(t, filepath.Join(t.TempDir(), "corpus.txt"))

	shared := estimator.NewSharedContext(zap.NewNop())
	defer shared.Close()
	remote, err := estimator.NewRemoteEstimator(shared, server.URL, 5*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRemoteEstimator failed: %v", err)
	}

	before, err := remote.Query(ctx, record)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if err := remote.Train(ctx, record); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	after, err := remote.Query(ctx, record)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if after >= before {
		t.Fatalf("Expected the trained record to score lower: before %f, after %f", before, after)
	}

	var queryErr *model.QueryError
	if err := remote.Train(ctx, "no end marker"); !errors.As(err, &queryErr) {
		t.Fatalf("Expected the service's rejection as a QueryError, got %v", err)
	}
}

func TestRouter_SharedCorpusStoresRecordOnce(t *testing.T) {
	corpusPath := filepath.Join(t.TempDir(), "corpus.txt")
	server := startService(t, corpusPath)

	cm, err := corpus.NewCorpusManager(config.CorpusConfig{
		ReadPath:    corpusPath,
		ServicePath: server.URL,
		Timeout:     5 * time.Second,
	}, config.ModelConfig{Order: 3}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCorpusManager failed: %v", err)
	}
	defer cm.Release()

	if err := cm.AppendTrainingText(context.Background(), record); err != nil {
		t.Fatalf("AppendTrainingText failed: %v", err)
	}

	data, err := os.ReadFile(corpusPath)
	if err != nil {
		t.Fatalf("Failed to read corpus: %v", err)
	}
	if n := strings.Count(string(data), record); n != 1 {
		t.Fatalf("Expected the record stored once, found %d copies", n)
	}
}

func TestRouter_HealthAndMCPMounted(t *testing.T) {
	server := startService(t, filepath.Join(t.TempDir(), "corpus.txt"))

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from health, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/v1/missing")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for an unknown route, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/mcp")
	if err != nil {
		t.Fatalf("MCP request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		t.Fatal("Expected the MCP endpoint to be mounted")
	}
}
