package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"unnatural-go/internal/model"
	"unnatural-go/internal/service/estimator"
	"unnatural-go/internal/service/sourcemodel"
	"unnatural-go/internal/service/tokenizer"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeCorpus struct {
	trained []string
	err     error
}

func (c *fakeCorpus) AppendTrainingText(ctx context.Context, text string) error {
	if c.err != nil {
		return c.err
	}
	if strings.TrimSpace(text) == "" {
		return &model.QueryError{Op: "train", Msg: "empty text"}
	}
	c.trained = append(c.trained, text)
	return nil
}

func (c *fakeCorpus) QueryCorpus(ctx context.Context, text string) (float64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return float64(strings.Count(text, "x")), nil
}

func (c *fakeCorpus) Release() error { return nil }

func newTestRouter(t *testing.T, corpus *fakeCorpus) *gin.Engine {
	t.Helper()
	registry, err := tokenizer.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("Failed to create tokenizer registry: %v", err)
	}
	t.Cleanup(registry.Close)

	source := sourcemodel.NewSourceModel(corpus, registry, sourcemodel.Options{WindowSize: 3}, zap.NewNop())
	ec := NewEstimatorController(corpus, source, zap.NewNop())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/train", ec.Train)
	router.POST("/query", ec.Query)
	router.POST("/querySource", ec.QuerySource)
	router.POST("/rankWindows", ec.RankWindows)
	router.GET("/health", ec.Health)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEstimatorController_TrainAndQuery(t *testing.T) {
	corpus := &fakeCorpus{}
	router := newTestRouter(t, corpus)

	w := do(t, router, http.MethodPost, "/train", estimator.TrainRequest{Text: "x = 1 <ENDMARKER>"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from train, got %d: %s", w.Code, w.Body)
	}
	if len(corpus.trained) != 1 {
		t.Fatalf("Expected one trained record, got %v", corpus.trained)
	}

	w = do(t, router, http.MethodPost, "/query", estimator.QueryRequest{Text: "x + x"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from query, got %d: %s", w.Code, w.Body)
	}
	var resp estimator.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Score != 2 {
		t.Fatalf("Expected score 2, got %f", resp.Score)
	}
}

func TestEstimatorController_ErrorStatus(t *testing.T) {
	router := newTestRouter(t, &fakeCorpus{})

	w := do(t, router, http.MethodPost, "/train", estimator.TrainRequest{Text: " "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for rejected text, got %d", w.Code)
	}
	var resp estimator.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(resp.Error, "empty text") {
		t.Fatalf("Expected the rejection message, got %q", resp.Error)
	}

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed JSON, got %d", rec.Code)
	}

	down := newTestRouter(t, &fakeCorpus{err: &model.CorpusUnavailableError{Backend: "process", Err: errors.New("exited")}})
	if w := do(t, down, http.MethodPost, "/query", estimator.QueryRequest{Text: "a"}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 when the estimator is down, got %d", w.Code)
	}
	released := newTestRouter(t, &fakeCorpus{err: model.ErrReleased})
	if w := do(t, released, http.MethodPost, "/train", estimator.TrainRequest{Text: "a <ENDMARKER>"}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 after release, got %d", w.Code)
	}
}

func TestEstimatorController_QuerySource(t *testing.T) {
	router := newTestRouter(t, &fakeCorpus{})

	w := do(t, router, http.MethodPost, "/querySource", QuerySourceRequest{Source: "x = x + 1\n", Language: "python"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp QuerySourceResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Score != 2 || resp.Lexemes != 7 {
		t.Fatalf("Unexpected response %+v", resp)
	}

	w = do(t, router, http.MethodPost, "/querySource", QuerySourceRequest{Source: "x", Language: "cobol"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for an unknown language, got %d", w.Code)
	}
	w = do(t, router, http.MethodPost, "/querySource", map[string]string{"language": "python"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without source, got %d", w.Code)
	}
}

func TestEstimatorController_RankWindows(t *testing.T) {
	router := newTestRouter(t, &fakeCorpus{})

	w := do(t, router, http.MethodPost, "/rankWindows", RankWindowsRequest{Source: "a = b + x + x\n", Top: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	var ranking sourcemodel.Ranking
	if err := json.Unmarshal(w.Body.Bytes(), &ranking); err != nil {
		t.Fatalf("Failed to decode ranking: %v", err)
	}
	if ranking.WindowSize != 3 || len(ranking.Windows) != 2 {
		t.Fatalf("Unexpected ranking %+v", ranking)
	}
	if ranking.Windows[0].Text != "x + x" || ranking.Windows[0].Score < ranking.Windows[1].Score {
		t.Fatalf("Expected the worst window first, got %+v", ranking.Windows)
	}

	w = do(t, router, http.MethodPost, "/rankWindows", RankWindowsRequest{Source: "a\n", WindowSize: 50})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for input shorter than the window, got %d", w.Code)
	}
}

func TestEstimatorController_Health(t *testing.T) {
	router := newTestRouter(t, &fakeCorpus{})
	if w := do(t, router, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
}
