package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"unnatural-go/internal/model"

	"go.uber.org/zap"
)

// RemoteEstimator talks JSON over HTTP to a long-running estimator service.
// The service applies a training record before acknowledging it.
type RemoteEstimator struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRemoteEstimator takes its connection from shared.
func NewRemoteEstimator(shared *SharedContext, address string, timeout time.Duration, logger *zap.Logger) (*RemoteEstimator, error) {
	client, baseURL, err := shared.Client(address)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteEstimator{
		client:  client,
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (e *RemoteEstimator) Train(ctx context.Context, text string) error {
	if err := checkRecord("train", text); err != nil {
		return err
	}
	return e.post(ctx, "train", "/api/v1/train", TrainRequest{Text: text}, nil)
}

func (e *RemoteEstimator) Query(ctx context.Context, text string) (float64, error) {
	if err := checkRecord("query", text); err != nil {
		return 0, err
	}

	var resp QueryResponse
	if err := e.post(ctx, "query", "/api/v1/query", QueryRequest{Text: text}, &resp); err != nil {
		return 0, err
	}
	return resp.Score, nil
}

func (e *RemoteEstimator) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return &model.CorpusUnavailableError{Backend: BackendRemote, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.CorpusUnavailableError{Backend: BackendRemote, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return &model.CorpusUnavailableError{Backend: BackendRemote, Err: fmt.Errorf("%s: %s", resp.Status, errorMessage(data))}
	case resp.StatusCode >= 400:
		return &model.QueryError{Op: op, Msg: errorMessage(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &model.CorpusUnavailableError{Backend: BackendRemote, Err: fmt.Errorf("malformed %s reply: %w", op, err)}
		}
	}
	return nil
}

func errorMessage(data []byte) string {
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.Error != "" {
		return resp.Error
	}
	return string(bytes.TrimSpace(data))
}

// Close is a no-op; connections belong to the SharedContext.
func (e *RemoteEstimator) Close() error {
	return nil
}
