package estimator

import (
	"context"
	"strings"

	"unnatural-go/internal/model"
)

// Estimator is an n-gram language model that can be trained with corpus
// records and queried for the surprise of a record.
type Estimator interface {
	// Train adds one stringified record. A query issued after Train
	// returns observes it.
	Train(ctx context.Context, text string) error

	// Query returns the cross-entropy of text in bits per token.
	Query(ctx context.Context, text string) (float64, error)

	// Close releases the estimator. It is safe to call more than once.
	Close() error
}

// Backend names used in logs and CorpusUnavailableError.
const (
	BackendLocal   = "local"
	BackendProcess = "process"
	BackendRemote  = "remote"
)

// TrainRequest is the body of POST /api/v1/train.
type TrainRequest struct {
	Text string `json:"text"`
}

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Text string `json:"text"`
}

// QueryResponse answers POST /api/v1/query.
type QueryResponse struct {
	Score float64 `json:"score"`
}

// ErrorResponse carries any error reported by the estimator service.
type ErrorResponse struct {
	Error string `json:"error"`
}

// checkRecord rejects text that cannot travel as one corpus record.
func checkRecord(op, text string) error {
	if strings.TrimSpace(text) == "" {
		return &model.QueryError{Op: op, Msg: "empty text"}
	}
	if strings.ContainsAny(text, "\r\n") {
		return &model.QueryError{Op: op, Msg: "text spans more than one line"}
	}
	return nil
}
