package controller

import (
	"errors"
	"net/http"

	"unnatural-go/internal/model"
	"unnatural-go/internal/service/estimator"
	"unnatural-go/internal/service/sourcemodel"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EstimatorController serves the estimator wire protocol plus source-level
// queries over one shared source model.
type EstimatorController struct {
	corpus sourcemodel.Corpus
	source *sourcemodel.SourceModel
	logger *zap.Logger
}

func NewEstimatorController(corpus sourcemodel.Corpus, source *sourcemodel.SourceModel, logger *zap.Logger) *EstimatorController {
	return &EstimatorController{
		corpus: corpus,
		source: source,
		logger: logger,
	}
}

type QuerySourceRequest struct {
	Source   string `json:"source" binding:"required"`
	Language string `json:"language"`
}

type QuerySourceResponse struct {
	Score   float64 `json:"score"`
	Lexemes int     `json:"lexemes"`
}

type RankWindowsRequest struct {
	Source     string `json:"source" binding:"required"`
	Language   string `json:"language"`
	WindowSize int    `json:"window_size"`
	Top        int    `json:"top"`
}

// statusFor maps the error taxonomy onto HTTP status codes. Remote
// estimators read 4xx as a rejected request and 5xx as unavailability.
func statusFor(err error) int {
	var (
		queryErr    *model.QueryError
		tokenizeErr *model.TokenizeError
		tokenErr    *model.UnknownTokenTypeError
	)
	switch {
	case errors.As(err, &queryErr), errors.As(err, &tokenizeErr), errors.As(err, &tokenErr),
		errors.Is(err, model.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrCorpusUnavailable), errors.Is(err, model.ErrReleased):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (ec *EstimatorController) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		ec.logger.Error(msg, zap.Error(err))
	} else {
		ec.logger.Debug(msg, zap.Error(err))
	}
	c.JSON(status, estimator.ErrorResponse{Error: err.Error()})
}

func (ec *EstimatorController) badRequest(c *gin.Context, err error) {
	ec.logger.Error("Invalid request payload", zap.Error(err))
	c.JSON(http.StatusBadRequest, estimator.ErrorResponse{Error: "invalid request payload: " + err.Error()})
}

// Train appends one stringified record and answers once the model has it.
func (ec *EstimatorController) Train(c *gin.Context) {
	var request estimator.TrainRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		ec.badRequest(c, err)
		return
	}

	if err := ec.corpus.AppendTrainingText(c.Request.Context(), request.Text); err != nil {
		ec.fail(c, "Failed to train", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Query scores one stringified record.
func (ec *EstimatorController) Query(c *gin.Context) {
	var request estimator.QueryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		ec.badRequest(c, err)
		return
	}

	score, err := ec.corpus.QueryCorpus(c.Request.Context(), request.Text)
	if err != nil {
		ec.fail(c, "Failed to query", err)
		return
	}
	c.JSON(http.StatusOK, estimator.QueryResponse{Score: score})
}

// QuerySource scores a whole source text.
func (ec *EstimatorController) QuerySource(c *gin.Context) {
	var request QuerySourceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		ec.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	seq, err := ec.source.Lex(ctx, request.Language, []byte(request.Source))
	if err != nil {
		ec.fail(c, "Failed to tokenize source", err)
		return
	}
	score, err := ec.source.QuerySequence(ctx, seq)
	if err != nil {
		ec.fail(c, "Failed to query source", err)
		return
	}

	c.JSON(http.StatusOK, QuerySourceResponse{Score: score, Lexemes: len(seq.Significant())})
}

// RankWindows ranks the windows of a source text, worst first.
func (ec *EstimatorController) RankWindows(c *gin.Context) {
	var request RankWindowsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		ec.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	seq, err := ec.source.Lex(ctx, request.Language, []byte(request.Source))
	if err != nil {
		ec.fail(c, "Failed to tokenize source", err)
		return
	}
	ranking, err := ec.source.Rank(ctx, seq, request.WindowSize, request.Top)
	if err != nil {
		ec.fail(c, "Failed to rank windows", err)
		return
	}

	ec.logger.Debug("Ranked windows",
		zap.Int("window_size", ranking.WindowSize),
		zap.Int("windows", ranking.Stats.Count))
	c.JSON(http.StatusOK, ranking)
}

func (ec *EstimatorController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
