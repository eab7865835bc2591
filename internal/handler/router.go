package handler

import (
	"net/http"
	"runtime/debug"

	"unnatural-go/internal/controller"
	"unnatural-go/internal/service/estimator"
	"unnatural-go/pkg/mcp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter builds the estimator service. mcpServer may be nil.
func SetupRouter(estimatorController *controller.EstimatorController, mcpServer *mcp.NaturalnessServer, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(CustomRecoveryMiddleware(logger))
	router.Use(LoggerMiddleware(logger))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/train", estimatorController.Train)
		v1.POST("/query", estimatorController.Query)
		v1.POST("/querySource", estimatorController.QuerySource)
		v1.POST("/rankWindows", estimatorController.RankWindows)
		v1.GET("/health", estimatorController.Health)
	}

	if mcpServer != nil {
		mcpServer.SetupHTTPRoutes(router)
	}

	return router
}

func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func CustomRecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("stack", string(debug.Stack())),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.JSON(http.StatusInternalServerError, estimator.ErrorResponse{Error: "Internal server error"})
				c.Abort()
			}
		}()
		c.Next()
	}
}
