package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"unnatural-go/internal/config"
	"unnatural-go/internal/service/sourcemodel"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// NaturalnessServer exposes the source model as MCP tools.
type NaturalnessServer struct {
	server  *mcp.Server
	source  *sourcemodel.SourceModel
	config  *config.Config
	logger  *zap.Logger
	handler *mcp.StreamableHTTPHandler

	listener   net.Listener
	standalone *http.Server
}

type QueryCodeParams struct {
	Code     string `json:"code" jsonschema:"the source code to score"`
	Language string `json:"language,omitempty" jsonschema:"language of the code: python, go, java, javascript or typescript"`
}

type RankWindowsParams struct {
	Code       string `json:"code" jsonschema:"the source code whose windows to rank"`
	Language   string `json:"language,omitempty" jsonschema:"language of the code: python, go, java, javascript or typescript"`
	WindowSize int    `json:"window_size,omitempty" jsonschema:"number of tokens per window"`
	Top        int    `json:"top,omitempty" jsonschema:"number of windows to return, worst first"`
}

func NewNaturalnessServer(source *sourcemodel.SourceModel, cfg *config.Config, logger *zap.Logger) *NaturalnessServer {
	server := &NaturalnessServer{
		source: source,
		config: cfg,
		logger: logger,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "Unnatural",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "queryCode",
		Description: "Score how surprising a piece of code is against the trained corpus. Returns the cross-entropy in bits per token; higher means more unusual",
	}, server.handleQueryCode)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "rankWindows",
		Description: "Rank fixed-size token windows of a piece of code by how surprising they are. The first window is the most likely location of a syntax or logic error",
	}, server.handleRankWindows)

	server.handler = mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	server.server = mcpServer
	return server
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (s *NaturalnessServer) handleQueryCode(ctx context.Context, req *mcp.CallToolRequest, args QueryCodeParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling queryCode request", zap.String("language", args.Language), zap.Int("bytes", len(args.Code)))

	seq, err := s.source.Lex(ctx, args.Language, []byte(args.Code))
	if err != nil {
		return textResult(fmt.Sprintf("Failed to tokenize code: %v", err)), nil, nil
	}
	score, err := s.source.QuerySequence(ctx, seq)
	if err != nil {
		s.logger.Error("Failed to query code", zap.Error(err))
		return textResult(fmt.Sprintf("Failed to score code: %v", err)), nil, nil
	}

	return textResult(fmt.Sprintf("Cross-entropy: %.4f bits/token over %d tokens", score, len(seq.Significant()))), nil, nil
}

func (s *NaturalnessServer) handleRankWindows(ctx context.Context, req *mcp.CallToolRequest, args RankWindowsParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling rankWindows request", zap.String("language", args.Language), zap.Int("window_size", args.WindowSize))

	top := args.Top
	if top < 1 {
		top = 5
	}

	seq, err := s.source.Lex(ctx, args.Language, []byte(args.Code))
	if err != nil {
		return textResult(fmt.Sprintf("Failed to tokenize code: %v", err)), nil, nil
	}
	ranking, err := s.source.Rank(ctx, seq, args.WindowSize, top)
	if err != nil {
		s.logger.Error("Failed to rank windows", zap.Error(err))
		return textResult(fmt.Sprintf("Failed to rank windows: %v", err)), nil, nil
	}

	return textResult(ranking.String()), nil, nil
}

// SetupHTTPRoutes mounts the MCP endpoint at /mcp and, when enabled,
// serves it on its own listener as well.
func (s *NaturalnessServer) SetupHTTPRoutes(router *gin.Engine) {
	router.Any("/mcp", gin.WrapH(s.handler))

	if !s.config.Mcp.Enabled {
		return
	}
	listener, err := net.Listen("tcp", s.config.Mcp.GetAddress())
	if err != nil {
		s.logger.Error("MCP server failed to listen", zap.String("address", s.config.Mcp.GetAddress()), zap.Error(err))
		return
	}
	s.listener = listener
	s.standalone = &http.Server{Handler: s.handler}

	s.logger.Info("MCP server going to listen", zap.String("address", listener.Addr().String()))
	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("MCP server failed", zap.Error(err))
		}
	}(s.standalone)
}

// Shutdown stops the standalone MCP listener, if one was started.
func (s *NaturalnessServer) Shutdown(ctx context.Context) error {
	if s.standalone == nil {
		return nil
	}
	return s.standalone.Shutdown(ctx)
}
