package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/amaranthine/internal/config"
	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/search"
	"github.com/dshills/amaranthine/internal/store"
)

const (
	// ServerName is the MCP server name
	ServerName = "amaranthine"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	dir    string
	log    *datalog.Log
	cache  *corpus.Cache
	engine *search.Engine
	coord  *store.Coordinator
	logger *slog.Logger
}

// NewServer creates a new MCP server instance over one data directory.
func NewServer(dir string) (*Server, error) {
	dir, err := config.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	settings, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	// stdout is reserved for the protocol; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	l := datalog.New(dir)
	if err := l.Ensure(); err != nil {
		return nil, err
	}
	cache := corpus.NewCache(l)

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		dir:    dir,
		log:    l,
		cache:  cache,
		engine: search.NewEngine(dir, l, cache, settings),
		coord:  store.New(dir, l, cache, settings, logger),
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until the stream closes.
func (s *Server) Serve(ctx context.Context) error {
	_ = ctx // the stdio server runs until stdin closes
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(storeTool(), s.handleStore)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(deleteTool(), s.handleDelete)
	s.mcp.AddTool(updateTool(), s.handleUpdate)
	s.mcp.AddTool(getEntryTool(), s.handleGetEntry)
	s.mcp.AddTool(listTopicsTool(), s.handleListTopics)
	s.mcp.AddTool(statsTool(), s.handleStats)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(compactTool(), s.handleCompact)
	s.mcp.AddTool(exportTool(), s.handleExport)
}
