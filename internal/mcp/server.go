package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/funnelsim/internal/config"
	"github.com/nvandessel/funnelsim/internal/constants"
	"github.com/nvandessel/funnelsim/internal/metrics"
	"github.com/nvandessel/funnelsim/internal/pathutil"
	"github.com/nvandessel/funnelsim/internal/ratelimit"
	"github.com/nvandessel/funnelsim/internal/store"
)

// Server wraps the MCP SDK server and exposes funnelsim experiments as tools.
type Server struct {
	server       *sdk.Server
	store        store.RunStore
	ownsStore    bool
	root         string
	defaults     config.Config
	allowedDirs  []string
	logger       *slog.Logger
	metrics      *metrics.Recorder
	auditLogger  *AuditLogger
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "funnelsim")
	Version string // Server version
	Root    string // Project root directory

	// Defaults are the experiment settings tool arguments override.
	// Nil uses config.Default().
	Defaults *config.Config

	// Store receives every run. Nil opens the SQLite store under Root,
	// which the server then closes.
	Store store.RunStore

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// NewServer creates a new MCP server with funnelsim tools.
func NewServer(cfg *Config) (*Server, error) {
	defaults := config.Default()
	if cfg.Defaults != nil {
		defaults = cfg.Defaults
	}

	allowed, err := pathutil.AllowedDirs(cfg.Root, constants.StateDirName)
	if err != nil {
		return nil, err
	}

	runStore, ownsStore := cfg.Store, false
	if runStore == nil {
		runStore, err = store.NewSQLiteRunStore(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		ownsStore = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		store:        runStore,
		ownsStore:    ownsStore,
		root:         cfg.Root,
		defaults:     *defaults,
		allowedDirs:  allowed,
		logger:       logger,
		metrics:      cfg.Metrics,
		auditLogger:  NewAuditLogger(cfg.Root),
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	if err := s.registerResources(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}

	return s, nil
}

// Run serves MCP over stdio until the client disconnects, the context is
// cancelled, or an interrupt arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the audit log and, if the server opened it, the store.
func (s *Server) Close() error {
	var firstErr error
	if err := s.auditLogger.Close(); err != nil {
		firstErr = err
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
