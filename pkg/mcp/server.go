package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/pkg/schema"
)

// Runner starts and replays runs. Satisfied by *engine.Executor.
type Runner interface {
	TriggerByName(ctx context.Context, nameOrID string, payload any) (*run.Run, error)
	Replay(ctx context.Context, runID string) (*run.Run, error)
}

// AutomationFinder resolves automations by name or id. Satisfied by *app.App.
type AutomationFinder interface {
	FindAutomation(nameOrID string) (*schema.Automation, error)
}

// RunHistory is implemented by stores that keep a per-run event log.
type RunHistory interface {
	GetRunEvents(ctx context.Context, runID string, since int64) ([]*store.RunEvent, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner      Runner
	Automations AutomationFinder
	Store       store.RunStore
	Hub         streaming.EventHub
	Logger      *slog.Logger
}

// Server wraps an MCP server with the run tool handlers.
type Server struct {
	runner      Runner
	automations AutomationFinder
	store       store.RunStore
	hub         streaming.EventHub
	logger      *slog.Logger
	sessions    *SessionRegistry
	mcpServer   *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		runner:      deps.Runner,
		automations: deps.Automations,
		store:       deps.Store,
		hub:         deps.Hub,
		logger:      logger,
		sessions:    NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"sovrium",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Sovrium runs automations. Use sovrium.trigger to start a run, sovrium.run to inspect it, sovrium.replay to resume a stopped or queued run, sovrium.runs to list runs and sovrium.watch to receive run updates of an automation."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Run events of watched automations are forwarded meanwhile.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		notifier := NewRunNotifier(s.mcpServer, s.sessions, s.logger)
		go func() {
			if err := notifier.Forward(ctx, s.hub); err != nil && ctx.Err() == nil {
				s.logger.Error("run notifier stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the watch registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: replayTool(), Handler: s.handleReplay},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

func triggerTool() mcp.Tool {
	return mcp.NewTool("sovrium.trigger",
		mcp.WithDescription("Trigger an automation and wait for its run"),
		mcp.WithString("automation", mcp.Required(), mcp.Description("Name or id of the automation")),
		mcp.WithObject("payload", mcp.Description("Trigger payload, exposed to actions as trigger")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("sovrium.run",
		mcp.WithDescription("Get a run with its steps"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func replayTool() mcp.Tool {
	return mcp.NewTool("sovrium.replay",
		mcp.WithDescription("Replay a run from its last successful step"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("sovrium.runs",
		mcp.WithDescription("List runs, newest first"),
		mcp.WithString("automation", mcp.Description("Name or id of the automation")),
		mcp.WithString("status",
			mcp.Enum(string(schema.RunStatusPlaying), string(schema.RunStatusSuccess), string(schema.RunStatusStopped), string(schema.RunStatusFiltered)),
			mcp.Description("Run status"),
		),
		mcp.WithBoolean("to_replay", mcp.Description("Only runs queued (true) or not queued (false) for replay")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 50)")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("sovrium.history",
		mcp.WithDescription("Get the event history of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithNumber("since", mcp.Description("Only events with a greater sequence")),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("sovrium.watch",
		mcp.WithDescription("Receive run updates of an automation as notifications"),
		mcp.WithString("automation", mcp.Required(), mcp.Description("Name or id of the automation")),
		mcp.WithBoolean("stop", mcp.Description("Stop watching instead")),
	)
}
