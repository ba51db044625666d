package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sovrium/sovrium/internal/streaming"
)

const notificationMethod = "notifications/message"

// RunNotifier pushes run events to the sessions watching their automation.
type RunNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewRunNotifier creates a notifier that pushes via MCP notifications.
func NewRunNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *RunNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunNotifier{mcpServer: mcpServer, sessions: sessions, logger: logger}
}

// Forward subscribes to hub and notifies watchers until ctx is done.
func (n *RunNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := n.Notify(ctx, event); err != nil {
				n.logger.WarnContext(ctx, "run notification failed",
					slog.String("run_id", event.RunID), slog.String("error", err.Error()))
			}
		}
	}
}

// Notify sends one event to every watcher of its automation. A session that
// went away is dropped from the registry.
func (n *RunNotifier) Notify(_ context.Context, event streaming.RunEvent) error {
	var errs []error
	for _, sid := range n.sessions.Watchers(event.AutomationID) {
		err := n.mcpServer.SendNotificationToSpecificClient(sid, notificationMethod, map[string]any{
			"level":  "info",
			"logger": "sovrium",
			"data":   event,
		})
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sid)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
