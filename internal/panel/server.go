// Package panel serves the management API of a running process: the
// automations, their runs, and a Server-Sent Events stream of run updates.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/pkg/schema"
)

// Runner triggers and replays runs.
type Runner interface {
	TriggerByName(ctx context.Context, nameOrID string, payload any) (*run.Run, error)
	Replay(ctx context.Context, runID string) (*run.Run, error)
}

// Automations is the read side of the loaded app.
type Automations interface {
	FindAutomation(nameOrID string) (*schema.Automation, error)
	ListAutomations() []*schema.Automation
}

// RunHistory is implemented by stores that keep the event log of a run.
type RunHistory interface {
	GetRunEvents(ctx context.Context, runID string, since int64) ([]*store.RunEvent, error)
}

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Runner      Runner
	Automations Automations
	Store       store.RunStore
	Hub         streaming.EventHub
	Logger      *slog.Logger
}

// PanelServer serves the management API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a PanelServer. Hub may be nil, in which case the
// event streams answer 503.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/automations", s.handleAutomations)
	mux.HandleFunc("GET /api/automations/{name}", s.handleAutomation)
	mux.HandleFunc("GET /api/automations/{name}/diagram", s.handleDiagram)
	mux.HandleFunc("POST /api/automations/{name}/trigger", s.handleTrigger)

	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /api/runs/{id}/replay", s.handleReplay)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *PanelServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln)
}

func (s *PanelServer) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.deps.Logger.Info("panel listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
