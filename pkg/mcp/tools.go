package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/pkg/schema"
)

const defaultRunsLimit = 50

// runResult is the payload of the trigger, run and replay tools.
type runResult struct {
	Run   *run.Run `json:"run"`
	Error string   `json:"error,omitempty"`
}

func newRunResult(r *run.Run) runResult {
	return runResult{Run: r, Error: r.ErrorMessage()}
}

func (s *Server) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("automation")
	if err != nil {
		return mcp.NewToolResultError("automation is required"), nil
	}
	payload := req.GetArguments()["payload"]
	if payload == nil {
		payload = map[string]any{}
	}

	r, runErr := s.runner.TriggerByName(ctx, name, payload)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trigger failed: %s", schema.Message(runErr))), nil
	}
	return marshalResult(newRunResult(r))
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	r, getErr := s.store.Get(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %s", schema.Message(getErr))), nil
	}
	return marshalResult(newRunResult(r))
}

func (s *Server) handleReplay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	r, replayErr := s.runner.Replay(ctx, runID)
	if replayErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("replay failed: %s", schema.Message(replayErr))), nil
	}
	return marshalResult(newRunResult(r))
}

func (s *Server) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.RunFilter{
		Status: schema.RunStatus(req.GetString("status", "")),
		Limit:  req.GetInt("limit", defaultRunsLimit),
	}

	if name := req.GetString("automation", ""); name != "" {
		automation, err := s.automations.FindAutomation(name)
		if err != nil {
			return mcp.NewToolResultError(schema.Message(err)), nil
		}
		filter.AutomationID = automation.ID
	}
	if raw, ok := req.GetArguments()["to_replay"].(bool); ok {
		filter.ToReplay = &raw
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %s", schema.Message(err))), nil
	}
	if runs == nil {
		runs = []*run.Run{}
	}
	return marshalResult(runs)
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	history, ok := s.store.(RunHistory)
	if !ok {
		return mcp.NewToolResultError("the run store keeps no history"), nil
	}

	events, evErr := history.GetRunEvents(ctx, runID, int64(req.GetInt("since", 0)))
	if evErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history lookup failed: %s", schema.Message(evErr))), nil
	}
	if events == nil {
		events = []*store.RunEvent{}
	}
	return marshalResult(events)
}

func (s *Server) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("automation")
	if err != nil {
		return mcp.NewToolResultError("automation is required"), nil
	}
	automation, findErr := s.automations.FindAutomation(name)
	if findErr != nil {
		return mcp.NewToolResultError(schema.Message(findErr)), nil
	}

	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("watching requires a client session"), nil
	}

	stop := req.GetBool("stop", false)
	if stop {
		s.sessions.Unwatch(automation.ID, session.SessionID())
	} else {
		s.sessions.Watch(automation.ID, session.SessionID())
	}
	return marshalResult(map[string]any{
		"automation_id": automation.ID,
		"watching":      !stop,
	})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
