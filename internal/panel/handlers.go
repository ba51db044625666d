package panel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sovrium/sovrium/internal/diagram"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/pkg/schema"
)

const (
	defaultRunsLimit = 50
	maxPayloadBytes  = 1 << 20
)

// automationSummary is one entry of the automations list.
type automationSummary struct {
	ID      int                  `json:"id"`
	Name    string               `json:"name"`
	Trigger schema.TriggerSchema `json:"trigger"`
	Actions int                  `json:"actions"`
}

// runResult is the payload of the run, trigger and replay endpoints.
type runResult struct {
	Run   *run.Run `json:"run"`
	Error string   `json:"error,omitempty"`
}

func newRunResult(r *run.Run) runResult {
	return runResult{Run: r, Error: r.ErrorMessage()}
}

func (s *PanelServer) handleAutomations(w http.ResponseWriter, _ *http.Request) {
	list := s.deps.Automations.ListAutomations()
	out := make([]automationSummary, 0, len(list))
	for _, a := range list {
		out = append(out, automationSummary{ID: a.ID, Name: a.Name, Trigger: a.Trigger, Actions: len(a.Actions)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *PanelServer) handleAutomation(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Automations.FindAutomation(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "mermaid"
	}
	if format != "mermaid" && format != "ascii" {
		writeError(w, http.StatusBadRequest, "format must be mermaid or ascii")
		return
	}
	a, err := s.deps.Automations.FindAutomation(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var overlay *run.Run
	if id := r.URL.Query().Get("run"); id != "" {
		if overlay, err = s.deps.Store.Get(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
	}
	model, err := diagram.Build(a, overlay)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := diagram.RenderMermaid(model)
	if format == "ascii" {
		out = diagram.RenderASCII(model)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, out)
}

func (s *PanelServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var payload any
	err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes)).Decode(&payload)
	switch {
	case errors.Is(err, io.EOF):
		payload = map[string]any{}
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	case payload == nil:
		payload = map[string]any{}
	}

	result, err := s.deps.Runner.TriggerByName(r.Context(), r.PathValue("name"), payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResult(result))
}

func (s *PanelServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: schema.RunStatus(q.Get("status")),
		Limit:  queryInt(r, "limit", defaultRunsLimit),
	}
	if name := q.Get("automation"); name != "" {
		a, err := s.deps.Automations.FindAutomation(name)
		if err != nil {
			writeErr(w, err)
			return
		}
		filter.AutomationID = a.ID
	}
	if raw := q.Get("queued"); raw != "" {
		queued, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "queued must be a boolean")
			return
		}
		filter.ToReplay = &queued
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []*run.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *PanelServer) handleRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResult(result))
}

func (s *PanelServer) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	history, ok := s.deps.Store.(RunHistory)
	if !ok {
		writeError(w, http.StatusNotImplemented, "the run store keeps no history")
		return
	}
	events, err := history.GetRunEvents(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []*store.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *PanelServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Runner.Replay(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResult(result))
}
