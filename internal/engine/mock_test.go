package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/internal/actions"
	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/pkg/schema"
)

// --- Mock implementations ---

// mockStore keeps runs as JSON documents so every read is a fresh copy.
type mockStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	order   []string
	creates int
	updates int
	// failNextUpdate is returned once by the next Update call.
	failNextUpdate error
	// failUpdateWhen fails every Update whose run it matches.
	failUpdateWhen func(*run.Run) error
}

func newMockStore() *mockStore {
	return &mockStore{docs: make(map[string][]byte)}
}

func (m *mockStore) Create(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[r.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", r.ID)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.docs[r.ID] = doc
	m.order = append(m.order, r.ID)
	m.creates++
	return nil
}

func (m *mockStore) Update(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNextUpdate; err != nil {
		m.failNextUpdate = nil
		return err
	}
	if m.failUpdateWhen != nil {
		if err := m.failUpdateWhen(r); err != nil {
			return err
		}
	}
	if _, ok := m.docs[r.ID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", r.ID)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.docs[r.ID] = doc
	m.updates++
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	r := &run.Run{}
	if err := json.Unmarshal(doc, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]*run.Run, error) {
	m.mu.Lock()
	ids := append([]string(nil), m.order...)
	m.mu.Unlock()

	var out []*run.Run
	for i := len(ids) - 1; i >= 0; i-- {
		r, err := m.Get(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		if filter.AutomationID != 0 && r.AutomationID != filter.AutomationID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.ToReplay != nil && r.ToReplay != *filter.ToReplay {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) Close() error { return nil }

type sentAlert struct {
	runID   string
	message string
}

type mockAlerter struct {
	mu     sync.Mutex
	alerts []sentAlert
	err    error
}

func (a *mockAlerter) SendAlert(_ context.Context, r *run.Run, _ *schema.Automation, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, sentAlert{runID: r.ID, message: message})
	return a.err
}

func (a *mockAlerter) sent() []sentAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentAlert(nil), a.alerts...)
}

var errBoom = errors.New("boom")

// scriptAction stands in for code.run-javascript: the code param names a Go
// function registered on the action.
type scriptAction struct {
	mu      sync.Mutex
	scripts map[string]func(params map[string]any) (any, error)
	calls   map[string]int
}

func newScriptAction() *scriptAction {
	s := &scriptAction{
		scripts: make(map[string]func(map[string]any) (any, error)),
		calls:   make(map[string]int),
	}
	s.set("ok", func(map[string]any) (any, error) { return map[string]any{"ok": true}, nil })
	s.set("fail", func(map[string]any) (any, error) { return nil, errBoom })
	s.set("echo", func(p map[string]any) (any, error) { return map[string]any{"value": p["value"]}, nil })
	return s
}

func (s *scriptAction) set(code string, fn func(map[string]any) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[code] = fn
}

func (s *scriptAction) count(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[code]
}

func (s *scriptAction) Name() string {
	return actions.Key(schema.ServiceCode, schema.ActionRunJavascript)
}

func (s *scriptAction) Schema() actions.ActionSchema { return actions.ActionSchema{} }

func (s *scriptAction) Validate(map[string]any) error { return nil }

func (s *scriptAction) Execute(_ context.Context, input actions.ActionInput) (*actions.ActionOutput, error) {
	code, _ := input.Params["code"].(string)
	s.mu.Lock()
	fn, ok := s.scripts[code]
	s.calls[code]++
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no script %q", code)
	}
	out, err := fn(input.Params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &actions.ActionOutput{Data: data}, nil
}

// --- Helpers ---

type harness struct {
	exec    *Executor
	store   *mockStore
	alerter *mockAlerter
	script  *scriptAction
	hub     *streaming.MemoryHub
	app     *app.App
}

func newHarness(t *testing.T, automations ...schema.Automation) *harness {
	t.Helper()

	reg := actions.NewRegistry()
	script := newScriptAction()
	require.NoError(t, reg.Register(script))
	require.NoError(t, reg.Register(actions.NewTransformAction(expressions.NewGoJQEngine())))

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	a := &app.App{
		Name: "test",
		Connections: []schema.Connection{
			{ID: 1, Name: "gmail", Service: "google-gmail"},
		},
		Automations: automations,
	}
	h := &harness{
		store:   newMockStore(),
		alerter: &mockAlerter{},
		script:  script,
		hub:     streaming.NewMemoryHub(),
		app:     a,
	}
	h.exec, err = NewExecutor(ExecutorConfig{
		App:     a,
		Store:   h.store,
		Runner:  actions.NewRunner(reg, nil, nil),
		Filters: expressions.NewFilterEvaluator(cel, nil),
		Alerter: h.alerter,
		Hub:     h.hub,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) automation(t *testing.T, name string) *schema.Automation {
	t.Helper()
	au, err := h.app.FindAutomation(name)
	require.NoError(t, err)
	return au
}

func (h *harness) stored(t *testing.T, id string) *run.Run {
	t.Helper()
	r, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func js(name, code string) schema.ActionSchema {
	return schema.ActionSchema{
		Name:    name,
		Service: schema.ServiceCode,
		Action:  schema.ActionRunJavascript,
		Params:  map[string]any{"code": code},
	}
}

func onlyContinueIf(name string, f schema.Filter) schema.ActionSchema {
	return schema.ActionSchema{
		Name:    name,
		Service: schema.ServiceFilter,
		Action:  schema.ActionOnlyContinueIf,
		Filter:  &f,
	}
}

func split(name string, paths ...schema.PathSchema) schema.ActionSchema {
	return schema.ActionSchema{
		Name:    name,
		Service: schema.ServiceFilter,
		Action:  schema.ActionSplitIntoPaths,
		Paths:   paths,
	}
}

func is(target string, value any) schema.Filter {
	return schema.Filter{Target: target, Operator: schema.OperatorIs, Value: value}
}

func webhook(id int, name string, acts ...schema.ActionSchema) schema.Automation {
	return schema.Automation{
		ID:      id,
		Name:    name,
		Trigger: schema.TriggerSchema{Service: schema.TriggerServiceWebhook, Event: schema.TriggerEventReceived},
		Actions: acts,
	}
}

func actionStep(t *testing.T, r *run.Run, path string) *run.ActionStep {
	t.Helper()
	s, err := r.GetStep(path)
	require.NoError(t, err)
	as, ok := s.(*run.ActionStep)
	require.True(t, ok, "step %q is %T", path, s)
	return as
}
