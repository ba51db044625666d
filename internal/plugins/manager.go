package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sovrium/sovrium/internal/actions"
	"github.com/sovrium/sovrium/pkg/schema"
)

// PluginConfig describes the MCP server that provides the actions of one
// integration service.
type PluginConfig struct {
	Service string   `mapstructure:"service" json:"service"`
	Command string   `mapstructure:"command" json:"command"`
	Args    []string `mapstructure:"args" json:"args,omitempty"`
	Env     []string `mapstructure:"env" json:"env,omitempty"`
}

// ManagerConfig tunes health checking.
type ManagerConfig struct {
	// HealthInterval between pings. Defaults to 30s.
	HealthInterval time.Duration
	// MaxFailures is the number of consecutive failed pings before a
	// restart. Defaults to 3.
	MaxFailures int
	// MaxRestartTime bounds the reconnect attempts of one restart.
	// Defaults to 5m.
	MaxRestartTime time.Duration
	Logger         *slog.Logger
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusCrashed   = "crashed"
	statusStopped   = "stopped"
)

// PluginManager connects integration plugins and registers the tools they
// serve as integration actions.
type PluginManager struct {
	registry *actions.Registry
	connect  Connector
	cfg      ManagerConfig
	plugins  map[string]*managedPlugin
	mu       sync.RWMutex
	logger   *slog.Logger
}

type managedPlugin struct {
	config   PluginConfig
	mu       sync.RWMutex
	session  Session
	status   string
	errCount int
	lastErr  string
	cancel   context.CancelFunc
	done     chan struct{}
}

func (mp *managedPlugin) current() Session {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.session
}

// NewPluginManager creates a PluginManager. A nil connector launches plugins
// as stdio subprocesses.
func NewPluginManager(registry *actions.Registry, connect Connector, cfg ManagerConfig) *PluginManager {
	if connect == nil {
		connect = StdioConnector
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.MaxRestartTime <= 0 {
		cfg.MaxRestartTime = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PluginManager{
		registry: registry,
		connect:  connect,
		cfg:      cfg,
		plugins:  make(map[string]*managedPlugin),
		logger:   cfg.Logger,
	}
}

// LoadPlugin connects the plugin, discovers its tools and registers the ones
// named after an action of its integration service. It returns the number of
// registered actions.
func (pm *PluginManager) LoadPlugin(ctx context.Context, config PluginConfig) (int, error) {
	if !schema.IsIntegrationService(config.Service) {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "unknown integration %q", config.Service)
	}
	pm.mu.Lock()
	if _, exists := pm.plugins[config.Service]; exists {
		pm.mu.Unlock()
		return 0, schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already loaded", config.Service)
	}
	pm.mu.Unlock()

	session, err := pm.connect(ctx, config)
	if err != nil {
		return 0, err
	}

	mp := &managedPlugin{config: config, session: session, status: statusHealthy}
	acts, err := pm.discover(ctx, mp)
	if err != nil {
		_ = session.Close()
		return 0, err
	}
	n, err := pm.registry.RegisterIntegration(config.Service, acts)
	if err != nil {
		_ = session.Close()
		return n, fmt.Errorf("register plugin actions: %w", err)
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	mp.cancel = cancel
	mp.done = make(chan struct{})

	pm.mu.Lock()
	pm.plugins[config.Service] = mp
	pm.mu.Unlock()

	go pm.healthCheckLoop(hctx, mp)

	pm.logger.Info("plugin loaded", slog.String("service", config.Service), slog.Int("actions", n))
	return n, nil
}

// discover lists the tools of the plugin and wraps the known ones.
func (pm *PluginManager) discover(ctx context.Context, mp *managedPlugin) ([]actions.Action, error) {
	res, err := mp.current().ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of plugin %q: %w", mp.config.Service, err)
	}

	known := schema.IntegrationActions[mp.config.Service]
	var acts []actions.Action
	for _, tool := range res.Tools {
		if !slices.Contains(known, tool.Name) {
			pm.logger.Debug("ignoring plugin tool",
				slog.String("service", mp.config.Service), slog.String("tool", tool.Name))
			continue
		}
		inputSchema, _ := json.Marshal(tool.InputSchema)
		acts = append(acts, &toolAction{
			name:        tool.Name,
			description: tool.Description,
			inputSchema: inputSchema,
			plugin:      mp,
		})
	}
	if len(acts) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"plugin %q serves none of the actions %s", mp.config.Service, strings.Join(known, ", "))
	}
	return acts, nil
}

// healthCheckLoop pings the plugin and restarts it after MaxFailures
// consecutive failures.
func (pm *PluginManager) healthCheckLoop(ctx context.Context, mp *managedPlugin) {
	defer close(mp.done)

	ticker := time.NewTicker(pm.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := mp.current().Ping(ctx)
		mp.mu.Lock()
		if err == nil {
			mp.errCount = 0
			mp.status = statusHealthy
			mp.mu.Unlock()
			continue
		}
		mp.errCount++
		mp.lastErr = err.Error()
		failures := mp.errCount
		if failures >= pm.cfg.MaxFailures {
			mp.status = statusUnhealthy
		}
		mp.mu.Unlock()

		if failures >= pm.cfg.MaxFailures {
			pm.logger.Warn("plugin unhealthy",
				slog.String("service", mp.config.Service),
				slog.Int("consecutive_errors", failures),
				slog.String("error", err.Error()),
			)
			if !pm.restartPlugin(ctx, mp) {
				return
			}
		}
	}
}

// restartPlugin reconnects with exponential backoff. Registered actions keep
// pointing at mp and pick up the new session.
func (pm *PluginManager) restartPlugin(ctx context.Context, mp *managedPlugin) bool {
	old := mp.current()
	_ = old.Close()

	mp.mu.Lock()
	mp.status = statusCrashed
	mp.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = pm.cfg.MaxRestartTime

	err := backoff.Retry(func() error {
		session, err := pm.connect(ctx, mp.config)
		if err != nil {
			pm.logger.Info("plugin restart failed",
				slog.String("service", mp.config.Service), slog.String("error", err.Error()))
			return err
		}
		mp.mu.Lock()
		mp.session = session
		mp.status = statusHealthy
		mp.errCount = 0
		mp.lastErr = ""
		mp.mu.Unlock()
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		pm.logger.Error("giving up on plugin",
			slog.String("service", mp.config.Service), slog.String("error", err.Error()))
		return false
	}
	pm.logger.Info("plugin restarted", slog.String("service", mp.config.Service))
	return true
}

// StopPlugin stops the health checks and closes the session.
func (pm *PluginManager) StopPlugin(_ context.Context, service string) error {
	pm.mu.Lock()
	mp, ok := pm.plugins[service]
	if !ok {
		pm.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not found", service)
	}
	delete(pm.plugins, service)
	pm.mu.Unlock()

	mp.cancel()
	<-mp.done

	mp.mu.Lock()
	mp.status = statusStopped
	mp.mu.Unlock()

	err := mp.current().Close()
	pm.logger.Info("plugin stopped", slog.String("service", service))
	return err
}

// StopAll stops all managed plugins.
func (pm *PluginManager) StopAll(ctx context.Context) error {
	pm.mu.RLock()
	services := make([]string, 0, len(pm.plugins))
	for s := range pm.plugins {
		services = append(services, s)
	}
	pm.mu.RUnlock()

	var lastErr error
	for _, s := range services {
		if err := pm.StopPlugin(ctx, s); err != nil {
			lastErr = err
			pm.logger.Error("failed to stop plugin",
				slog.String("service", s),
				slog.String("error", err.Error()),
			)
		}
	}
	return lastErr
}

// Status returns the current status of all managed plugins.
func (pm *PluginManager) Status() map[string]string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	result := make(map[string]string, len(pm.plugins))
	for s, mp := range pm.plugins {
		mp.mu.RLock()
		result[s] = mp.status
		mp.mu.RUnlock()
	}
	return result
}

// toolAction runs one plugin tool as an integration action. The connection
// is passed to the tool as the "connection" argument.
type toolAction struct {
	name        string
	description string
	inputSchema json.RawMessage
	plugin      *managedPlugin
}

func (a *toolAction) Name() string { return a.name }

func (a *toolAction) Schema() actions.ActionSchema {
	return actions.ActionSchema{
		InputSchema: a.inputSchema,
		Description: a.description,
	}
}

func (a *toolAction) Validate(_ map[string]any) error { return nil }

func (a *toolAction) Execute(ctx context.Context, input actions.ActionInput) (*actions.ActionOutput, error) {
	args := make(map[string]any, len(input.Params)+1)
	for k, v := range input.Params {
		args[k] = v
	}
	if input.Connection != nil {
		args["connection"] = map[string]any{
			"name":        input.Connection.Name,
			"credentials": input.Connection.Credentials,
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = a.name
	req.Params.Arguments = args

	res, err := a.plugin.current().CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s.%s: call failed", a.plugin.config.Service, a.name).WithCause(err)
	}
	text := resultText(res)
	if res.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s.%s: %s", a.plugin.config.Service, a.name, text)
	}

	if res.StructuredContent != nil {
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeActionExecution, "%s.%s: invalid output", a.plugin.config.Service, a.name).WithCause(err)
		}
		return &actions.ActionOutput{Data: data}, nil
	}
	if json.Valid([]byte(text)) {
		return &actions.ActionOutput{Data: json.RawMessage(text)}, nil
	}
	data, _ := json.Marshal(text)
	return &actions.ActionOutput{Data: data}, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t := mcp.GetTextFromContent(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
