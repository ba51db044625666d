package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sovrium/sovrium/internal/actions"
	"github.com/sovrium/sovrium/internal/alerting"
	"github.com/sovrium/sovrium/internal/app"
	"github.com/sovrium/sovrium/internal/engine"
	"github.com/sovrium/sovrium/internal/expressions"
	"github.com/sovrium/sovrium/internal/logging"
	"github.com/sovrium/sovrium/internal/plugins"
	"github.com/sovrium/sovrium/internal/secrets"
	"github.com/sovrium/sovrium/internal/store"
	"github.com/sovrium/sovrium/internal/streaming"
	"github.com/sovrium/sovrium/internal/validation"
)

// runStore is what the process needs from a store: runs, user records and
// vault secrets.
type runStore interface {
	store.RunStore
	actions.RecordWriter
	secrets.SecretStore
}

// components is the wired process.
type components struct {
	cfg      Config
	logger   *slog.Logger
	app      *app.App
	store    runStore
	hub      *streaming.MemoryHub
	executor *engine.Executor
	plugins  *plugins.PluginManager
}

func newLogger(cfg Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(os.Stderr, level, cfg.LogJSON), nil
}

// loaded is the validated app with the action registry it was checked
// against.
type loaded struct {
	app       *app.App
	registry  *actions.Registry
	validator *validation.AppValidator
	plugins   *plugins.PluginManager
}

// loadApp builds the action registry, connects the integration plugins and
// validates the app file against the result.
func loadApp(ctx context.Context, cfg Config, logger *slog.Logger, records actions.RecordWriter, cel *expressions.CELEngine) (*loaded, error) {
	reg := actions.NewRegistry()
	err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{
		HTTP:    actions.HTTPConfig{DefaultTimeout: cfg.HTTPTimeout},
		Code:    actions.CodeConfig{Timeout: cfg.CodeTimeout, Logger: logger},
		Records: records,
	})
	if err != nil {
		return nil, err
	}

	pm := plugins.NewPluginManager(reg, nil, plugins.ManagerConfig{Logger: logger})
	for _, pc := range cfg.Integrations {
		if _, err := pm.LoadPlugin(ctx, pc); err != nil {
			return nil, errors.Join(fmt.Errorf("load integration %s: %w", pc.Service, err), pm.StopAll(ctx))
		}
	}

	validator, err := validation.NewAppValidator(reg, cel)
	if err != nil {
		return nil, errors.Join(err, pm.StopAll(ctx))
	}

	a, result, err := validator.Load(cfg.AppFile)
	if result != nil {
		for _, w := range result.Warnings {
			logger.Warn("app warning", slog.String("pointer", w.Pointer), slog.String("message", w.Message))
		}
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("load app %s: %w", cfg.AppFile, err), pm.StopAll(ctx))
	}
	return &loaded{app: a, registry: reg, validator: validator, plugins: pm}, nil
}

func openStore(ctx context.Context, cfg Config) (runStore, error) {
	switch cfg.Store {
	case storeRedis:
		s := store.NewRedisStore(store.RedisConfig{
			Addrs:     cfg.RedisAddrs,
			Password:  cfg.RedisPassword,
			Namespace: cfg.RedisNamespace,
		})
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
}

// newVault returns nil when no passphrase is configured.
func newVault(cfg Config, s secrets.SecretStore) (secrets.Vault, error) {
	if cfg.VaultPassphrase == "" {
		return nil, nil
	}
	return secrets.NewAESVault(s, secrets.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       []byte(cfg.VaultSalt),
	})
}

func newAlerter(cfg Config, logger *slog.Logger) (alerting.Alerter, error) {
	log := alerting.NewLogAlerter(logger)
	if cfg.SMTPAddr == "" {
		return log, nil
	}
	mail, err := alerting.NewMailAlerter(alerting.MailConfig{
		Addr:     cfg.SMTPAddr,
		From:     cfg.SMTPFrom,
		To:       cfg.SMTPTo,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, logger)
	if err != nil {
		return nil, err
	}
	return alerting.Multi{log, mail}, nil
}

// wire builds every component of the process. The caller closes the result.
func wire(ctx context.Context, cfg Config) (*components, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, logger: logger, store: s, hub: streaming.NewMemoryHub()}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	l, err := loadApp(ctx, cfg, logger, s, cel)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	c.app = l.app
	c.plugins = l.plugins

	vault, err := newVault(cfg, s)
	if err != nil {
		return nil, errors.Join(err, c.Close())
	}
	if err := secrets.ResolveConnections(ctx, vault, c.app.Connections); err != nil {
		return nil, errors.Join(err, c.Close())
	}

	alerter, err := newAlerter(cfg, logger)
	if err != nil {
		return nil, errors.Join(err, c.Close())
	}

	c.executor, err = engine.NewExecutor(engine.ExecutorConfig{
		App:     l.app,
		Store:   s,
		Runner:  actions.NewRunner(l.registry, l.validator, logger),
		Filters: expressions.NewFilterEvaluator(cel, expressions.NewInterpolator()),
		Alerter: alerter,
		Hub:     c.hub,
		Logger:  logger,
	})
	if err != nil {
		return nil, errors.Join(err, c.Close())
	}

	logger.Info("app loaded",
		slog.String("app", l.app.Name),
		slog.Int("automations", len(l.app.Automations)),
		slog.Int("actions", l.registry.Count()),
		slog.String("store", cfg.Store),
	)
	return c, nil
}

func (c *components) Close() error {
	var errs []error
	if c.plugins != nil {
		errs = append(errs, c.plugins.StopAll(context.Background()))
	}
	errs = append(errs, c.store.Close())
	return errors.Join(errs...)
}
