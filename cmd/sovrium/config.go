package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sovrium/sovrium/internal/plugins"
)

// Config holds the process configuration.
// Priority: flags > SOVRIUM_* env vars > config file > defaults.
type Config struct {
	AppFile string

	Store          string
	DBPath         string
	RedisAddrs     []string
	RedisPassword  string
	RedisNamespace string

	LogLevel string
	LogJSON  bool

	Scheduler      bool
	ReplayInterval time.Duration

	SMTPAddr     string
	SMTPFrom     string
	SMTPTo       []string
	SMTPUsername string
	SMTPPassword string

	HTTPTimeout time.Duration
	CodeTimeout time.Duration

	MCP       bool
	PanelAddr string

	VaultPassphrase string
	VaultSalt       string

	// Integrations are read from the config file only.
	Integrations []plugins.PluginConfig
}

const (
	storeLibSQL = "libsql"
	storeRedis  = "redis"
)

func setupFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a config file (any format viper reads).")
	flags.String("app-file", "app.json", "Path to the app JSON file.")
	flags.String("store", storeLibSQL, "Run store: libsql or redis.")
	flags.String("db-path", "sovrium.db", "libSQL database path.")
	flags.String("redis-addr", "localhost:6379", "Comma separated list of redis host:port.")
	flags.String("redis-password", "", "Redis password.")
	flags.String("redis-namespace", "sovrium", "Namespace of the redis keys.")
	flags.String("log-level", "info", "Log level: debug, info, warn or error.")
	flags.Bool("log-json", false, "Log JSON records instead of text.")
	flags.Bool("scheduler", true, "Fire schedule triggers.")
	flags.Duration("replay-interval", 5*time.Second, "Poll interval of the replay queue.")
	flags.String("smtp-addr", "", "SMTP host:port for failure alerts. Alerts are only logged when empty.")
	flags.String("smtp-from", "", "Sender of failure alerts.")
	flags.StringSlice("smtp-to", nil, "Recipients of failure alerts.")
	flags.String("smtp-username", "", "SMTP username.")
	flags.String("smtp-password", "", "SMTP password.")
	flags.Duration("http-timeout", 30*time.Second, "Default timeout of http actions.")
	flags.Duration("code-timeout", 10*time.Second, "Timeout of code actions.")
	flags.Bool("mcp", false, "Serve the MCP tools on stdio.")
	flags.String("panel-addr", "", "Listen address of the HTTP panel API, e.g. :8080. Disabled when empty.")
	flags.String("vault-passphrase", "", "Passphrase of the secrets vault. Secret references fail when empty.")
	flags.String("vault-salt", "", "Salt of the vault key derivation.")

	v.SetEnvPrefix("sovrium")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(flags)
}

func loadConfig(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		AppFile:        v.GetString("app-file"),
		Store:          strings.ToLower(v.GetString("store")),
		DBPath:         v.GetString("db-path"),
		RedisAddrs:     splitList(v.GetString("redis-addr")),
		RedisPassword:  v.GetString("redis-password"),
		RedisNamespace: v.GetString("redis-namespace"),
		LogLevel:       v.GetString("log-level"),
		LogJSON:        v.GetBool("log-json"),
		Scheduler:      v.GetBool("scheduler"),
		ReplayInterval: v.GetDuration("replay-interval"),
		SMTPAddr:       v.GetString("smtp-addr"),
		SMTPFrom:       v.GetString("smtp-from"),
		SMTPTo:         splitList(strings.Join(v.GetStringSlice("smtp-to"), ",")),
		SMTPUsername:   v.GetString("smtp-username"),
		SMTPPassword:   v.GetString("smtp-password"),
		HTTPTimeout:    v.GetDuration("http-timeout"),
		CodeTimeout:    v.GetDuration("code-timeout"),
		MCP:            v.GetBool("mcp"),
		PanelAddr:      v.GetString("panel-addr"),

		VaultPassphrase: v.GetString("vault-passphrase"),
		VaultSalt:       v.GetString("vault-salt"),
	}
	if err := v.UnmarshalKey("integrations", &cfg.Integrations); err != nil {
		return cfg, fmt.Errorf("read integrations: %w", err)
	}
	for i, pc := range cfg.Integrations {
		if pc.Service == "" || pc.Command == "" {
			return cfg, fmt.Errorf("integrations[%d] needs a service and a command", i)
		}
	}

	switch cfg.Store {
	case storeLibSQL:
		if cfg.DBPath == "" {
			return cfg, fmt.Errorf("db-path is required for the libsql store")
		}
	case storeRedis:
		if len(cfg.RedisAddrs) == 0 {
			return cfg, fmt.Errorf("redis-addr is required for the redis store")
		}
	default:
		return cfg, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.VaultPassphrase != "" && cfg.VaultSalt == "" {
		return cfg, fmt.Errorf("vault-salt is required with vault-passphrase")
	}
	if cfg.AppFile == "" {
		return cfg, fmt.Errorf("app-file is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
