package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseConfig(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, setupFlags(cmd, v))
	require.NoError(t, cmd.PersistentFlags().Parse(args))
	return loadConfig(v)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(t)
	require.NoError(t, err)

	assert.Equal(t, "app.json", cfg.AppFile)
	assert.Equal(t, storeLibSQL, cfg.Store)
	assert.Equal(t, "sovrium.db", cfg.DBPath)
	assert.Equal(t, []string{"localhost:6379"}, cfg.RedisAddrs)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Scheduler)
	assert.False(t, cfg.MCP)
	assert.Equal(t, 5*time.Second, cfg.ReplayInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 10*time.Second, cfg.CodeTimeout)
	assert.Empty(t, cfg.SMTPTo)
}

func TestLoadConfig_Flags(t *testing.T) {
	cfg, err := parseConfig(t,
		"--store", "redis",
		"--redis-addr", "a:6379, b:6379",
		"--smtp-to", "ops@example.com,dev@example.com",
		"--replay-interval", "1m",
		"--mcp",
	)
	require.NoError(t, err)

	assert.Equal(t, storeRedis, cfg.Store)
	assert.Equal(t, []string{"a:6379", "b:6379"}, cfg.RedisAddrs)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, cfg.SMTPTo)
	assert.Equal(t, time.Minute, cfg.ReplayInterval)
	assert.True(t, cfg.MCP)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sovrium.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log-level: debug\ndb-path: from-file.db\nredis-namespace: file\n"), 0o644))

	t.Setenv("SOVRIUM_DB_PATH", "from-env.db")
	t.Setenv("SOVRIUM_REDIS_NAMESPACE", "env")

	cfg, err := parseConfig(t, "--config", file, "--redis-namespace", "flag")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "file beats default")
	assert.Equal(t, "from-env.db", cfg.DBPath, "env beats file")
	assert.Equal(t, "flag", cfg.RedisNamespace, "flag beats env")
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown store", []string{"--store", "mongo"}},
		{"missing db path", []string{"--db-path", ""}},
		{"missing redis addr", []string{"--store", "redis", "--redis-addr", " , "}},
		{"missing app file", []string{"--app-file", ""}},
		{"missing config file", []string{"--config", "/does/not/exist.yaml"}},
		{"vault passphrase without salt", []string{"--vault-passphrase", "pass"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b "))
}

func TestLoadConfig_Integrations(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sovrium.yaml")
	doc := `
integrations:
  - service: google-gmail
    command: /usr/local/bin/gmail-mcp
    args: ["--stdio"]
    env: ["GMAIL_SCOPE=send"]
`
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o644))

	cfg, err := parseConfig(t, "--config", file)
	require.NoError(t, err)
	require.Len(t, cfg.Integrations, 1)
	assert.Equal(t, "google-gmail", cfg.Integrations[0].Service)
	assert.Equal(t, "/usr/local/bin/gmail-mcp", cfg.Integrations[0].Command)
	assert.Equal(t, []string{"--stdio"}, cfg.Integrations[0].Args)
	assert.Equal(t, []string{"GMAIL_SCOPE=send"}, cfg.Integrations[0].Env)
}

func TestLoadConfig_IntegrationWithoutCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sovrium.yaml")
	require.NoError(t, os.WriteFile(file, []byte("integrations:\n  - service: notion\n"), 0o644))

	_, err := parseConfig(t, "--config", file)
	assert.Error(t, err)
}
