package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mailApp = `{
  "name": "crm",
  "connections": [{"name": "gmail", "service": "google-gmail", "credentials": {"token": "${{secrets.GMAIL_TOKEN}}", "user": "me"}}],
  "automations": [{
    "name": "noop",
    "trigger": {"service": "webhook", "event": "received", "path": "/noop"},
    "actions": [{"name": "echo", "service": "data", "action": "transform", "params": {"query": "."}}]
  }]
}`

func TestSecretCommands(t *testing.T) {
	dir := t.TempDir()
	common := []string{
		"--db-path", filepath.Join(dir, "runs.db"),
		"--vault-passphrase", "correct horse",
		"--vault-salt", "sovrium-test",
		"--log-level", "error",
	}

	_, err := execute(t, append([]string{"secret", "set", "GMAIL_TOKEN", "ya29.token"}, common...)...)
	require.NoError(t, err)
	_, err = execute(t, append([]string{"secret", "set", "OTHER", "x"}, common...)...)
	require.NoError(t, err)

	out, err := execute(t, append([]string{"secret", "list"}, common...)...)
	require.NoError(t, err)
	assert.Equal(t, "GMAIL_TOKEN\nOTHER\n", out)

	_, err = execute(t, append([]string{"secret", "delete", "OTHER"}, common...)...)
	require.NoError(t, err)
	_, err = execute(t, append([]string{"secret", "delete", "OTHER"}, common...)...)
	assert.Error(t, err)

	_, err = execute(t, "secret", "list", "--db-path", filepath.Join(dir, "runs.db"))
	assert.Error(t, err, "no passphrase")
}

func TestWire_ResolvesSecretCredentials(t *testing.T) {
	dir := t.TempDir()
	common := []string{
		"--db-path", filepath.Join(dir, "runs.db"),
		"--vault-passphrase", "correct horse",
		"--vault-salt", "sovrium-test",
		"--log-level", "error",
	}
	_, err := execute(t, append([]string{"secret", "set", "GMAIL_TOKEN", "ya29.token"}, common...)...)
	require.NoError(t, err)

	cfg, err := parseConfig(t, append([]string{"--app-file", writeApp(t, dir, mailApp)}, common...)...)
	require.NoError(t, err)
	comp, err := wire(context.Background(), cfg)
	require.NoError(t, err)
	defer comp.Close()

	conn, err := comp.app.FindConnection("gmail")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token": "ya29.token", "user": "me"}, conn.Credentials)
}

func TestWire_SecretReferenceWithoutVault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parseConfig(t,
		"--app-file", writeApp(t, dir, mailApp),
		"--db-path", filepath.Join(dir, "runs.db"),
		"--log-level", "error",
	)
	require.NoError(t, err)

	_, err = wire(context.Background(), cfg)
	assert.ErrorContains(t, err, "no vault is configured")
}
