package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersApp = `{
  "name": "shop",
  "automations": [{
    "name": "order-total",
    "trigger": {"service": "webhook", "event": "received", "path": "/orders"},
    "actions": [
      {"name": "total", "service": "data", "action": "compute", "params": {"expression": "trigger.price * trigger.qty"}},
      {"name": "big", "service": "filter", "action": "only-continue-if", "filter": {"expression": "steps.total > 10.0"}}
    ]
  }]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeApp(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "validate", "--app-file", writeApp(t, dir, ordersApp), "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "shop: 1 automation(s)")
}

func TestValidateCommand_Invalid(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "validate", "--app-file", writeApp(t, dir, `{"name": "shop", "automations": [{"name": "x"}]}`), "--log-level", "error")
	assert.Error(t, err)
}

func TestTriggerAndRunsCommands(t *testing.T) {
	dir := t.TempDir()
	common := []string{
		"--app-file", writeApp(t, dir, ordersApp),
		"--db-path", filepath.Join(dir, "runs.db"),
		"--log-level", "error",
	}

	out, err := execute(t, append([]string{"trigger", "order-total", "--payload", `{"price": 4, "qty": 3}`}, common...)...)
	require.NoError(t, err)

	var triggered struct {
		Run struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &triggered))
	assert.Equal(t, "success", triggered.Run.Status)

	out, err = execute(t, append([]string{"trigger", "order-total", "--payload", `{"price": 1, "qty": 3}`}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "filtered"`)

	out, err = execute(t, append([]string{"runs", "--status", "success"}, common...)...)
	require.NoError(t, err)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, triggered.Run.ID, runs[0]["id"])
}

func TestTriggerCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	common := []string{
		"--app-file", writeApp(t, dir, ordersApp),
		"--db-path", filepath.Join(dir, "runs.db"),
		"--log-level", "error",
	}

	_, err := execute(t, append([]string{"trigger", "order-total", "--payload", "{not json"}, common...)...)
	assert.Error(t, err)

	_, err = execute(t, append([]string{"trigger", "missing"}, common...)...)
	assert.Error(t, err)

	_, err = execute(t, append([]string{"replay", "no-such-run"}, common...)...)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestDiagramCommand(t *testing.T) {
	dir := t.TempDir()
	common := []string{
		"--app-file", writeApp(t, dir, ordersApp),
		"--db-path", filepath.Join(dir, "runs.db"),
		"--log-level", "error",
	}

	out, err := execute(t, append([]string{"diagram", "order-total"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `big{"big"}`)
	assert.Contains(t, out, "total --> big")

	out, err = execute(t, append([]string{"trigger", "order-total", "--payload", `{"price": 1, "qty": 3}`}, common...)...)
	require.NoError(t, err)
	var triggered struct {
		Run struct {
			ID string `json:"id"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &triggered))

	out, err = execute(t, append([]string{"diagram", "order-total", "--run", triggered.Run.ID}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "class total success")
	assert.Contains(t, out, "class big filtered")

	out, err = execute(t, append([]string{"diagram", "order-total", "--run", triggered.Run.ID, "--format", "ascii"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "[STOP]")

	_, err = execute(t, append([]string{"diagram", "order-total", "--format", "svg"}, common...)...)
	assert.Error(t, err)
}
