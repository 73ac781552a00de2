package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `2025-07-25 00:03:47.451678 [+0100]: [Cmd/5] Heartbeat sent | dsa.Heartbeat | tid=12
2025-07-25 00:03:49.000000 [+0100]: [dsa.Heartbeat/2] Heartbeat failed: connection timed out contacting 10.0.0.5:4120 | dsa.Heartbeat
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DS_ANALYZER_CONFIG", "")
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAnalyzeCommandJSON(t *testing.T) {
	path := writeLog(t, "ds_agent.log", sampleLog)

	out, err := runCLI(t, "analyze", "--no-llm", "--format", "json", path)
	require.NoError(t, err)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.NotEmpty(t, rep["summary"])
	assert.Equal(t, "high", rep["severity"])
	meta := rep["metadata"].(map[string]any)
	assert.Equal(t, "skipped", meta["completion"])
	assert.Equal(t, "ds_agent", meta["analysis_kind"])
}

func TestAnalyzeCommandYAMLDefault(t *testing.T) {
	path := writeLog(t, "ds_agent.log", sampleLog)
	out, err := runCLI(t, "analyze", "--no-llm", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "summary:")
	assert.Contains(t, out, "severity: high")
}

func TestAnalyzeCommandRejectsBadInput(t *testing.T) {
	_, err := runCLI(t, "analyze", "--no-llm")
	require.Error(t, err)

	path := writeLog(t, "ds_agent.log", sampleLog)
	_, err = runCLI(t, "analyze", "--no-llm", "--kind", "firewall", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")

	_, err = runCLI(t, "analyze", "--no-llm", "--format", "xml", path)
	require.Error(t, err)

	_, err = runCLI(t, "analyze", "--no-llm", filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
}

func TestQueriesCommand(t *testing.T) {
	path := writeLog(t, "ds_agent.log", sampleLog)
	out, err := runCLI(t, "queries", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	for _, q := range lines {
		assert.True(t, strings.HasPrefix(q, "Deep Security "), q)
	}
	assert.Contains(t, out, "dsa.Heartbeat")
}

func TestResolveKind(t *testing.T) {
	files, err := readFiles([]string{writeLog(t, "AMSP-UI.log", "x"), writeLog(t, "ds_agent.log", "y")})
	require.NoError(t, err)

	kind, err := resolveKind("", files[:1])
	require.NoError(t, err)
	assert.Equal(t, "amsp", string(kind))

	kind, err = resolveKind("", files)
	require.NoError(t, err)
	assert.Equal(t, "diagnostic_package", string(kind))
}
