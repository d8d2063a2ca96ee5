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

	"github.com/SynergyMesh-master/KeyStonOps-sub004/mock"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCmd(t *testing.T) {
	out, err := run(t, "validate", `{ a: user { id } b: user { id } }`)
	require.NoError(t, err)
	assert.Equal(t, "operation=query depth=2 complexity=4 aliases=2\n", out)

	_, err = run(t, "validate", "--max-aliases", "1", `{ a: user { id } b: user { id } }`)
	assert.ErrorContains(t, err, "aliases")

	doc := filepath.Join(t.TempDir(), "q.graphql")
	require.NoError(t, os.WriteFile(doc, []byte(`mutation { touch }`), 0o600))
	out, err = run(t, "validate", "@"+doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "operation=mutation"))
}

func TestRequestCmd(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()
	cfg := writeConfig(t, "name: cli\nretry:\n  retries: 0\n")

	out, err := run(t, "--config", cfg, "--base-url", srv.URL, "request", "get", mock.ItemPath(9))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"9","name":"item-9"}`, out)

	out, err = run(t, "--config", cfg, "--base-url", srv.URL, "request", "post", "/items", "-d", `{"name":"x"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x"}`, out)

	_, err = run(t, "--config", cfg, "--base-url", srv.URL, "request", "get", "/limited")
	assert.ErrorContains(t, err, "429")

	_, err = run(t, "request", "get", "/x")
	assert.ErrorContains(t, err, "no base url")
}

func TestQueryCmd(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()

	out, err := run(t, "--base-url", srv.URL, "query", `{ hello }`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"{ hello }"}`, out)

	_, err = run(t, "--base-url", srv.URL, "query", "--vars", "not json", `{ hello }`)
	assert.ErrorContains(t, err, "--vars")
}

func TestProbeCmd(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()

	out, err := run(t, "--base-url", srv.URL, "probe", "--count", "2", "--interval", "1ms", mock.ItemPath(1))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "probe 1: 200")
	assert.Contains(t, lines[1], "circuit closed")
	assert.Equal(t, 2, srv.Hits("GET /items/:id"))
}

func TestPresetFlag(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()
	t.Setenv("BRIDGE_TEST_TOKEN", "abc")

	out, err := run(t, "--preset", "gitguardian", "--token-env", "BRIDGE_TEST_TOKEN", "--base-url", srv.URL, "request", "get", "/headers")
	require.NoError(t, err)
	var echoed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &echoed))
	assert.Equal(t, "Token abc", echoed["Authorization"])

	_, err = run(t, "--preset", "nowhere", "request", "get", "/x")
	assert.ErrorContains(t, err, `unknown preset "nowhere"`)
}
