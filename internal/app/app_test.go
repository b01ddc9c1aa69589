package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigValidation(t *testing.T) {
	t.Run("requires rules path", func(t *testing.T) {
		_, err := NewConfig(Config{StorePath: "s"})
		require.ErrorContains(t, err, "RulesPath")
	})

	t.Run("requires store path", func(t *testing.T) {
		_, err := NewConfig(Config{RulesPath: "r"})
		require.ErrorContains(t, err, "StorePath")
	})

	t.Run("rejects unknown backend", func(t *testing.T) {
		_, err := NewConfig(Config{RulesPath: "r", StorePath: "s", StoreBackend: "redis"})
		require.ErrorContains(t, err, "unknown store backend")
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewConfig(Config{RulesPath: "r", StorePath: "s"})
		require.NoError(t, err)
		assert.Equal(t, BackendFile, cfg.StoreBackend)
		assert.Equal(t, 1, cfg.WorkerCount)
	})
}

// newTestApp wires an App over real files with the builtin command adapter.
func newTestApp(t *testing.T, dir, rules string, mutate func(*Config)) (*App, *bytes.Buffer) {
	t.Helper()
	rulesPath := filepath.Join(dir, "rules.hcl")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0o600))

	cfg, err := NewConfig(Config{
		RulesPath: rulesPath,
		StorePath: filepath.Join(dir, ".staleguard"),
		LogFormat: "text",
		LogLevel:  "error",
	})
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	var out bytes.Buffer
	return NewApp(&out, cfg), &out
}

func TestAppRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "greeting.txt")
	artifact := filepath.Join(dir, "greeting.upper")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o600))

	rules := fmt.Sprintf(`
source "%s" {}

output "%s" {
  executor = "command"
  inputs   = ["%s"]
  command  = ["sh", "-c", "tr a-z A-Z < %s > %s"]
}
`, src, artifact, src, src, artifact)

	a, out := newTestApp(t, dir, rules, nil)
	require.NoError(t, a.Run(context.Background()))

	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(data))
	assert.Contains(t, out.String(), "rebuilt")

	// Second run reuses the cache; the artifact is not re-produced.
	require.NoError(t, os.Remove(artifact))
	a2, out2 := newTestApp(t, dir, rules, nil)
	require.NoError(t, a2.Run(context.Background()))
	assert.Contains(t, out2.String(), "fresh-reused")
	assert.NoFileExists(t, artifact, "a fresh output must not re-run its command")
}

func TestAppRunFailedOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	rules := fmt.Sprintf(`
source "%s" {}

output "broken" {
  executor = "command"
  inputs   = ["%s"]
  command  = ["sh", "-c", "exit 1"]
}
`, src, src)

	a, out := newTestApp(t, dir, rules, nil)
	err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrOutputsFailed)
	assert.Contains(t, out.String(), "failed")
}

func TestAppDryRunExecutesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	marker := filepath.Join(dir, "ran.marker")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	rules := fmt.Sprintf(`
source "%s" {}

output "out" {
  executor = "command"
  inputs   = ["%s"]
  command  = ["touch", "%s"]
}
`, src, src, marker)

	a, out := newTestApp(t, dir, rules, func(cfg *Config) { cfg.DryRun = true })
	require.NoError(t, a.Run(context.Background()))

	assert.Contains(t, out.String(), "would rebuild out")
	assert.Contains(t, out.String(), "no-record")
	assert.NoFileExists(t, marker)
}

func TestAppBadgerBackend(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	rules := fmt.Sprintf(`
source "%s" {}

output "out" {
  executor = "command"
  inputs   = ["%s"]
  command  = ["true"]
}
`, src, src)

	mutate := func(cfg *Config) { cfg.StoreBackend = BackendBadger }

	a, out := newTestApp(t, dir, rules, mutate)
	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, out.String(), "rebuilt")

	a2, out2 := newTestApp(t, dir, rules, mutate)
	require.NoError(t, a2.Run(context.Background()))
	assert.Contains(t, out2.String(), "fresh-reused")
}

func TestAppBadRulesPath(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestApp(t, dir, `source "a.txt" {}`, func(cfg *Config) {
		cfg.RulesPath = filepath.Join(dir, "missing.hcl")
	})
	err := a.Run(context.Background())
	require.ErrorContains(t, err, "failed to load rule set")
}
