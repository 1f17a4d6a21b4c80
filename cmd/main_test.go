package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/protocol-gateway/internal/store"
)

func TestResolveConfig(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.toml")
	require.NoError(t, os.WriteFile(second, []byte("second"), 0o600))

	t.Run("explicit path", func(t *testing.T) {
		data, source, err := resolveConfig(second, nil)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
		assert.Equal(t, second, source)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, _, err := resolveConfig(filepath.Join(dir, "nope.yaml"), nil)
		assert.Error(t, err)
	})

	t.Run("first existing search path wins", func(t *testing.T) {
		data, source, err := resolveConfig("", []string{first, second})
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
		assert.Equal(t, second, source)

		require.NoError(t, os.WriteFile(first, []byte("first"), 0o600))
		_, source, err = resolveConfig("", []string{first, second})
		require.NoError(t, err)
		assert.Equal(t, first, source)
	})

	t.Run("embedded fallback", func(t *testing.T) {
		data, source, err := resolveConfig("", []string{filepath.Join(dir, "missing.yaml")})
		require.NoError(t, err)
		assert.Equal(t, "(embedded) config.yaml", source)
		assert.NotEmpty(t, data)
	})
}

func TestEmbeddedConfigsAreValid(t *testing.T) {
	names, err := listEmbeddedConfigs()
	require.NoError(t, err)
	assert.Equal(t, []string{"config.toml", "config.yaml"}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			data, err := getEmbeddedConfig(name)
			require.NoError(t, err)
			cfg, err := parseConfig(data, name)
			require.NoError(t, err)
			assert.Len(t, cfg.Endpoints, 3)
			assert.NotEmpty(t, cfg.Models)
			assert.True(t, cfg.Credentials.RemoveOn402())
		})
	}
}

func TestWriteExampleConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, writeExampleConfig(dest, "toml", false))
	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	embedded, _ := getEmbeddedConfig("config.toml")
	assert.Equal(t, embedded, written)

	err = writeExampleConfig(dest, "toml", false)
	assert.ErrorContains(t, err, "already exists")
	assert.NoError(t, writeExampleConfig(dest, "TOML", true))

	assert.ErrorContains(t, writeExampleConfig(dest, "ini", true), "unknown format")
}

func TestReadKeyLine(t *testing.T) {
	key, err := readKeyLine(strings.NewReader("  secret-key \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-key", key)

	key, err = readKeyLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", key)
}

func TestSetKeyCommand_WriteOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-key.json")

	run := func(args ...string) (string, error) {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(args)
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("set-key", "--key-file", path, "--key", "first-key")
	require.NoError(t, err)
	assert.Contains(t, out, "Server key saved")
	assert.True(t, store.NewFileKeyStore(path).Verify("first-key"))

	_, err = run("set-key", "--key-file", path, "--key", "second-key")
	assert.ErrorContains(t, err, "already set")
	assert.True(t, store.NewFileKeyStore(path).Verify("first-key"))
}

func TestPrintSummary(t *testing.T) {
	data, err := getEmbeddedConfig("config.yaml")
	require.NoError(t, err)
	cfg, err := parseConfig(data, "config.yaml")
	require.NoError(t, err)

	var out bytes.Buffer
	printSummary(&out, cfg, "config.yaml", 0, false)

	s := out.String()
	assert.Contains(t, s, "config.yaml")
	assert.Contains(t, s, "claude-sonnet-4-5")
	assert.Contains(t, s, "not set")
	assert.Contains(t, s, "X-Endpoint-Authorization")
}
