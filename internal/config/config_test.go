// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/fedquery/internal/security"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Generator.Backend)
	assert.Equal(t, 5, cfg.Generator.RowLimit)
	assert.Equal(t, 1000, cfg.Executor.MaxRows)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
data_dir = "/srv/plant"

[generator]
backend = "genai"
row_limit = 10

[ollama]
model = "mistral"

[log]
level = "debug"
`)
	t.Setenv("FEDQUERY_OLLAMA_MODEL", "qwen2.5-coder")
	t.Setenv("FEDQUERY_AUDIT_ENABLED", "false")
	t.Setenv("FEDQUERY_MAX_ROWS", "-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/plant", cfg.DataDir)
	assert.Equal(t, "genai", cfg.Generator.Backend)
	assert.Equal(t, 10, cfg.Generator.RowLimit)
	assert.Equal(t, "qwen2.5-coder", cfg.Ollama.Model)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, -1, cfg.Executor.MaxRows)
	assert.Equal(t, "debug", cfg.Log.Level)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "[generator]\nbackedn = \"ollama\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator.backedn")
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("FEDQUERY_MAX_ROWS", "lots")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Generator.Backend = "openai"
	cfg.Ollama.URL = "ftp://host"
	cfg.Executor.MaxRows = -5
	cfg.Log.Format = "xml"
	cfg.Stores = map[string]StoreConfig{
		"a": {Path: "a.db", Base: true},
		"b": {Path: "b.db", Capability: "access:everything"},
		"c": {Capability: string(security.CapRevenue)},
	}

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"generator.backend", "ollama.url", "executor.max_rows", "log.format",
		"stores.b.capability", "stores.c.path",
	} {
		assert.True(t, fields[f], "missing error for %s in %v", f, err)
	}

	assert.NoError(t, Default().Validate())
}

func TestValidate_BaseCount(t *testing.T) {
	cfg := Default()
	cfg.Stores = map[string]StoreConfig{
		"a": {Path: "a.db", Capability: string(security.CapMaintenance)},
	}
	require.Error(t, cfg.Validate())
	assert.Contains(t, cfg.Validate().Error(), "exactly one store")
}

func TestValidate_Offline(t *testing.T) {
	cfg := Default()
	cfg.Offline = true
	require.NoError(t, cfg.Validate(), "defaults are already local")

	cfg.Generator.Backend = "genai"
	cfg.Ollama.URL = "http://gpu-box:11434"
	cfg.Server.Addr = ":8787"

	var verrs ValidateErrors
	require.True(t, errors.As(cfg.Validate(), &verrs))
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	assert.True(t, fields["generator.backend"])
	assert.True(t, fields["ollama.url"])
	assert.True(t, fields["server.addr"])

	cfg.Offline = false
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OfflineEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FEDQUERY_OFFLINE", "true")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.True(t, cfg.Offline)
}

func TestCatalogSpecs(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.DataDir = dir

	specs, err := cfg.CatalogSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "sensors", specs[0].Name)

	cfg.Stores = map[string]StoreConfig{
		"plant":   {Path: "plant.db", Base: true},
		"finance": {Path: "/abs/finance.db", Capability: string(security.CapRevenue), Expose: []string{"ledger"}},
	}
	specs, err = cfg.CatalogSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "finance", specs[0].Name)
	assert.Equal(t, "/abs/finance.db", specs[0].Path)
	assert.Equal(t, security.CapRevenue, specs[0].Capability)
	assert.Equal(t, filepath.Join(dir, "plant.db"), specs[1].Path)
	assert.True(t, specs[1].Base)
}

func TestGeneratorConfig(t *testing.T) {
	cfg := Default()
	cfg.Ollama.TimeoutSecs = 5
	cfg.Generator.RPS = 2
	gc := cfg.GeneratorConfig()
	assert.Equal(t, "ollama", gc.Backend)
	assert.Equal(t, 5*time.Second, gc.Ollama.Timeout)
	assert.Equal(t, cfg.Ollama.Model, gc.Ollama.DefaultModel)
	assert.Equal(t, 2.0, gc.RPS)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.Server.Token = "s3cret-token-value"
	cfg.Stores = map[string]StoreConfig{"base": {Path: "x.db", Base: true}}
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", loaded.DataDir)
	assert.Equal(t, "s3cret-token-value", loaded.Server.Token)
	assert.Equal(t, cfg.Stores, loaded.Stores)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("ollama.model", "phi3"))
	require.NoError(t, cfg.Set("executor.max_rows", "25"))
	require.NoError(t, cfg.Set("audit.enabled", "false"))
	require.NoError(t, cfg.Set("generator.rps", "1.5"))

	v, err := cfg.Get("ollama.model")
	require.NoError(t, err)
	assert.Equal(t, "phi3", v)
	assert.Equal(t, 25, cfg.Executor.MaxRows)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, 1.5, cfg.Generator.RPS)

	_, err = cfg.Get("ollama.nope")
	assert.Error(t, err)
	_, err = cfg.Get("ollama")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("executor.max_rows", "many"))
	assert.Error(t, cfg.Set("stores", "x"))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "data_dir")
	assert.Contains(t, keys, "ollama.url")
	assert.Contains(t, keys, "log.format")
	assert.NotContains(t, keys, "stores")
	for _, k := range keys {
		_, err := Default().Get(k)
		assert.NoError(t, err, k)
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.GenAI.APIKey = "AIzaSyVeryLongSecretKey1234"
	cfg.Server.Token = "short"
	out := cfg.String()
	assert.NotContains(t, out, "VeryLongSecret")
	assert.Contains(t, out, "AIza****1234")
	assert.NotContains(t, out, `"short"`)
}
