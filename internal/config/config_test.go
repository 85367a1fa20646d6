package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "siliconflow", cfg.Engine.Active)
	assert.Equal(t, "auto", cfg.Engine.SourceLang)
	assert.Equal(t, "zh", cfg.Engine.TargetLang)
	assert.Equal(t, "natural", cfg.Engine.TranslationStyle)
	assert.NotEmpty(t, cfg.Engine.SiliconFlow.Endpoint)
	assert.NotEmpty(t, cfg.Engine.Doubao.Endpoint)
}

func TestActiveEngineResolution(t *testing.T) {
	cfg := New()
	cfg.Engine.SiliconFlow.APIKey = "sf-key"
	cfg.Engine.Doubao.APIKey = "db-key"

	engine := cfg.ActiveEngine()
	assert.Equal(t, "siliconflow", engine.Name)
	assert.Equal(t, "sf-key", engine.APIKey)
	assert.Equal(t, cfg.Engine.SiliconFlow.Endpoint, engine.BaseURL)
	assert.Equal(t, "zh", engine.TargetLang)

	cfg.Engine.Active = "doubao"
	engine = cfg.ActiveEngine()
	assert.Equal(t, "doubao", engine.Name)
	assert.Equal(t, "db-key", engine.APIKey)
	assert.Equal(t, cfg.Engine.Doubao.Model, engine.Model)
}

func TestLoadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	_, err = os.Stat(path)
	assert.NoError(t, err, "a default config file is written")
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := New()
	cfg.Server.Port = 9191
	cfg.Engine.Active = "doubao"
	cfg.Engine.Doubao.APIKey = "secret"
	cfg.Engine.TranslationStyle = "literary"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.Server.Port)
	assert.Equal(t, "doubao", loaded.Engine.Active)
	assert.Equal(t, "secret", loaded.Engine.Doubao.APIKey)
	assert.Equal(t, "literary", loaded.Engine.TranslationStyle)
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("SILICONFLOW_API_KEY", "from-env")
	t.Setenv("TARGET_LANG", "ja")
	t.Setenv("PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Engine.SiliconFlow.APIKey)
	assert.Equal(t, "ja", cfg.Engine.TargetLang)
	assert.Equal(t, 7070, cfg.Server.Port)
}
