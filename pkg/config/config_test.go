package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSystemConfigMissingFile(t *testing.T) {
	cfg := LoadSystemConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Equal(t, DefaultSystemConfig(), cfg)
}

func TestLoadSystemConfigCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0644))

	cfg := LoadSystemConfig(path)
	assert.Equal(t, DefaultSystemConfig(), cfg)
}

func TestLoadSystemConfigMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_retries": 7, "log_level": "debug"}`), 0644))

	cfg := LoadSystemConfig(path)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultSystemConfig().LLMTimeoutMs, cfg.LLMTimeoutMs)
}

func TestUnityConfigDefaults(t *testing.T) {
	u := UnityConfig{Port: 7400}
	u.applyDefaults()

	assert.Equal(t, "127.0.0.1", u.Host)
	assert.Equal(t, 7400, u.Port, "explicit values must survive defaulting")
	assert.Equal(t, 3000, u.DialTimeoutMs)
	assert.Equal(t, 30000, u.CommandTimeoutMs)
}

func TestValidateRequiresLLM(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg.LLM = []byte(`[{"type":"ollama","models":["qwen3"]}]`)
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsWorkingDirectory(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := Load()
	require.Error(t, err, "a missing config.json must fail loudly")

	appJSON := `{
		"llm": [{"type": "ollama", "models": ["qwen3"]}],
		"unity": {"port": 6500},
		"system_prompt": "You control the Unity Editor."
	}`
	require.NoError(t, os.WriteFile("config.json", []byte(appJSON), 0644))

	cfg, sysCfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6500, cfg.Unity.Port)
	assert.Equal(t, "127.0.0.1", cfg.Unity.Host)
	assert.Equal(t, "You control the Unity Editor.", cfg.SystemPrompt)
	assert.Equal(t, DefaultSystemConfig(), sysCfg, "system.json is optional")
}
