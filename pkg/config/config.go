package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the application-level configuration mapped from config.json:
// which channels to run, which LLM providers to use, where the Unity
// Editor bridge listens, and the agent persona.
type Config struct {
	// Channels maps channel names ("telegram", "web") to their raw JSON
	// config sections, decoded by the matching channel factory.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM is the raw provider-group list, decoded by llm.NewFromConfig.
	LLM jsoniter.RawMessage `json:"llm"`
	// Unity configures the connection to the Editor bridge plugin.
	Unity UnityConfig `json:"unity"`
	// SystemPrompt seeds every conversation as the system message.
	SystemPrompt string `json:"system_prompt"`
}

// Validate guards the mandatory sections before initialization proceeds.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// UnityConfig locates the Unity Editor bridge and bounds its I/O.
type UnityConfig struct {
	// Host of the Editor bridge TCP listener. Default: 127.0.0.1.
	Host string `json:"host"`
	// Port of the Editor bridge TCP listener. Default: 6400.
	Port int `json:"port"`
	// DialTimeoutMs bounds connection establishment.
	DialTimeoutMs int `json:"dial_timeout_ms"`
	// CommandTimeoutMs is the per-command read/write deadline. Screenshot
	// payloads can be large, so this defaults generously.
	CommandTimeoutMs int `json:"command_timeout_ms"`
	// ReconnectDelayMs is the pause before re-dialing a dead connection.
	ReconnectDelayMs int `json:"reconnect_delay_ms"`
}

// DefaultUnityConfig returns the standard local-Editor settings.
func DefaultUnityConfig() UnityConfig {
	return UnityConfig{
		Host:             "127.0.0.1",
		Port:             6400,
		DialTimeoutMs:    3000,
		CommandTimeoutMs: 30000,
		ReconnectDelayMs: 1000,
	}
}

// applyDefaults fills zero-valued Unity fields after load.
func (u *UnityConfig) applyDefaults() {
	def := DefaultUnityConfig()
	if u.Host == "" {
		u.Host = def.Host
	}
	if u.Port == 0 {
		u.Port = def.Port
	}
	if u.DialTimeoutMs == 0 {
		u.DialTimeoutMs = def.DialTimeoutMs
	}
	if u.CommandTimeoutMs == 0 {
		u.CommandTimeoutMs = def.CommandTimeoutMs
	}
	if u.ReconnectDelayMs == 0 {
		u.ReconnectDelayMs = def.ReconnectDelayMs
	}
}

// SystemConfig holds engine-level tunables from system.json. Missing or
// corrupt files fall back to defaults so the bridge can always start.
type SystemConfig struct {
	// MaxRetries bounds automatic recovery from transient LLM errors.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the wait between consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one LLM request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// InternalChannelBuffer sizes the Go channels buffering stream chunks.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the silence threshold before the "thinking"
	// indicator is shown to the user.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit caps characters per Telegram message bubble.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs bounds fetches of user-uploaded media.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// SessionStorageDir is where conversation histories are persisted.
	// Empty disables persistence.
	SessionStorageDir string `json:"session_storage_dir"`
	// ShowThinking streams the model's reasoning blocks to the user.
	ShowThinking bool `json:"show_thinking"`
	// DebugChunks dumps every raw provider chunk under ./debug.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel: "debug", "info", "warn" or "error". Default "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles function calling.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns safe engine defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          600000,
		InternalChannelBuffer: 100,
		ThinkingInitDelayMs:   500,
		TelegramMessageLimit:  4000,
		DownloadTimeoutMs:     10000,
		SessionStorageDir:     "data/sessions",
		ShowThinking:          true,
		LogLevel:              "info",
		EnableTools:           true,
	}
}

// Load reads config.json (mandatory) and system.json (optional, defaults
// on failure) from the working directory.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file '%s': %w", appPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg.Unity.applyDefaults()

	return &cfg, LoadSystemConfig("system.json"), nil
}

// LoadSystemConfig loads engine settings, returning defaults when the file
// is absent or unparsable.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(file, cfg); err != nil {
		return cfg
	}
	return cfg
}
