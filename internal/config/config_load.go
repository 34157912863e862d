package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           18790,
			MaxClients:     256,
			PingIntervalMs: 30000,
			MaxMissedPongs: 2,
			RateLimitRPM:   60,
		},
		Tools: ToolsConfig{
			ExecTimeoutMs:   5 * 60 * 1000,
			MaxOutputBytes:  1 << 20,
			ExecAllowlist:   FlexibleStringSlice{"*"},
			ParallelToolCap: 6,
		},
		Agents: AgentsConfig{
			ActiveAgentID:         "default",
			MaxSupervisorRounds:   2,
			MaxDelegations:        6,
			MaxToolRounds:         0,
			DelegationConcurrency: 3,
		},
		TaskQueue: TaskQueueConfig{
			PollIntervalMs:    500,
			RetryBackoffMs:    2000,
			DefaultMaxRetries: 2,
		},
		Vector: VectorConfig{
			MaxQueryChars: 2000,
			MinIntervalMs: 3000,
			MaxChars:      1500,
			OverlapChars:  200,
			TimeoutMs:     15000,
		},
		Telegram: TelegramConfig{
			HistoryLimit: 20,
		},
		Log: LogConfig{
			BasePath: "~/.ads/logs/ads.log",
			MaxBytes: 10 << 20,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and secrets live here exclusively.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ADS_SESSION_PEPPER", &c.Gateway.SessionPepper)
	envStr("ADS_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("ADS_WEB_SEARCH_API_KEY", &c.Tools.WebSearchAPIKey)
	envStr("ADS_STATE_DB_PATH", &c.Database.StateDBPath)

	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}

	envStr("ADS_HOST", &c.Gateway.Host)
	if v := os.Getenv("ADS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	if c.Database.StateDBPath == "" {
		home, _ := os.UserHomeDir()
		c.Database.StateDBPath = filepath.Join(home, ".ads", "state.db")
	}

	envStr("ADS_DEFAULT_WORKSPACE_ROOT", &c.Gateway.DefaultWorkspaceRoot)
	if c.Gateway.DefaultWorkspaceRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			c.Gateway.DefaultWorkspaceRoot = cwd
		}
	}

	c.Log.BasePath = ExpandHome(c.Log.BasePath)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after replacing config in place to restore secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

func shortHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
