// Package config loads the runtime's JSON configuration and overlays
// environment variable overrides. Environment variables always win over
// the file, and secrets (tokens, DSNs, the session pepper) are read from
// the environment only — they never round-trip through config.json.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching the
// leniency callers expect from hand-edited config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the ads runtime.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Agents    AgentsConfig    `json:"agents"`
	Database  DatabaseConfig  `json:"database"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Vector    VectorConfig    `json:"vector,omitempty"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Log       LogConfig       `json:"log,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the WebSocket/HTTP front.
type GatewayConfig struct {
	Host             string              `json:"host"`
	Port             int                  `json:"port"`
	AllowedOrigins   FlexibleStringSlice `json:"allowed_origins,omitempty"`
	MaxClients       int                  `json:"max_clients"`
	PingIntervalMs   int                  `json:"ping_interval_ms"`
	MaxMissedPongs   int                  `json:"max_missed_pongs"`
	RateLimitRPM     int                  `json:"rate_limit_rpm"`
	SessionPepper    string               `json:"-"` // env ADS_SESSION_PEPPER only
	CookieSecure     bool                 `json:"cookie_secure,omitempty"`
	// DefaultWorkspaceRoot is the workspace used to bootstrap the default
	// project at first run, and as the WebSocket Front's fallback cwd for
	// connections that don't resolve to a specific project.
	DefaultWorkspaceRoot string `json:"default_workspace_root,omitempty"`
}

// ToolsConfig configures the Command Runner and Tool Registry defaults.
type ToolsConfig struct {
	ExecTimeoutMs     int                 `json:"exec_timeout_ms"`
	MaxOutputBytes    int                 `json:"max_output_bytes"`
	AllowedDirs       FlexibleStringSlice `json:"allowed_dirs,omitempty"`
	ExecAllowlist     FlexibleStringSlice `json:"exec_allowlist,omitempty"` // "*" = unrestricted
	ExecDisabled      bool                `json:"exec_disabled,omitempty"`
	WebSearchAPIKey   string              `json:"-"` // env ADS_WEB_SEARCH_API_KEY only
	ParallelToolCap   int                 `json:"parallel_tool_cap"`
}

// AgentsConfig describes the adapters the Orchestrator can bind.
type AgentsConfig struct {
	ActiveAgentID      string                  `json:"active_agent_id"`
	MaxSupervisorRounds int                    `json:"max_supervisor_rounds"`
	MaxDelegations      int                    `json:"max_delegations"`
	MaxToolRounds       int                    `json:"max_tool_rounds"` // 0 = unbounded
	DelegationConcurrency int                  `json:"delegation_concurrency"`
	List               map[string]AgentSpec    `json:"list,omitempty"`
}

// AgentSpec is the per-agent adapter configuration.
type AgentSpec struct {
	Vendor   string `json:"vendor"`
	Model    string `json:"model,omitempty"`
	Stateful bool   `json:"stateful"`
}

// DatabaseConfig configures SQLite storage.
// StateDBPath is the global auth DB path; override via env ADS_STATE_DB_PATH.
type DatabaseConfig struct {
	StateDBPath string `json:"-"`
}

// TaskQueueConfig configures the per-workspace task queue worker loop.
type TaskQueueConfig struct {
	PollIntervalMs   int `json:"poll_interval_ms"`
	RetryBackoffMs   int `json:"retry_backoff_ms"`
	DefaultMaxRetries int `json:"default_max_retries"`
}

// VectorConfig configures the Vector Auto-Context client.
type VectorConfig struct {
	Enabled       bool    `json:"enabled"`
	Endpoint      string  `json:"endpoint,omitempty"`
	MaxQueryChars int     `json:"max_query_chars"`
	MinIntervalMs int     `json:"min_interval_ms"`
	MaxChars      int     `json:"max_chars"`
	OverlapChars  int     `json:"overlap_chars"`
	TimeoutMs     int     `json:"timeout_ms"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // env ADS_TELEGRAM_TOKEN only
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	HistoryLimit   int                 `json:"history_limit,omitempty"`
	StreamMode     string              `json:"stream_mode,omitempty"`
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"`
	VoiceAgentID   string              `json:"voice_agent_id,omitempty"`
	STTProxyURL    string              `json:"stt_proxy_url,omitempty"`
	STTTimeoutSeconds int              `json:"stt_timeout_seconds,omitempty"`
	STTTenantID    string              `json:"-"` // env ADS_TELEGRAM_STT_TENANT_ID only
	STTAPIKey      string              `json:"-"` // env ADS_TELEGRAM_STT_API_KEY only
}

// LogConfig configures the rotating log file writer.
type LogConfig struct {
	Verbose  bool   `json:"verbose,omitempty"`
	BasePath string `json:"base_path,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Tools = src.Tools
	c.Agents = src.Agents
	c.Database = src.Database
	c.TaskQueue = src.TaskQueue
	c.Vector = src.Vector
	c.Telegram = src.Telegram
	c.Log = src.Log
}

// AgentsSnapshot returns a copy of the agents configuration for callers
// that need to enumerate agent specs without holding the config's lock.
func (c *Config) AgentsSnapshot() AgentsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make(map[string]AgentSpec, len(c.Agents.List))
	for id, spec := range c.Agents.List {
		list[id] = spec
	}
	snap := c.Agents
	snap.List = list
	return snap
}

// ResolveAgent returns the effective spec for agentID, falling back to a
// stateless "mock" vendor spec if unconfigured.
func (c *Config) ResolveAgent(agentID string) AgentSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok {
		return spec
	}
	return AgentSpec{Vendor: "mock", Stateful: false}
}

// Hash returns a short SHA-256 hash of the config for optimistic concurrency
// in config-reload flows.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	return shortHash(data)
}
