// Package vectorctx implements the Vector Auto-Context client: a throttled
// embed-query/rerank façade over a remote vector service, plus a preflight
// indexer that keeps that service's index in sync with a workspace's spec
// docs and session history.
//
// Grounded on the teacher's internal/tools/web_search.go and web_fetch.go:
// a per-call http.Client with a fixed timeout, JSON request/response
// structs decoded with encoding/json, and a small in-memory cache guarding
// repeat calls within a TTL. The per-workspace throttle/cache here plays
// the same role web_search.go's webCache plays for repeat identical
// queries, generalized to a time-window throttle rather than a TTL cache
// since the spec calls for "served from cache" within minIntervalMs
// regardless of whether the query text changed.
package vectorctx

import (
	"net/http"
	"sync"
	"time"
)

// Config controls one workspace's Vector Auto-Context client.
type Config struct {
	Enabled           bool
	BaseURL           string
	MaxQueryChars     int
	MinInterval       time.Duration
	RequestTimeout    time.Duration
	IndexMaxChars     int
	IndexOverlapChars int
}

func (c Config) withDefaults() Config {
	if c.MaxQueryChars <= 0 {
		c.MaxQueryChars = 2000
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.IndexMaxChars <= 0 {
		c.IndexMaxChars = 2000
	}
	if c.IndexOverlapChars <= 0 {
		c.IndexOverlapChars = 200
	}
	return c
}

// Client is one workspace's Vector Auto-Context façade: query, rerank, and
// preflight indexing against cfg.BaseURL.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	lastQueryAt time.Time
	lastResult  string
	lastQuery   string
}

// New creates a Client. A disabled or unconfigured client (Enabled=false or
// BaseURL=="") answers every Search call with "", nil, matching the spec's
// "skipped when disabled" contract for the vsearch tool.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *Client) enabled() bool {
	return c.cfg.Enabled && c.cfg.BaseURL != ""
}

// throttled reports whether a query arriving at now falls within the
// client's minIntervalMs window, and if so returns the cached result from
// the previous call.
func (c *Client) throttled(now time.Time) (cached string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastQueryAt.IsZero() && now.Sub(c.lastQueryAt) < c.cfg.MinInterval {
		return c.lastResult, true
	}
	return "", false
}

func (c *Client) remember(now time.Time, query, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastQueryAt = now
	c.lastQuery = query
	c.lastResult = result
}
