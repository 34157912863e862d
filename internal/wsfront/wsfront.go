// Package wsfront implements the WebSocket Front: connection lifecycle
// (origin allowlist, session-cookie auth, max-clients enforcement, ping/pong
// liveness) and the prompt/command/interrupt/task_resume message dispatch
// that drives a Session Manager entry's Agent Hub turn under the
// workspace's lock.
//
// Grounded on the teacher's internal/gateway/server.go: the
// Upgrader/CheckOrigin/per-client map/eventPub.Subscribe shape is carried
// over near verbatim, generalized from one always-open gateway socket to
// the spec's auth-gated, close-coded connection lifecycle.
package wsfront

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andy963/ads/internal/agentadapter"
	"github.com/andy963/ads/internal/agenthub"
	"github.com/andy963/ads/internal/bus"
	"github.com/andy963/ads/internal/config"
	"github.com/andy963/ads/internal/history"
	"github.com/andy963/ads/internal/session"
	"github.com/andy963/ads/internal/toolsreg"
	"github.com/andy963/ads/internal/vectorctx"
	"github.com/andy963/ads/internal/wslock"
)

// Close codes for the rejection paths spec §4.M names explicitly. They sit
// in the private-use WebSocket close code range (4000-4999).
const (
	CloseOriginRejected = 4403
	CloseUnauthorized    = 4401
	CloseMaxClients      = 4409
)

// Authenticator validates the session cookie on an upgrade request and
// returns the authenticated user id.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, ok bool)
}

// Config configures connection-lifecycle policy.
type Config struct {
	AllowedOrigins       []string
	MaxClients           int
	PingIntervalMs       int
	MaxMissedPongs       int
	DefaultWorkspaceRoot string
}

func (c Config) withDefaults() Config {
	if c.PingIntervalMs <= 0 {
		c.PingIntervalMs = 30000
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = 2
	}
	return c
}

// Front is the WebSocket Front server.
type Front struct {
	cfg      Config
	appCfg   *config.Config
	auth     Authenticator
	sessions *session.Manager
	history  *history.Store
	locks    *wslock.Pool
	tools    *toolsreg.Registry
	hubOpts  agenthub.Options
	events   bus.EventPublisher
	vector   *vectorctx.Client

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a Front. events may be nil (no broadcast of task/chat events
// beyond what's written directly to the originating connection). vector may
// be nil, in which case the vsearch tool and implicit auto-context stay
// disabled regardless of appCfg.Vector.Enabled.
func New(cfg Config, appCfg *config.Config, auth Authenticator, sessions *session.Manager, historyStore *history.Store, locks *wslock.Pool, tools *toolsreg.Registry, hubOpts agenthub.Options, events bus.EventPublisher, vector *vectorctx.Client) *Front {
	f := &Front{
		cfg:      cfg.withDefaults(),
		appCfg:   appCfg,
		auth:     auth,
		sessions: sessions,
		history:  historyStore,
		locks:    locks,
		tools:    tools,
		hubOpts:  hubOpts,
		events:   events,
		vector:   vector,
		clients:  make(map[string]*client),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // deferred: rejected post-upgrade with 4403
	}
	return f
}

// ClientCount reports the number of currently connected clients.
func (f *Front) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// originAllowed mirrors the teacher's checkOrigin: no configured allowlist
// or an empty Origin header (non-browser clients) always passes.
func (f *Front) originAllowed(r *http.Request) bool {
	if len(f.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range f.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection and runs its lifecycle. Rejection
// reasons (origin/auth/capacity) are reported as WebSocket close codes
// rather than HTTP status codes, since the spec requires a completed
// handshake before any of those checks run.
func (f *Front) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	protocols, sessionID, chatSessionID := negotiateSubprotocols(r)

	responseHeader := http.Header{}
	if len(protocols) > 0 {
		responseHeader.Set("Sec-WebSocket-Protocol", strings.Join(protocols, ", "))
	}

	conn, err := f.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		slog.Error("wsfront upgrade failed", "error", err)
		return
	}

	if !f.originAllowed(r) {
		closeWithCode(conn, CloseOriginRejected, "origin not allowed")
		return
	}

	userID, ok := f.auth.Authenticate(r)
	if !ok {
		closeWithCode(conn, CloseUnauthorized, "unauthorized")
		return
	}

	if f.cfg.MaxClients > 0 && f.ClientCount() >= f.cfg.MaxClients {
		closeWithCode(conn, CloseMaxClients, "max clients reached")
		return
	}

	c := newClient(conn, f, userID, sessionID, chatSessionID)
	f.register(c)
	defer f.unregister(c)
	c.run(r.Context())
}

func (f *Front) register(c *client) {
	f.mu.Lock()
	f.clients[c.id] = c
	f.mu.Unlock()
	if f.events != nil {
		f.events.Subscribe(c.id, func(ev bus.Event) { c.sendEvent(ev) })
	}
	slog.Info("wsfront client connected", "id", c.id, "user_id", c.userID)
}

func (f *Front) unregister(c *client) {
	f.mu.Lock()
	delete(f.clients, c.id)
	f.mu.Unlock()
	if f.events != nil {
		f.events.Unsubscribe(c.id)
	}
	slog.Info("wsfront client disconnected", "id", c.id, "user_id", c.userID)
}

// negotiateSubprotocols reads the client-offered Sec-WebSocket-Protocol
// list and accepts every entry matching one of the spec's three families,
// extracting the session/chat session ids embedded in the latter two.
func negotiateSubprotocols(r *http.Request) (accepted []string, sessionID, chatSessionID string) {
	for _, p := range websocket.Subprotocols(r) {
		switch {
		case p == "ads-v1":
			accepted = append(accepted, p)
		case strings.HasPrefix(p, "ads-session."):
			sessionID = strings.TrimPrefix(p, "ads-session.")
			accepted = append(accepted, p)
		case strings.HasPrefix(p, "ads-chat."):
			chatSessionID = strings.TrimPrefix(p, "ads-chat.")
			accepted = append(accepted, p)
		}
	}
	return accepted, sessionID, chatSessionID
}

// buildToolContext derives the per-turn Tool Registry context from the
// session entry's cwd and the static exec/search policy in appCfg. The
// vsearch tool is bound to f.vector, scoped to this entry's workspace by
// cwd and to this entry's chat history by userID; a nil f.vector (no
// Vector Auto-Context configured) disables the tool entirely.
func (f *Front) buildToolContext(entry *session.Entry) *toolsreg.ToolContext {
	tools := f.appCfg.Tools
	tctx := &toolsreg.ToolContext{
		Cwd:         entry.Cwd,
		AllowedDirs: []string(tools.AllowedDirs),
		InvokeAgent: func(ctx context.Context, agentID, prompt string) (string, error) {
			res, err := entry.Orchestrator.InvokeAgent(ctx, agentID, prompt, agentadapter.SendOptions{})
			if err != nil {
				return "", err
			}
			return res.Response, nil
		},
		ExecAllowlist: []string(tools.ExecAllowlist),
		ExecTimeoutMs: tools.ExecTimeoutMs,
		ExecMaxOutput: tools.MaxOutputBytes,
		ExecDisabled:  tools.ExecDisabled,
	}
	if f.vector == nil {
		tctx.VectorDisabled = true
		return tctx
	}
	tctx.VectorSearch = func(ctx context.Context, query string) (string, error) {
		return f.vector.Search(ctx, f.history, entry.Cwd, entry.UserID, query)
	}
	return tctx
}

func closeWithCode(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
