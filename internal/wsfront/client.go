package wsfront

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/andy963/ads/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 64
)

// client is one authenticated WebSocket connection.
type client struct {
	id            string
	conn          *websocket.Conn
	front         *Front
	userID        string
	sessionID     string
	chatSessionID string

	cwd string

	send chan []byte

	mu           sync.Mutex
	activeCancel context.CancelFunc
}

func newClient(conn *websocket.Conn, front *Front, userID, sessionID, chatSessionID string) *client {
	return &client{
		id:            uuid.NewString(),
		conn:          conn,
		front:         front,
		userID:        userID,
		sessionID:     sessionID,
		chatSessionID: chatSessionID,
		cwd:           front.cfg.DefaultWorkspaceRoot,
		send:          make(chan []byte, sendBuffer),
	}
}

// run drives the connection until it closes: a write pump and a ping
// ticker run in background goroutines while the read loop blocks in the
// foreground, mirroring the teacher's gateway Client.Run shape.
func (c *client) run(ctx context.Context) {
	done := make(chan struct{})
	go c.writePump(done)
	go c.pingLoop(done)

	c.readPump(ctx)

	close(done)
	c.mu.Lock()
	if c.activeCancel != nil {
		c.activeCancel()
	}
	c.mu.Unlock()
}

func (c *client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	pongDeadline := c.pongDeadline()
	c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				slog.Debug("wsfront read error", "id", c.id, "error", err)
			}
			return
		}

		var env InboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendJSON(outboundEnvelope{Type: "error", Payload: "invalid message"})
			continue
		}

		go c.handleEnvelope(ctx, env)
	}
}

func (c *client) writePump(done <-chan struct{}) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *client) pingLoop(done <-chan struct{}) {
	interval := time.Duration(c.front.cfg.PingIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				missed++
			}
			if missed > c.front.cfg.MaxMissedPongs {
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (c *client) pongDeadline() time.Duration {
	return time.Duration(c.front.cfg.PingIntervalMs*(c.front.cfg.MaxMissedPongs+1)) * time.Millisecond
}

func (c *client) sendJSON(env outboundEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("wsfront send buffer full, dropping message", "id", c.id)
	}
}

func (c *client) sendEvent(ev bus.Event) {
	c.sendJSON(outboundEnvelope{Type: ev.Name, Payload: ev.Payload})
}

// setActiveCancel records the cancel function for the turn currently
// running on behalf of this client, so a later {type:"interrupt"} can abort
// it. Returns a function to clear the record once the turn completes.
func (c *client) setActiveCancel(cancel context.CancelFunc) func() {
	c.mu.Lock()
	c.activeCancel = cancel
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.activeCancel = nil
		c.mu.Unlock()
	}
}

func (c *client) interrupt() {
	c.mu.Lock()
	cancel := c.activeCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
