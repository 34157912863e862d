package wsfront

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/andy963/ads/internal/agenthub"
	"github.com/andy963/ads/internal/session"
)

// handleEnvelope routes one decoded inbound frame to its handler. It runs
// in its own goroutine per message (spawned by readPump) so a long-running
// prompt never blocks ping/pong or a later interrupt on the same socket.
func (c *client) handleEnvelope(ctx context.Context, env InboundEnvelope) {
	switch env.Type {
	case "ping":
		c.sendJSON(outboundEnvelope{Type: "pong", Ts: time.Now().UnixMilli()})

	case "prompt":
		var payload PromptPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendJSON(outboundEnvelope{Type: "error", Payload: "invalid prompt payload"})
			return
		}
		c.handleTurn(ctx, env.ClientMessageID, payload.Text)

	case "command":
		var payload CommandPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendJSON(outboundEnvelope{Type: "error", Payload: "invalid command payload"})
			return
		}
		c.handleCommand(ctx, env.ClientMessageID, payload)

	case "interrupt":
		c.interrupt()
		c.sendJSON(outboundEnvelope{Type: "interrupted"})

	case "clear_history":
		c.handleClearHistory(ctx)

	case "task_resume":
		var payload TaskResumePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendJSON(outboundEnvelope{Type: "error", Payload: "invalid task_resume payload"})
			return
		}
		c.handleTaskResume(ctx, payload)

	default:
		c.sendJSON(outboundEnvelope{Type: "error", Payload: "unknown message type: " + env.Type})
	}
}

// historyKey identifies this connection's transcript bucket: the chat
// session id if the client negotiated one, else the bare session id, else
// the user id (one running thread per user).
func (c *client) historyKey() string {
	switch {
	case c.chatSessionID != "":
		return c.chatSessionID
	case c.sessionID != "":
		return c.sessionID
	default:
		return c.userID
	}
}

// ackAndDedupe records clientMessageID in the History Store before the
// workspace lock is acquired, so a message the client resends after a
// dropped ack is recognized as a duplicate rather than replayed. Returns
// false when the turn should not run (it already has).
func (c *client) ackAndDedupe(ctx context.Context, clientMessageID, role, text string) bool {
	if clientMessageID == "" || c.front.history == nil {
		if clientMessageID != "" {
			c.sendJSON(outboundEnvelope{Type: "ack", ClientMessageID: clientMessageID})
		}
		return true
	}
	inserted, err := c.front.history.Add(ctx, c.historyKey(), role, text, "client_message_id:"+clientMessageID, time.Now())
	if err != nil {
		slog.Error("wsfront history insert failed", "error", err)
		c.sendJSON(outboundEnvelope{Type: "error", ClientMessageID: clientMessageID, Payload: "failed to record message"})
		return false
	}
	c.sendJSON(outboundEnvelope{Type: "ack", ClientMessageID: clientMessageID, Duplicate: !inserted})
	return inserted
}

// handleTurn runs text through the Agent Hub under this client's workspace
// lock and reports the result. Duplicate client_message_ids are acked but
// not re-run.
func (c *client) handleTurn(ctx context.Context, clientMessageID, text string) {
	if !c.ackAndDedupe(ctx, clientMessageID, "user", text) {
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	clear := c.setActiveCancel(cancel)
	defer clear()
	defer cancel()

	entry, err := c.front.sessions.GetOrCreate(turnCtx, c.userID, c.cwd, false)
	if err != nil {
		c.sendJSON(outboundEnvelope{Type: "error", ClientMessageID: clientMessageID, Payload: err.Error()})
		return
	}

	var result agenthub.HubResult
	runErr := c.front.locks.WithLock(turnCtx, entry.Cwd, func(lockCtx context.Context) error {
		hub := agenthub.New(entry.Orchestrator, c.front.tools, entry.IsStateful)
		opts := c.front.hubOpts
		opts.ToolContext = c.front.buildToolContext(entry)
		r, err := hub.Run(lockCtx, text, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if runErr != nil {
		c.sendJSON(outboundEnvelope{Type: "error", ClientMessageID: clientMessageID, Payload: runErr.Error()})
		return
	}

	c.sendJSON(outboundEnvelope{Type: "response", ClientMessageID: clientMessageID, Payload: result})
}

func (c *client) handleClearHistory(ctx context.Context) {
	if c.front.history != nil {
		if err := c.front.history.Clear(ctx, c.historyKey()); err != nil {
			c.sendJSON(outboundEnvelope{Type: "error", Payload: err.Error()})
			return
		}
	}
	if err := c.front.sessions.Reset(ctx, c.userID, session.ResetOptions{PreserveThreadForResume: true}); err != nil {
		c.sendJSON(outboundEnvelope{Type: "error", Payload: err.Error()})
		return
	}
	c.sendJSON(outboundEnvelope{Type: "history_cleared"})
}

// handleTaskResume rehydrates the user's session (pulling back the saved
// thread id for their active agent) and tells the client it's safe to
// re-send the interrupted task's follow-up prompt. Actual task-state
// lookup belongs to the Task Queue, not yet wired into this front.
func (c *client) handleTaskResume(ctx context.Context, payload TaskResumePayload) {
	entry, err := c.front.sessions.GetOrCreate(ctx, c.userID, c.cwd, true)
	if err != nil {
		c.sendJSON(outboundEnvelope{Type: "error", Payload: err.Error()})
		return
	}
	c.sendJSON(outboundEnvelope{Type: "task_resumed", Payload: map[string]any{
		"taskId":  payload.TaskID,
		"agentId": entry.AgentID,
	}})
}
