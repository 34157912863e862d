package wsfront

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andy963/ads/internal/agenthub"
)

// builtinCommands are the slash commands handled directly by the front
// rather than passed through to the active agent as a prompt.
var builtinCommands = map[string]bool{
	"/cd": true, "/pwd": true, "/search": true, "/vsearch": true,
	"/agent": true, "/review": true,
}

// handleCommand acks/dedupes like a prompt, then either runs a built-in
// slash command or falls through to a normal agent turn for anything else
// the client sent through the command channel.
func (c *client) handleCommand(ctx context.Context, clientMessageID string, payload CommandPayload) {
	if !c.ackAndDedupe(ctx, clientMessageID, "user", payload.Text) {
		return
	}

	name, arg := parseSlashCommand(payload.Text)
	if !builtinCommands[name] {
		c.runTurnAfterAck(ctx, clientMessageID, payload.Text)
		return
	}

	result, err := c.dispatchBuiltin(ctx, name, arg)
	if err != nil {
		c.sendJSON(outboundEnvelope{Type: "error", ClientMessageID: clientMessageID, Payload: err.Error()})
		return
	}
	if payload.Silent {
		return
	}
	c.sendJSON(outboundEnvelope{Type: "command_result", ClientMessageID: clientMessageID, Payload: result})
}

// parseSlashCommand splits "/agent worker-1" into ("/agent", "worker-1").
func parseSlashCommand(text string) (name, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	name = parts[0]
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return name, arg
}

func (c *client) dispatchBuiltin(ctx context.Context, name, arg string) (string, error) {
	switch name {
	case "/cd":
		return c.cmdCd(ctx, arg)
	case "/pwd":
		return c.cwd, nil
	case "/agent":
		return c.cmdAgent(ctx, arg)
	case "/search":
		return c.cmdToolBlock(ctx, "search", arg)
	case "/vsearch":
		return c.cmdToolBlock(ctx, "vsearch", arg)
	case "/review":
		return c.cmdReview(ctx, arg)
	default:
		return "", fmt.Errorf("unhandled builtin command %q", name)
	}
}

// cmdCd changes this connection's working directory, provided it exists
// and is a directory; the Session Manager rebuilds its orchestrator for
// the new cwd on the next turn.
func (c *client) cmdCd(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("/cd requires a path argument")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.cwd, dir)
	}
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cannot cd to %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	c.cwd = dir
	if _, err := c.front.sessions.GetOrCreate(ctx, c.userID, c.cwd, true); err != nil {
		return "", err
	}
	return dir, nil
}

// cmdAgent switches the active agent for this user's session.
func (c *client) cmdAgent(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("/agent requires an agent id")
	}
	entry, err := c.front.sessions.GetOrCreate(ctx, c.userID, c.cwd, false)
	if err != nil {
		return "", err
	}
	if !entry.Orchestrator.HasAgent(agentID) {
		return "", fmt.Errorf("unknown agent %q", agentID)
	}
	if err := entry.Orchestrator.SwitchAgent(agentID); err != nil {
		return "", err
	}
	return agentID, nil
}

// cmdToolBlock synthesizes a <<<tool.NAME>>> block for arg and dispatches
// it through the same Tool Registry path a prompt's inline block would
// take, reusing its config-kind-error and skip-when-disabled handling.
func (c *client) cmdToolBlock(ctx context.Context, toolName, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("/%s requires a query argument", toolName)
	}
	entry, err := c.front.sessions.GetOrCreate(ctx, c.userID, c.cwd, false)
	if err != nil {
		return "", err
	}
	tctx := c.front.buildToolContext(entry)
	block := fmt.Sprintf("<<<tool.%s\n%s\n>>>", toolName, arg)
	res := c.front.tools.Dispatch(ctx, tctx, block)
	if len(res.Outputs) == 0 {
		return "", fmt.Errorf("%s produced no output", toolName)
	}
	return res.Outputs[0], nil
}

// cmdReview runs a canned review prompt through the normal agent turn path
// so its output goes through the same response/broadcast plumbing as any
// other prompt, just triggered by a slash command instead of free text.
func (c *client) cmdReview(ctx context.Context, arg string) (string, error) {
	prompt := "Review the current state of the working directory"
	if arg != "" {
		prompt = "Review: " + arg
	}
	c.runTurnAfterAck(ctx, "", prompt)
	return "review started", nil
}

// runTurnAfterAck runs a turn without re-acking (the caller already did),
// used when a command falls through to a normal agent prompt.
func (c *client) runTurnAfterAck(ctx context.Context, clientMessageID, text string) {
	turnCtx, cancel := context.WithCancel(ctx)
	clear := c.setActiveCancel(cancel)
	defer clear()
	defer cancel()

	entry, err := c.front.sessions.GetOrCreate(turnCtx, c.userID, c.cwd, false)
	if err != nil {
		c.sendJSON(outboundEnvelope{Type: "error", ClientMessageID: clientMessageID, Payload: err.Error()})
		return
	}

	var result any
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
