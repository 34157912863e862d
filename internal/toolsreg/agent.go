package toolsreg

import (
	"context"
	"encoding/json"
	"strings"
)

type agentPayload struct {
	AgentID string `json:"agentId"`
	Prompt  string `json:"prompt"`
}

// handleAgent backs the `agent` tool: calls ctx.invoke_agent(agentId, prompt)
// and returns the delegate's text verbatim.
func handleAgent(ctx context.Context, tctx *ToolContext, payload string) string {
	if tctx.InvokeAgent == nil {
		return "[tool error: agent delegation is not available in this context]"
	}

	agentID, prompt, err := decodeAgentPayload(payload)
	if err != nil {
		return "[input error: " + err.Error() + "]"
	}

	out, err := tctx.InvokeAgent(ctx, agentID, prompt)
	if err != nil {
		return "[agent error: " + err.Error() + "]"
	}
	return out
}

func decodeAgentPayload(payload string) (agentID, prompt string, err error) {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var p agentPayload
		if jerr := json.Unmarshal([]byte(trimmed), &p); jerr == nil && p.AgentID != "" {
			return p.AgentID, p.Prompt, nil
		}
	}
	parts := strings.SplitN(trimmed, "\n", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
		return "", "", errEmptyAgentID
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

var errEmptyAgentID = agentIDError("agent payload must specify an agentId")

type agentIDError string

func (e agentIDError) Error() string { return string(e) }
