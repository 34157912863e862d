package agenthub

import (
	"fmt"
	"strings"

	"github.com/andy963/ads/internal/toolsreg"
)

// toolGuidePreamble is prepended to the first invocation of a turn,
// enumerating the tool/delegation block syntax for the agent.
const toolGuidePreamble = `You can invoke tools with <<<tool.NAME
payload
>>> blocks (names: search, vsearch, agent, exec, read, write, apply_patch, grep, find) and delegate to another agent with <<<agent.ID
prompt
>>> blocks. Results are substituted back into your next turn.

`

// buildFeedbackPrompt constructs the prompt re-sent to the active agent
// after executing its tool blocks. Stateless agents also receive their own
// previous response (with tool blocks stripped) so they don't lose context
// between calls; stateful agents rely on the vendor-side thread instead.
func buildFeedbackPrompt(d toolsreg.DispatchResult, stateful bool) string {
	var b strings.Builder
	if !stateful {
		b.WriteString("Your previous response:\n")
		b.WriteString(d.Stripped)
		b.WriteString("\n\n")
	}
	b.WriteString("Tool results:\n")
	for i, blk := range d.Blocks {
		fmt.Fprintf(&b, "- %s: %s\n", blk.Name, truncate(d.Outputs[i], 4000))
	}
	b.WriteString("\nContinue the turn using these results. Emit more tool blocks if needed, otherwise respond to the user.")
	return b.String()
}

// buildReconciliationPrompt summarizes a completed delegation batch for the
// supervisor and asks it to either delegate further or produce the final
// answer.
func buildReconciliationPrompt(outcomes []delegationOutcome) string {
	var b strings.Builder
	b.WriteString("Delegation results:\n")
	for _, o := range outcomes {
		fmt.Fprintf(&b, "- agent %s, prompt %q:\n%s\n", o.agentID, truncate(o.prompt, 500), truncate(o.response, 4000))
	}
	b.WriteString("\nIssue further <<<agent.ID>>> delegations if more work is needed, otherwise produce the final answer for the user.")
	return b.String()
}
