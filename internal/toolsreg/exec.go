package toolsreg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andy963/ads/internal/runner"
)

type execPayload struct {
	Cmd       string   `json:"cmd"`
	Args      []string `json:"args,omitempty"`
	TimeoutMs int      `json:"timeoutMs,omitempty"`
}

// handleExec backs the `exec` tool. A bare string payload is a free-form
// shell command line (matching the teacher's ExecTool contract); a JSON
// object payload runs cmd/args directly via the Command Runner with no
// shell interpretation.
func handleExec(ctx context.Context, tctx *ToolContext, payload string) string {
	if tctx.ExecDisabled {
		return "[tool error: exec is disabled]"
	}

	trimmed := strings.TrimSpace(payload)
	var res runner.Result
	var err error
	var commandLine string

	if strings.HasPrefix(trimmed, "{") {
		var p execPayload
		if jerr := json.Unmarshal([]byte(trimmed), &p); jerr == nil && p.Cmd != "" {
			timeout := p.TimeoutMs
			if timeout == 0 {
				timeout = tctx.ExecTimeoutMs
			}
			res, err = runner.Run(ctx, runner.Request{
				Cmd:            p.Cmd,
				Args:           p.Args,
				Cwd:            tctx.Cwd,
				TimeoutMs:      timeout,
				MaxOutputBytes: tctx.ExecMaxOutput,
				Allowlist:      tctx.ExecAllowlist,
			})
			commandLine = strings.TrimSpace(p.Cmd + " " + strings.Join(p.Args, " "))
			return formatExecResult(res, err, commandLine)
		}
	}

	res, err = runner.RunShell(ctx, trimmed, tctx.Cwd, tctx.ExecTimeoutMs, tctx.ExecMaxOutput)
	return formatExecResult(res, err, trimmed)
}

func formatExecResult(res runner.Result, err error, commandLine string) string {
	if err != nil {
		return "[exec error: " + err.Error() + "]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", commandLine)
	fmt.Fprintf(&b, "exit=%d\n", res.ExitCode)
	if res.TimedOut {
		b.WriteString("timed_out=true\n")
	}
	b.WriteString("stdout:\n```\n")
	b.WriteString(res.Stdout)
	if res.TruncatedStdout {
		b.WriteString("\n[stdout truncated]")
	}
	b.WriteString("\n```\n")
	if res.Stderr != "" {
		b.WriteString("stderr:\n```\n")
		b.WriteString(res.Stderr)
		if res.TruncatedStderr {
			b.WriteString("\n[stderr truncated]")
		}
		b.WriteString("\n```\n")
	}
	return b.String()
}
