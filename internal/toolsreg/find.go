package toolsreg

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/andy963/ads/internal/runner"
)

type findPayload struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// handleFind backs the `find` tool: prefers fd, falls back to find, falls
// back to an in-process glob walker. Empty results are success.
func handleFind(ctx context.Context, tctx *ToolContext, payload string) string {
	var p findPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &p); err != nil || p.Pattern == "" {
		return "[input error: find payload requires a pattern]"
	}
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = tctx.FindMaxResults
	}
	if maxResults <= 0 {
		maxResults = 200
	}
	root := resolveSearchRoot(tctx, p.Path)

	if out, ok := tryFd(ctx, tctx, p, root, maxResults); ok {
		return out
	}
	if out, ok := tryFindUtil(ctx, tctx, p, root, maxResults); ok {
		return out
	}
	return walkFind(p, root, maxResults)
}

func tryFd(ctx context.Context, tctx *ToolContext, p findPayload, root string, maxResults int) (string, bool) {
	res, err := runner.Run(ctx, runner.Request{
		Cmd:            "fd",
		Args:           []string{"--max-results", fmt.Sprintf("%d", maxResults), p.Pattern, root},
		Allowlist:      []string{"fd"},
		MaxOutputBytes: tctx.ExecMaxOutput,
	})
	if err != nil || (res.ExitCode != 0 && res.Stdout == "" && res.Stderr != "") {
		return "", false
	}
	return res.Stdout, true
}

func tryFindUtil(ctx context.Context, tctx *ToolContext, p findPayload, root string, maxResults int) (string, bool) {
	res, err := runner.Run(ctx, runner.Request{
		Cmd:            "find",
		Args:           []string{root, "-iname", p.Pattern},
		Allowlist:      []string{"find"},
		MaxOutputBytes: tctx.ExecMaxOutput,
	})
	if err != nil {
		return "", false
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) > maxResults {
		lines = lines[:maxResults]
	}
	return strings.Join(lines, "\n"), true
}

func walkFind(p findPayload, root string, maxResults int) string {
	var out strings.Builder
	count := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || count >= maxResults {
			return nil
		}
		if d.IsDir() && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if ok, _ := filepath.Match(p.Pattern, d.Name()); ok {
			out.WriteString(path)
			out.WriteString("\n")
			count++
		}
		return nil
	})
	return strings.TrimSpace(out.String())
}
