package toolsreg

import (
	"bufio"
	"context"
	"path/filepath"
	"strings"

	"github.com/andy963/ads/internal/runner"
)

// handleApplyPatch backs the `apply_patch` tool: runs `git apply
// --whitespace=nowarn` at the repo root detected from cwd, after validating
// every target path in the diff against the allowlist.
func handleApplyPatch(ctx context.Context, tctx *ToolContext, payload string) string {
	diff := payload
	if strings.TrimSpace(diff) == "" {
		return "[input error: apply_patch payload must be a unified diff]"
	}

	for _, p := range diffTargetPaths(diff) {
		if _, err := resolvePath(p, tctx.Cwd, tctx.AllowedDirs); err != nil {
			return "[input error: patch/path not in allowlist: " + p + "]"
		}
	}

	repoRoot, directoryPrefix := detectRepoRoot(ctx, tctx)

	args := []string{"apply", "--whitespace=nowarn"}
	if directoryPrefix != "" {
		args = append(args, "--directory="+directoryPrefix)
	}
	args = append(args, "-")

	res, err := runner.Run(ctx, runner.Request{
		Cmd:       "git",
		Args:      args,
		Cwd:       repoRoot,
		Allowlist: []string{"git"},
		Stdin:     diff,
	})
	if err != nil {
		return "[apply_patch error: " + err.Error() + "]"
	}
	if res.ExitCode != 0 {
		return "[apply_patch failed: " + res.Stderr + "]"
	}
	return "patch applied"
}

// diffTargetPaths extracts the "+++ b/path" (and "--- a/path") target paths
// from a unified diff for allowlist validation before invoking git.
func diffTargetPaths(diff string) []string {
	var paths []string
	sc := bufio.NewScanner(strings.NewReader(diff))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			paths = append(paths, strings.TrimPrefix(line, "+++ b/"))
		case strings.HasPrefix(line, "--- a/"):
			paths = append(paths, strings.TrimPrefix(line, "--- a/"))
		}
	}
	return paths
}

func detectRepoRoot(ctx context.Context, tctx *ToolContext) (root, directoryPrefix string) {
	res, err := runner.Run(ctx, runner.Request{
		Cmd:       "git",
		Args:      []string{"rev-parse", "--show-toplevel"},
		Cwd:       tctx.Cwd,
		Allowlist: []string{"git"},
	})
	if err != nil || res.ExitCode != 0 {
		return tctx.Cwd, ""
	}
	top := strings.TrimSpace(res.Stdout)
	if top == "" || top == tctx.Cwd {
		return tctx.Cwd, ""
	}
	rel, relErr := filepath.Rel(top, tctx.Cwd)
	if relErr != nil || rel == "." {
		return top, ""
	}
	return top, rel
}
