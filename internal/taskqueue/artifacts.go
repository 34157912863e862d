package taskqueue

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/andy963/ads/internal/runner"
)

// GitArtifacts collects changed-path and patch artifacts via the git CLI,
// the same subprocess substrate apply_patch uses to invoke git apply.
type GitArtifacts struct {
	TimeoutMs int
}

// ChangedPaths runs `git status --porcelain` and returns the paths it
// lists. since is accepted to satisfy ArtifactCollector but unused: git
// status already reflects the working tree's current dirty state, which
// is exactly "changed since task start" inside a single-task workspace
// lock critical section.
func (g GitArtifacts) ChangedPaths(ctx context.Context, workspaceRoot string, since time.Time) ([]string, error) {
	res, err := runner.Run(ctx, runner.Request{
		Cmd:       "git",
		Args:      []string{"status", "--porcelain"},
		Cwd:       workspaceRoot,
		TimeoutMs: g.timeoutOrDefault(),
		Allowlist: []string{"git"},
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, nil
	}

	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if arrow := strings.Index(path, " -> "); arrow >= 0 {
			path = path[arrow+4:] // renamed path "old -> new": keep the new name
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WorkspacePatch runs `git diff HEAD -- <paths>` for the given paths.
func (g GitArtifacts) WorkspacePatch(ctx context.Context, workspaceRoot string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}
	args := append([]string{"diff", "HEAD", "--"}, paths...)
	res, err := runner.Run(ctx, runner.Request{
		Cmd:       "git",
		Args:      args,
		Cwd:       workspaceRoot,
		TimeoutMs: g.timeoutOrDefault(),
		Allowlist: []string{"git"},
	})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return res.Stdout, nil
}

func (g GitArtifacts) timeoutOrDefault() int {
	if g.TimeoutMs > 0 {
		return g.TimeoutMs
	}
	return 10_000
}
