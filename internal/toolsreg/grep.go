package toolsreg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/andy963/ads/internal/runner"
)

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "dist": true, "build": true, "coverage": true,
}

const maxWalkFileSize = 2 << 20 // 2 MB

type grepPayload struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Glob       string `json:"glob,omitempty"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// handleGrep backs the `grep` tool: prefers ripgrep, falls back to an
// in-process walker. Empty results are success, never an error.
func handleGrep(ctx context.Context, tctx *ToolContext, payload string) string {
	var p grepPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &p); err != nil || p.Pattern == "" {
		return "[input error: grep payload requires a pattern]"
	}
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = tctx.GrepMaxResults
	}
	if maxResults <= 0 {
		maxResults = 200
	}
	searchRoot := resolveSearchRoot(tctx, p.Path)

	if out, ok := tryRipgrep(ctx, tctx, p, searchRoot, maxResults); ok {
		return out
	}
	return walkGrep(p, searchRoot, maxResults)
}

func resolveSearchRoot(tctx *ToolContext, path string) string {
	if path == "" {
		return tctx.Cwd
	}
	if resolved, err := resolvePath(path, tctx.Cwd, tctx.AllowedDirs); err == nil {
		return resolved
	}
	return tctx.Cwd
}

func tryRipgrep(ctx context.Context, tctx *ToolContext, p grepPayload, root string, maxResults int) (string, bool) {
	args := []string{"--line-number", "--max-count", fmt.Sprintf("%d", maxResults)}
	if p.IgnoreCase {
		args = append(args, "--ignore-case")
	}
	if p.Glob != "" {
		args = append(args, "--glob", p.Glob)
	}
	args = append(args, p.Pattern, root)

	res, err := runner.Run(ctx, runner.Request{
		Cmd:            "rg",
		Args:           args,
		Allowlist:      []string{"rg"},
		MaxOutputBytes: tctx.ExecMaxOutput,
	})
	if err != nil {
		return "", false
	}
	if res.ExitCode == 0 || res.ExitCode == 1 {
		return res.Stdout, true
	}
	return "", false
}

func walkGrep(p grepPayload, root string, maxResults int) string {
	re, err := compilePattern(p.Pattern, p.IgnoreCase)
	if err != nil {
		return "[input error: invalid pattern: " + err.Error() + "]"
	}

	var out strings.Builder
	count := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || count >= maxResults {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Glob != "" {
			if ok, _ := filepath.Match(p.Glob, d.Name()); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxWalkFileSize {
			return nil
		}
		grepFile(path, re, maxResults, &count, &out)
		return nil
	})
	return out.String()
}

func grepFile(path string, re *regexp.Regexp, maxResults int, count *int, out *strings.Builder) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if bytes.IndexByte(line, 0) >= 0 {
			return // binary file, skip entirely
		}
		if re.Match(line) {
			fmt.Fprintf(out, "%s:%d:%s\n", path, lineNo, line)
			*count++
			if *count >= maxResults {
				return
			}
		}
	}
}

func compilePattern(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
