package toolsreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultReadMaxBytes = 256 * 1024

type readSpec struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
	MaxBytes  int    `json:"maxBytes,omitempty"`
}

// handleRead backs the `read` tool: a bare path string, or a JSON array of
// readSpec objects for reading multiple files (or ranges) in one call.
func handleRead(_ context.Context, tctx *ToolContext, payload string) string {
	specs, err := decodeReadSpecs(payload)
	if err != nil {
		return "[input error: " + err.Error() + "]"
	}

	var out strings.Builder
	for i, spec := range specs {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(readOne(tctx, spec))
	}
	return out.String()
}

func decodeReadSpecs(payload string) ([]readSpec, error) {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "[") {
		var specs []readSpec
		if err := json.Unmarshal([]byte(trimmed), &specs); err != nil {
			return nil, fmt.Errorf("malformed read payload: %w", err)
		}
		return specs, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var spec readSpec
		if err := json.Unmarshal([]byte(trimmed), &spec); err != nil {
			return nil, fmt.Errorf("malformed read payload: %w", err)
		}
		return []readSpec{spec}, nil
	}
	if trimmed == "" {
		return nil, fmt.Errorf("path is required")
	}
	return []readSpec{{Path: trimmed}}, nil
}

func readOne(tctx *ToolContext, spec readSpec) string {
	resolved, err := resolvePath(spec.Path, tctx.Cwd, tctx.AllowedDirs)
	if err != nil {
		return fmt.Sprintf("[%s: %s]", spec.Path, err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Sprintf("[%s: not found]", spec.Path)
	}
	if info.IsDir() {
		return fmt.Sprintf("[%s: not a file]", spec.Path)
	}

	maxBytes := spec.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultReadMaxBytes
	}

	f, err := os.Open(resolved)
	if err != nil {
		return fmt.Sprintf("[%s: %s]", spec.Path, err.Error())
	}
	defer f.Close()

	buf := make([]byte, maxBytes)
	n, _ := f.Read(buf)
	buf = buf[:n]

	if bytes.IndexByte(buf, 0) >= 0 {
		return fmt.Sprintf("[%s: binary file, not displayed]", spec.Path)
	}

	content := string(buf)
	truncated := int64(n) < info.Size()

	if spec.StartLine > 0 || spec.EndLine > 0 {
		content = extractLines(content, spec.StartLine, spec.EndLine)
	}

	header := fmt.Sprintf("--- %s ---\n", spec.Path)
	if truncated {
		return header + content + "\n[truncated]"
	}
	return header + content
}

func extractLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

type writePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

const defaultWriteMaxBytes = 10 * 1024 * 1024

// handleWrite backs the `write` tool: create parent dirs as needed, then
// write or append UTF-8 content.
func handleWrite(_ context.Context, tctx *ToolContext, payload string) string {
	var p writePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &p); err != nil {
		return "[input error: malformed write payload: " + err.Error() + "]"
	}
	if p.Path == "" {
		return "[input error: path is required]"
	}
	if len(p.Content) > defaultWriteMaxBytes {
		return "[input error: content exceeds byte cap]"
	}

	resolved, err := resolvePath(p.Path, tctx.Cwd, tctx.AllowedDirs)
	if err != nil {
		return "[" + p.Path + ": " + err.Error() + "]"
	}

	if err := os.MkdirAll(parentDir(resolved), 0o755); err != nil {
		return "[" + p.Path + ": " + err.Error() + "]"
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if p.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return "[" + p.Path + ": " + err.Error() + "]"
	}
	defer f.Close()

	if _, err := f.WriteString(p.Content); err != nil {
		return "[" + p.Path + ": " + err.Error() + "]"
	}

	verb := "wrote"
	if p.Append {
		verb = "appended"
	}
	return fmt.Sprintf("%s %d bytes to %s", verb, len(p.Content), p.Path)
}

func parentDir(path string) string {
	return filepath.Dir(path)
}
