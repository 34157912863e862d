package toolsreg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRegistry_HasAllNinedTools(t *testing.T) {
	r := NewRegistry()
	want := []string{"agent", "apply_patch", "exec", "find", "grep", "read", "search", "vsearch", "write"}
	got := r.sortedKeys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDispatch_ReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	tctx := &ToolContext{Cwd: dir, AllowedDirs: []string{dir}}

	writeText := "<<<tool.write\n{\"path\":\"out.txt\",\"content\":\"hello\"}\n>>>"
	writeResult := r.Dispatch(context.Background(), tctx, writeText)
	if !strings.Contains(writeResult.Replaced, "wrote 5 bytes") {
		t.Fatalf("write output = %q", writeResult.Replaced)
	}

	readText := "<<<tool.read\nout.txt\n>>>"
	readResult := r.Dispatch(context.Background(), tctx, readText)
	if !strings.Contains(readResult.Replaced, "hello") {
		t.Fatalf("read output = %q", readResult.Replaced)
	}
}

func TestDispatch_WriteOutsideAllowlistRejected(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	tctx := &ToolContext{Cwd: dir, AllowedDirs: []string{dir}}

	text := "<<<tool.write\n{\"path\":\"../../../etc/passwd\",\"content\":\"x\"}\n>>>"
	result := r.Dispatch(context.Background(), tctx, text)
	if !strings.Contains(result.Replaced, "not in allowlist") {
		t.Fatalf("expected allowlist rejection, got %q", result.Replaced)
	}
	if _, err := os.Stat("/etc/passwd.bak"); err == nil {
		t.Fatalf("should never have touched /etc")
	}
}

func TestDispatch_StrippedRemovesBlocks(t *testing.T) {
	r := NewRegistry()
	tctx := &ToolContext{Cwd: t.TempDir()}
	text := "before <<<tool.agent\n{}\n>>> after"
	result := r.Dispatch(context.Background(), tctx, text)
	if strings.Contains(result.Stripped, "<<<") {
		t.Fatalf("stripped text still contains block markup: %q", result.Stripped)
	}
}

func TestDispatch_ParallelBatchRunsConcurrently(t *testing.T) {
	r := NewRegistry()
	var inFlight int32
	var maxInFlight int32
	r.Register("read", func(ctx context.Context, tctx *ToolContext, payload string) string {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "ok"
	})

	text := "<<<tool.read\na\n>>><<<tool.read\nb\n>>><<<tool.read\nc\n>>>"
	tctx := &ToolContext{Cwd: t.TempDir()}
	r.Dispatch(context.Background(), tctx, text)

	if atomic.LoadInt32(&maxInFlight) < 2 {
		t.Fatalf("expected concurrent execution, max in flight = %d", maxInFlight)
	}
}

func TestDispatch_NonParallelToolBreaksBatch(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.Register("read", func(ctx context.Context, tctx *ToolContext, payload string) string {
		order = append(order, "read:"+payload)
		return payload
	})
	r.Register("exec", func(ctx context.Context, tctx *ToolContext, payload string) string {
		order = append(order, "exec:"+payload)
		return payload
	})

	text := "<<<tool.read\n1\n>>><<<tool.exec\n2\n>>><<<tool.read\n3\n>>>"
	tctx := &ToolContext{Cwd: t.TempDir()}
	result := r.Dispatch(context.Background(), tctx, text)
	if result.Replaced != "123" {
		t.Fatalf("replaced = %q, want %q", result.Replaced, "123")
	}
	if len(order) != 3 {
		t.Fatalf("expected 3 recorded invocations, got %v", order)
	}
}

func TestDispatch_UnknownToolNameYieldsError(t *testing.T) {
	r := NewRegistry()
	tctx := &ToolContext{Cwd: t.TempDir()}
	text := "<<<tool.bogus\nx\n>>>"
	result := r.Dispatch(context.Background(), tctx, text)
	if !strings.Contains(result.Replaced, "unknown tool") {
		t.Fatalf("expected unknown tool error, got %q", result.Replaced)
	}
}

func TestHandleVSearch_SkippedWhenDisabled(t *testing.T) {
	tctx := &ToolContext{Cwd: t.TempDir(), VectorDisabled: true}
	got := handleVSearch(context.Background(), tctx, "anything")
	if got != "" {
		t.Fatalf("expected empty output when disabled, got %q", got)
	}
}

func TestHandleSearch_ConfigErrorWithoutProvider(t *testing.T) {
	tctx := &ToolContext{Cwd: t.TempDir()}
	got := handleSearch(context.Background(), tctx, "weather today")
	if !strings.Contains(got, "config error") {
		t.Fatalf("expected config error, got %q", got)
	}
}

func TestHandleAgent_ErrorWithoutInvoker(t *testing.T) {
	tctx := &ToolContext{Cwd: t.TempDir()}
	got := handleAgent(context.Background(), tctx, "aux\ndo it")
	if !strings.Contains(got, "not available") {
		t.Fatalf("got %q", got)
	}
}

func TestHandleGrep_FindsMatchViaWalker(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("needle here\nhay\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tctx := &ToolContext{Cwd: dir, AllowedDirs: []string{dir}}
	got := walkGrep(grepPayload{Pattern: "needle"}, dir, 10)
	if !strings.Contains(got, "needle here") {
		t.Fatalf("got %q", got)
	}
	_ = tctx
}
