package taskstore

import (
	"context"
	"testing"
)

func TestKV_SetThenGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetKV(ctx, "vectorctx", "missing"); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatal("expected ok=false for an unset key")
	}

	if err := s.SetKV(ctx, "vectorctx", "file_hash:a.md", "hash-1"); err != nil {
		t.Fatal(err)
	}
	value, ok, err := s.GetKV(ctx, "vectorctx", "file_hash:a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || value != "hash-1" {
		t.Fatalf("got (%q, %v), want (\"hash-1\", true)", value, ok)
	}

	if err := s.SetKV(ctx, "vectorctx", "file_hash:a.md", "hash-2"); err != nil {
		t.Fatal(err)
	}
	value, _, err = s.GetKV(ctx, "vectorctx", "file_hash:a.md")
	if err != nil {
		t.Fatal(err)
	}
	if value != "hash-2" {
		t.Fatalf("expected overwrite to stick, got %q", value)
	}
}

func TestKV_NamespacesAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetKV(ctx, "ns-a", "key", "a-value"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetKV(ctx, "ns-b", "key", "b-value"); err != nil {
		t.Fatal(err)
	}
	a, _, _ := s.GetKV(ctx, "ns-a", "key")
	b, _, _ := s.GetKV(ctx, "ns-b", "key")
	if a != "a-value" || b != "b-value" {
		t.Fatalf("expected isolated namespaces, got a=%q b=%q", a, b)
	}
}
