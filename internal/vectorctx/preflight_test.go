package vectorctx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andy963/ads/internal/dbutil"
	"github.com/andy963/ads/internal/history"
	"github.com/andy963/ads/internal/taskstore"
)

func openTestStore(t *testing.T) *taskstore.Store {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := taskstore.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newUpsertCountingServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	upserts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/upsert" {
			mu.Lock()
			upserts++
			mu.Unlock()
		}
		_ = json.NewEncoder(w).Encode(struct{}{})
	}))
	t.Cleanup(srv.Close)
	return srv, &upserts
}

func TestIndexWorkspaceDocs_SkipsUnchangedFile(t *testing.T) {
	srv, upserts := newUpsertCountingServer(t)
	kv := openTestStore(t)
	c := New(Config{Enabled: true, BaseURL: srv.URL})

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs/spec"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs/spec/design.md"), []byte("design doc v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := c.IndexWorkspaceDocs(ctx, root, kv); err != nil {
		t.Fatal(err)
	}
	firstRunUpserts := *upserts
	if firstRunUpserts == 0 {
		t.Fatal("expected at least one upsert on first run")
	}

	if err := c.IndexWorkspaceDocs(ctx, root, kv); err != nil {
		t.Fatal(err)
	}
	if *upserts != firstRunUpserts {
		t.Fatalf("expected unchanged file to be skipped on second run, got %d more upserts", *upserts-firstRunUpserts)
	}

	if err := os.WriteFile(filepath.Join(root, "docs/spec/design.md"), []byte("design doc v2, changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.IndexWorkspaceDocs(ctx, root, kv); err != nil {
		t.Fatal(err)
	}
	if *upserts <= firstRunUpserts {
		t.Fatal("expected a changed file to be re-indexed")
	}
}

func TestIndexWorkspaceDocs_MissingFilesAreSkippedNotErrors(t *testing.T) {
	srv, _ := newUpsertCountingServer(t)
	kv := openTestStore(t)
	c := New(Config{Enabled: true, BaseURL: srv.URL})

	if err := c.IndexWorkspaceDocs(context.Background(), t.TempDir(), kv); err != nil {
		t.Fatalf("expected missing spec docs to be skipped, got error: %v", err)
	}
}

func TestIndexHistorySince_AdvancesCursor(t *testing.T) {
	srv, upserts := newUpsertCountingServer(t)
	kv := openTestStore(t)
	c := New(Config{Enabled: true, BaseURL: srv.URL})

	histDB, err := dbutil.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { histDB.Close() })
	hist, err := history.Open(context.Background(), histDB, history.Options{})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := hist.Add(ctx, "sess-1", "user", "hello there", "", time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := c.IndexHistorySince(ctx, hist, kv, "ns", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if *upserts == 0 {
		t.Fatal("expected the new row to be indexed")
	}
	afterFirst := *upserts

	if err := c.IndexHistorySince(ctx, hist, kv, "ns", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if *upserts != afterFirst {
		t.Fatalf("expected no new rows to re-index, got %d more upserts", *upserts-afterFirst)
	}
}
