package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andy963/ads/internal/dbutil"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(context.Background(), db, opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAdd_AndGet_OldestFirst(t *testing.T) {
	s := openTestStore(t, Options{})
	now := time.Unix(1000, 0)

	for i, text := range []string{"first", "second", "third"} {
		if _, err := s.Add(context.Background(), "sess-1", "user", text, "", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Text != "first" || entries[2].Text != "third" {
		t.Errorf("order wrong: %+v", entries)
	}
}

func TestAdd_DedupesByClientMessageIDWithinWindow(t *testing.T) {
	s := openTestStore(t, Options{DedupWindow: time.Hour})
	now := time.Unix(2000, 0)

	inserted1, err := s.Add(context.Background(), "sess-1", "user", "hello", "client_message_id:abc", now)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted1 {
		t.Fatalf("expected first insert to succeed")
	}

	inserted2, err := s.Add(context.Background(), "sess-1", "user", "hello again", "client_message_id:abc", now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if inserted2 {
		t.Fatalf("expected duplicate client_message_id to be deduped")
	}

	entries, _ := s.Get(context.Background(), "sess-1")
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 after dedup", len(entries))
	}
}

func TestAdd_AllowsDuplicateClientMessageIDOutsideWindow(t *testing.T) {
	s := openTestStore(t, Options{DedupWindow: time.Second})
	now := time.Unix(3000, 0)

	if _, err := s.Add(context.Background(), "sess-1", "user", "first", "client_message_id:xyz", now); err != nil {
		t.Fatal(err)
	}
	inserted, err := s.Add(context.Background(), "sess-1", "user", "second", "client_message_id:xyz", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatalf("expected insert outside dedup window to succeed")
	}
}

func TestAdd_TrimsToMaxEntries(t *testing.T) {
	s := openTestStore(t, Options{MaxEntries: 3})
	now := time.Unix(4000, 0)

	for i := 0; i < 5; i++ {
		if _, err := s.Add(context.Background(), "sess-1", "user", "msg", "", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 after trim", len(entries))
	}
}

func TestAdd_TruncatesLongText(t *testing.T) {
	s := openTestStore(t, Options{MaxTextLength: 10})
	now := time.Unix(5000, 0)

	if _, err := s.Add(context.Background(), "sess-1", "user", "this text is definitely too long", "", now); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.Get(context.Background(), "sess-1")
	if len(entries[0].Text) > 11 { // 10 chars + ellipsis rune
		t.Errorf("text not truncated: %q (len %d)", entries[0].Text, len(entries[0].Text))
	}
}

func TestGet_EmptySessionReturnsNoRows(t *testing.T) {
	s := openTestStore(t, Options{})
	entries, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestAdd_SeparateSessionsDoNotInterfere(t *testing.T) {
	s := openTestStore(t, Options{MaxEntries: 2})
	now := time.Unix(6000, 0)

	for i := 0; i < 3; i++ {
		if _, err := s.Add(context.Background(), "sess-a", "user", "a", "", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Add(context.Background(), "sess-b", "user", "b", "", now); err != nil {
		t.Fatal(err)
	}

	a, _ := s.Get(context.Background(), "sess-a")
	b, _ := s.Get(context.Background(), "sess-b")
	if len(a) != 2 {
		t.Errorf("sess-a got %d entries, want 2", len(a))
	}
	if len(b) != 1 {
		t.Errorf("sess-b got %d entries, want 1", len(b))
	}
}

func TestClear_RemovesOnlyTargetSession(t *testing.T) {
	s := openTestStore(t, Options{})
	now := time.Unix(7000, 0)

	if _, err := s.Add(context.Background(), "sess-a", "user", "a", "", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(context.Background(), "sess-b", "user", "b", "", now); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(context.Background(), "sess-a"); err != nil {
		t.Fatal(err)
	}

	a, _ := s.Get(context.Background(), "sess-a")
	b, _ := s.Get(context.Background(), "sess-b")
	if len(a) != 0 {
		t.Errorf("sess-a got %d entries after Clear, want 0", len(a))
	}
	if len(b) != 1 {
		t.Errorf("sess-b got %d entries, want 1 (untouched)", len(b))
	}
}
