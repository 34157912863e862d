package taskstore

import (
	"context"
	"testing"
	"time"
)

func TestApproveBundleDraft_CreatesTasksOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	draft, err := s.CreateBundleDraft(ctx, "", []BundleTaskSpec{
		{Title: "a", Prompt: "do a"},
		{Title: "b", Prompt: "do b"},
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	ids1, err := s.ApproveBundleDraft(ctx, draft.ID, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids1) != 2 {
		t.Fatalf("expected 2 created task ids, got %d", len(ids1))
	}

	tasks, err := s.ListTasks(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks materialized, got %d", len(tasks))
	}

	ids2, err := s.ApproveBundleDraft(ctx, draft.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids2) != 2 || ids2[0] != ids1[0] || ids2[1] != ids1[1] {
		t.Fatalf("expected repeat approval to return the same ids, got %v want %v", ids2, ids1)
	}

	tasks, err = s.ListTasks(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected repeat approval not to create more tasks, got %d", len(tasks))
	}
}

func TestApproveBundleDraft_UnknownDraftFails(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ApproveBundleDraft(context.Background(), "no-such-draft", time.Unix(1, 0))
	if err == nil {
		t.Fatal("expected error for unknown draft")
	}
}
