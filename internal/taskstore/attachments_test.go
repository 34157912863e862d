package taskstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/andy963/ads/internal/apperr"
)

func openTestStoreWithBlobs(t *testing.T) *Store {
	t.Helper()
	s := openTestStore(t)
	s.SetBlobRoot(filepath.Join(t.TempDir(), "attachments"))
	return s
}

func TestCreateAttachment_ThenListUnassigned(t *testing.T) {
	s := openTestStoreWithBlobs(t)
	ctx := context.Background()

	att, err := s.CreateAttachment(ctx, []byte("hello world"), "text/plain", "hello.txt", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if att.ID == "" || att.SHA256 == "" {
		t.Fatalf("expected generated id/sha256, got %+v", att)
	}
	if att.TaskID != "" {
		t.Errorf("new attachment should be unassigned, got TaskID=%q", att.TaskID)
	}

	unassigned, err := s.ListAttachments(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(unassigned) != 1 || unassigned[0].ID != att.ID {
		t.Fatalf("ListAttachments(\"\") = %+v", unassigned)
	}
}

func TestCreateAttachment_DuplicateContentReusesBlob(t *testing.T) {
	s := openTestStoreWithBlobs(t)
	ctx := context.Background()

	a, err := s.CreateAttachment(ctx, []byte("same bytes"), "text/plain", "a.txt", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateAttachment(ctx, []byte("same bytes"), "text/plain", "b.txt", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.SHA256 != b.SHA256 {
		t.Errorf("identical content should hash identically: %q vs %q", a.SHA256, b.SHA256)
	}
	if a.ID == b.ID {
		t.Error("each upload should still get its own row id")
	}
}

func TestAssignAttachment_MovesIntoTaskScope(t *testing.T) {
	s := openTestStoreWithBlobs(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	task, err := s.CreateTask(ctx, Task{Title: "t1", Prompt: "p"}, now, StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	att, err := s.CreateAttachment(ctx, []byte("img bytes"), "image/png", "a.png", 100, 200)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AssignAttachment(ctx, att.ID, task.ID); err != nil {
		t.Fatal(err)
	}

	assigned, err := s.ListAttachments(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assigned) != 1 || assigned[0].ID != att.ID {
		t.Fatalf("ListAttachments(task.ID) = %+v", assigned)
	}
	if assigned[0].Width != 100 || assigned[0].Height != 200 {
		t.Errorf("width/height not preserved: %+v", assigned[0])
	}

	unassigned, err := s.ListAttachments(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(unassigned) != 0 {
		t.Errorf("expected no unassigned attachments left, got %+v", unassigned)
	}
}

func TestAssignAttachment_UnknownIDFails(t *testing.T) {
	s := openTestStoreWithBlobs(t)
	ctx := context.Background()

	err := s.AssignAttachment(ctx, "does-not-exist", "task-1")
	if err == nil || !errors.Is(err, apperr.Input) {
		t.Errorf("expected an input error, got %v", err)
	}
}

func TestReadBlob_RoundTripsContent(t *testing.T) {
	s := openTestStoreWithBlobs(t)
	ctx := context.Background()

	att, err := s.CreateAttachment(ctx, []byte("round trip me"), "text/plain", "f.txt", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	got, content, err := s.ReadBlob(ctx, att.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != att.ID {
		t.Errorf("ReadBlob returned attachment %+v, want id %q", got, att.ID)
	}
	if string(content) != "round trip me" {
		t.Errorf("content = %q", content)
	}
}

func TestCreateAttachment_NoBlobRootFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAttachment(ctx, []byte("x"), "text/plain", "x.txt", 0, 0)
	if err == nil || !errors.Is(err, apperr.Storage) {
		t.Errorf("expected a storage error, got %v", err)
	}
}
