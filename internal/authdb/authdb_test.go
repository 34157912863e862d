package authdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/dbutil"
	"github.com/google/uuid"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	sqlDB, err := dbutil.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	d, err := Open(context.Background(), sqlDB, opts)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCreateUser_ThenVerifyLoginSucceeds(t *testing.T) {
	d := openTestDB(t, Options{})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	if _, err := d.CreateUser(ctx, uuid.NewString(), "alice", "correct horse", now); err != nil {
		t.Fatal(err)
	}

	u, err := d.VerifyLogin(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q", u.Username)
	}
}

func TestVerifyLogin_WrongPasswordFails(t *testing.T) {
	d := openTestDB(t, Options{})
	ctx := context.Background()

	if _, err := d.CreateUser(ctx, uuid.NewString(), "bob", "hunter2", time.Unix(1000, 0)); err != nil {
		t.Fatal(err)
	}

	_, err := d.VerifyLogin(ctx, "bob", "wrong")
	if err == nil || !errors.Is(err, apperr.Auth) {
		t.Errorf("expected an auth error, got %v", err)
	}
}

func TestVerifyLogin_UnknownUsernameFails(t *testing.T) {
	d := openTestDB(t, Options{})
	_, err := d.VerifyLogin(context.Background(), "nobody", "whatever")
	if err == nil || !errors.Is(err, apperr.Auth) {
		t.Errorf("expected an auth error, got %v", err)
	}
}

func TestCreateUser_DuplicateUsernameRejected(t *testing.T) {
	d := openTestDB(t, Options{})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	if _, err := d.CreateUser(ctx, uuid.NewString(), "carol", "pw1", now); err != nil {
		t.Fatal(err)
	}
	_, err := d.CreateUser(ctx, uuid.NewString(), "carol", "pw2", now)
	if err != ErrUsernameTaken {
		t.Errorf("err = %v, want ErrUsernameTaken", err)
	}
}

func TestCreateSession_ThenVerifySessionSucceeds(t *testing.T) {
	d := openTestDB(t, Options{Pepper: "pepper-value"})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	u, err := d.CreateUser(ctx, uuid.NewString(), "dave", "pw", now)
	if err != nil {
		t.Fatal(err)
	}
	_, token, err := d.CreateSession(ctx, uuid.NewString(), u.ID, now)
	if err != nil {
		t.Fatal(err)
	}

	s, err := d.VerifySession(ctx, token, now.Add(time.Minute), "1.2.3.4", "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	if s.UserID != u.ID {
		t.Errorf("UserID = %q, want %q", s.UserID, u.ID)
	}
}

func TestVerifySession_ExpiredTokenFails(t *testing.T) {
	d := openTestDB(t, Options{SessionTTL: time.Hour})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	u, _ := d.CreateUser(ctx, uuid.NewString(), "erin", "pw", now)
	_, token, err := d.CreateSession(ctx, uuid.NewString(), u.ID, now)
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.VerifySession(ctx, token, now.Add(2*time.Hour), "", "")
	if err == nil || !errors.Is(err, apperr.Auth) {
		t.Errorf("expected expired session to fail verification, got %v", err)
	}
}

func TestRevokeSession_ThenVerifyFails(t *testing.T) {
	d := openTestDB(t, Options{})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	u, _ := d.CreateUser(ctx, uuid.NewString(), "frank", "pw", now)
	_, token, err := d.CreateSession(ctx, uuid.NewString(), u.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RevokeSession(ctx, token, now); err != nil {
		t.Fatal(err)
	}

	_, err = d.VerifySession(ctx, token, now.Add(time.Minute), "", "")
	if err == nil {
		t.Errorf("expected revoked session to fail verification")
	}
}

func TestVerifySession_WrongPepperFails(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	sqlDB, err := dbutil.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	d1, err := Open(ctx, sqlDB, Options{Pepper: "pepper-a"})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := d1.CreateUser(ctx, uuid.NewString(), "grace", "pw", now)
	_, token, err := d1.CreateSession(ctx, uuid.NewString(), u.ID, now)
	if err != nil {
		t.Fatal(err)
	}

	d2, err := Open(ctx, sqlDB, Options{Pepper: "pepper-b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d2.VerifySession(ctx, token, now.Add(time.Minute), "", ""); err == nil {
		t.Errorf("expected a session hashed under a different pepper to fail verification")
	}
}

func TestProjects_CreateListReorderDelete(t *testing.T) {
	d := openTestDB(t, Options{})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	p1, err := d.CreateProject(ctx, "user-1", "proj-1", "/ws/a", "Alpha", now)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := d.CreateProject(ctx, "user-1", "proj-2", "/ws/b", "Beta", now)
	if err != nil {
		t.Fatal(err)
	}
	if p1.SortOrder != 0 || p2.SortOrder != 1 {
		t.Fatalf("unexpected sort orders: %d, %d", p1.SortOrder, p2.SortOrder)
	}

	if err := d.ReorderProjects(ctx, "user-1", []string{"proj-2", "proj-1"}, now); err != nil {
		t.Fatal(err)
	}

	list, err := d.ListProjects(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ProjectID != "proj-2" || list[1].ProjectID != "proj-1" {
		t.Fatalf("unexpected order after reorder: %+v", list)
	}

	if err := d.DeleteProject(ctx, "user-1", "proj-1"); err != nil {
		t.Fatal(err)
	}
	list, _ = d.ListProjects(ctx, "user-1")
	if len(list) != 1 {
		t.Errorf("expected 1 project after delete, got %d", len(list))
	}
}

func TestDeleteProject_UnknownIsNotFound(t *testing.T) {
	d := openTestDB(t, Options{})
	err := d.DeleteProject(context.Background(), "user-1", "no-such-project")
	if err != ErrProjectNotFound {
		t.Errorf("err = %v, want ErrProjectNotFound", err)
	}
}

func TestPrompts_UpsertListDelete(t *testing.T) {
	d := openTestDB(t, Options{})
	ctx := context.Background()
	now := time.Unix(1000, 0)

	if _, err := d.UpsertPrompt(ctx, "user-1", "p1", "Greeting", "hello", now); err != nil {
		t.Fatal(err)
	}
	if _, err := d.UpsertPrompt(ctx, "user-1", "p1", "Greeting v2", "hello again", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	list, err := d.ListPrompts(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Greeting v2" {
		t.Fatalf("expected the upsert to overwrite, got %+v", list)
	}

	if err := d.DeletePrompt(ctx, "user-1", "p1"); err != nil {
		t.Fatal(err)
	}
	list, _ = d.ListPrompts(ctx, "user-1")
	if len(list) != 0 {
		t.Errorf("expected 0 prompts after delete, got %d", len(list))
	}
}

