package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var sessionCols = []string{"id", "token_hash", "owner_id", "issued_at", "expires_at", "last_used_at", "ip_address", "user_agent"}

func TestCreateSession(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sess := &auth.Session{ID: "s1", TokenHash: "h1", OwnerID: "o1", IssuedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now, UserAgent: "curl"}

	mock.ExpectExec("insert into sessions").
		WithArgs("s1", "h1", "o1", now, now.Add(time.Hour), now, sql.NullString{}, sql.NullString{String: "curl", Valid: true}).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mock.ExpectExec("insert into sessions").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if err := store.CreateSession(context.Background(), sess); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSessionByTokenHash(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select id, token_hash, owner_id").WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", "h1", "o1", now, now.Add(time.Hour), now, nil, "curl"))
	sess, err := store.SessionByTokenHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("SessionByTokenHash: %v", err)
	}
	if sess.OwnerID != "o1" || sess.IPAddress != "" || sess.UserAgent != "curl" {
		t.Fatalf("unexpected session %+v", sess)
	}

	mock.ExpectQuery("select id, token_hash, owner_id").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := store.SessionByTokenHash(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSessions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("delete from sessions where token_hash").WithArgs("h1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteSession(context.Background(), "h1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	mock.ExpectExec("delete from sessions where owner_id").WithArgs("o1").WillReturnResult(sqlmock.NewResult(0, 3))
	if n, err := store.DeleteSessionsByOwner(context.Background(), "o1"); err != nil || n != 3 {
		t.Fatalf("DeleteSessionsByOwner = %d, %v", n, err)
	}

	mock.ExpectExec("delete from sessions where expires_at <=").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 7))
	if n, err := store.DeleteExpiredSessions(context.Background(), now); err != nil || n != 7 {
		t.Fatalf("DeleteExpiredSessions = %d, %v", n, err)
	}

	mock.ExpectExec("update sessions set last_used_at").WithArgs("s1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.TouchSession(context.Background(), "s1", now); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
}

var profileCols = []string{"id", "owner_id", "role", "roles", "permissions", "status", "is_blocked", "created_at", "updated_at", "last_login_at"}

func TestProfileByOwner(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select id, owner_id, role, roles, permissions").WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow("p1", "o1", "reviewer", []byte(`["reviewer","creator"]`), []byte(`["report:export"]`), "active", false, now, now, now))
	p, err := store.ProfileByOwner(context.Background(), "o1")
	if err != nil {
		t.Fatalf("ProfileByOwner: %v", err)
	}
	if p.Role != auth.RoleReviewer || len(p.Roles) != 2 || p.Roles[1] != auth.RoleCreator {
		t.Fatalf("roles not decoded: %+v", p)
	}
	if len(p.Permissions) != 1 || p.Permissions[0] != "report:export" || p.LastLoginAt == nil {
		t.Fatalf("unexpected profile %+v", p)
	}

	mock.ExpectQuery("select id, owner_id, role, roles, permissions").WithArgs("o2").
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow("p2", "o2", "user", nil, []byte(`[]`), "banned", false, now, now, nil))
	if _, err := store.ProfileByOwner(context.Background(), "o2"); err == nil {
		t.Fatal("expected unknown status to fail decoding")
	}

	mock.ExpectQuery("select id, owner_id, role, roles, permissions").WithArgs("o3").WillReturnError(sql.ErrNoRows)
	if _, err := store.ProfileByOwner(context.Background(), "o3"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateProfileConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p := &auth.Profile{ID: "p1", OwnerID: "o1", Role: auth.RoleUser, Status: auth.StatusActive, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("insert into auth_profiles").
		WithArgs("p1", "o1", "user", nil, []byte("[]"), "active", false, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.CreateProfile(context.Background(), p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	mock.ExpectExec("insert into auth_profiles").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if err := store.CreateProfile(context.Background(), p); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p := auth.Profile{OwnerID: "o1", Role: auth.RoleAdmin, Roles: []auth.RoleName{auth.RoleAdmin}, Status: auth.StatusSuspended, UpdatedAt: now}

	mock.ExpectExec("update auth_profiles").
		WithArgs("o1", "admin", []byte(`["admin"]`), []byte("[]"), "suspended", false, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.UpdateProfile(context.Background(), p); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	mock.ExpectExec("update auth_profiles").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.UpdateProfile(context.Background(), p); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIdentityByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select id, email, password_hash").WithArgs("a@b.c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).AddRow("i1", "a@b.c", "hash", now))
	rec, err := store.IdentityByEmail(context.Background(), "a@b.c")
	if err != nil || rec.ID != "i1" {
		t.Fatalf("IdentityByEmail = %+v, %v", rec, err)
	}

	mock.ExpectQuery("select id, email, password_hash").WithArgs("x@b.c").WillReturnError(sql.ErrNoRows)
	if _, err := store.IdentityByEmail(context.Background(), "x@b.c"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditAppendAndRecent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	entry := audit.Entry{
		ID: "a1", ActorID: "admin-1", Action: "role.change", Resource: "profile", ResourceID: "o1",
		OldValue: map[string]any{"role": "user"}, NewValue: map[string]any{"role": "admin"},
		IPAddress: "203.0.113.7", UserAgent: "curl", Success: false, ErrorMessage: "forbidden", Timestamp: now,
	}

	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", sql.NullString{String: "admin-1", Valid: true}, "role.change", "profile", sql.NullString{String: "o1", Valid: true},
			[]byte(`{"role":"user"}`), []byte(`{"role":"admin"}`), "203.0.113.7", "curl", false,
			sql.NullString{String: "forbidden", Valid: true}, sql.NullString{}, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	cols := []string{"id", "actor_id", "action", "resource", "resource_id", "old_value", "new_value", "ip_address", "user_agent", "success", "error_message", "request_id", "created_at"}
	mock.ExpectQuery("select id, actor_id, action").WithArgs(10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a1", "admin-1", "role.change", "profile", "o1", []byte(`{"role":"user"}`), nil, "203.0.113.7", "curl", false, "forbidden", nil, now))
	got, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].OldValue["role"] != "user" || got[0].NewValue != nil || got[0].ErrorMessage != "forbidden" {
		t.Fatalf("unexpected entries %+v", got)
	}
}
