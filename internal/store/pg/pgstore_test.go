package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"lernia.org/internal/access"
	"lernia.org/internal/department"
	"lernia.org/internal/escalation"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestCreateRightMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into access_rights").
		WithArgs("courses:content:read", "courses", "content", "read", "View course content", false, "", true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateRight(context.Background(), access.AccessRight{
		Name:        "courses:content:read",
		Domain:      access.DomainCourses,
		Resource:    "content",
		Action:      "read",
		Description: "View course content",
		Active:      true,
	})
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("duplicate right: got %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRightByNameNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from access_rights where name").
		WithArgs("system:missing:read").
		WillReturnError(sql.ErrNoRows)

	_, err := store.RightByName(context.Background(), "system:missing:read")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("missing right: got %v, want ErrNotFound", err)
	}
}

func TestRoleByNameDecodesJSONRights(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select (.+) from role_definitions where name").
		WithArgs("instructor").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "display_name", "description", "user_type",
			"access_rights", "level", "active", "created_at", "updated_at",
		}).AddRow("01ABC", "instructor", "Instructor", "Teaches courses", "staff",
			[]byte(`["courses:*","content:materials:write"]`), 50, true, now, now))

	role, err := store.RoleByName(context.Background(), "instructor")
	if err != nil {
		t.Fatalf("RoleByName: %v", err)
	}
	if role.UserType != access.UserTypeStaff || len(role.AccessRights) != 2 {
		t.Fatalf("decoded role = %+v", role)
	}
	if role.AccessRights[0] != "courses:*" {
		t.Fatalf("rights order lost: %v", role.AccessRights)
	}
}

func TestDeleteRoleBlockedByMemberships(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from role_definitions where name").
		WithArgs("instructor").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select count(.+) from memberships").
		WithArgs("instructor").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := store.DeleteRole(context.Background(), "instructor", "")
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("delete with dependents: got %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteRoleReassignsAndCommits(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from role_definitions where name").
		WithArgs("instructor").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select count(.+) from memberships").
		WithArgs("instructor").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("update memberships").
		WithArgs("instructor", "learner").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from role_definitions").
		WithArgs("instructor").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.DeleteRole(context.Background(), "instructor", "learner"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReparentRejectsCycleFromQuery(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select depth, parent_id from departments").
		WithArgs("dept-a").
		WillReturnRows(sqlmock.NewRows([]string{"depth", "parent_id"}).AddRow(1, "root"))
	mock.ExpectQuery("select depth, active from departments").
		WithArgs("dept-c").
		WillReturnRows(sqlmock.NewRows([]string{"depth", "active"}).AddRow(3, true))
	mock.ExpectQuery("with recursive ancestors").
		WithArgs("dept-c", "dept-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.Reparent(context.Background(), "dept-a", "dept-c")
	if !errors.Is(err, department.ErrInvalidInput) {
		t.Fatalf("cyclic reparent: got %v, want ErrInvalidInput", err)
	}
}

func TestEscalationSessionRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	granted := time.Now().UTC().Truncate(time.Second)
	expires := granted.Add(30 * time.Minute)

	mock.ExpectExec("insert into escalation_sessions").
		WithArgs("alice", granted, expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select granted_at, expires_at from escalation_sessions").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"granted_at", "expires_at"}).AddRow(granted, expires))

	ctx := context.Background()
	if err := store.Replace(ctx, escalation.Session{UserID: "alice", GrantedAt: granted, ExpiresAt: expires}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	sess, err := store.Session(ctx, "alice")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !sess.ExpiresAt.Equal(expires) {
		t.Fatalf("expires = %v, want %v", sess.ExpiresAt, expires)
	}

	mock.ExpectQuery("select granted_at, expires_at from escalation_sessions").
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.Session(ctx, "nobody"); !errors.Is(err, escalation.ErrNotFound) {
		t.Fatalf("missing session: got %v, want ErrNotFound", err)
	}
}
