package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGAssignmentCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into role_assignments").
		WithArgs(sqlmock.AnyArg(), "user-1", "clerk", "active", false, sqlmock.AnyArg(), "boss", "", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	store := NewPGStore(db)
	err = store.Assignments(context.Background()).Create(context.Background(), &Assignment{
		ID:          "a-1",
		PrincipalID: "user-1",
		RoleCode:    "clerk",
		State:       StateActive,
		AssignedBy:  "boss",
		CreatedAt:   time.Now(),
	})
	if !errors.Is(err, ErrDuplicateAssignment) {
		t.Fatalf("expected ErrDuplicateAssignment, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGExpireDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("update role_assignments set state='expired'").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGStore(db)
	n, err := store.Assignments(context.Background()).ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 3 {
		t.Fatalf("expired = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRoleFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select code, name, description").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	store := NewPGStore(db)
	if _, err := store.Roles(context.Background()).Find(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRoleRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"code", "name", "description", "system_managed", "requires_approval",
		"permissions", "parents", "created_at", "updated_at",
	}).AddRow("clerk", "Clerk", "", false, false,
		[]byte(`["members.view"]`), []byte(`["supervisor"]`), created, created)

	mock.ExpectQuery("select code, name, description").WithArgs("clerk").WillReturnRows(rows)

	store := NewPGStore(db)
	role, err := store.Roles(context.Background()).Find(context.Background(), "clerk")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if role.Code != "clerk" || len(role.Permissions) != 1 || role.Parents[0] != "supervisor" {
		t.Fatalf("unexpected role: %+v", role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
