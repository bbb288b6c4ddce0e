package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The one-open-assignment rule
// is enforced by a partial unique index over (principal_id, role_code)
// where state in ('active','pending_approval'); a concurrent duplicate
// insert surfaces as a unique violation and maps to
// ErrDuplicateAssignment.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Roles(context.Context) RoleStore             { return &pgRoleStore{db: s.db} }
func (s *PGStore) Assignments(context.Context) AssignmentStore { return &pgAssignmentStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// Role store ---------------------------------------------------------------

type pgRoleStore struct{ db *sql.DB }

func (s *pgRoleStore) Create(ctx context.Context, role *Role) error {
	perms, _ := json.Marshal(role.Permissions)
	parents, _ := json.Marshal(role.Parents)
	_, err := s.db.ExecContext(ctx,
		`insert into roles(code, name, description, system_managed, requires_approval, permissions, parents)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		role.Code, role.Name, role.Description, role.SystemManaged, role.RequiresApproval, perms, parents,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrInvalidInput
	}
	return err
}

func (s *pgRoleStore) Find(ctx context.Context, code string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select code, name, description, system_managed, requires_approval, permissions, parents, created_at, updated_at
		 from roles where code=$1`, code)
	return scanRole(row)
}

func (s *pgRoleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select code, name, description, system_managed, requires_approval, permissions, parents, created_at, updated_at
		 from roles order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *pgRoleStore) Update(ctx context.Context, role *Role) error {
	perms, _ := json.Marshal(role.Permissions)
	parents, _ := json.Marshal(role.Parents)
	res, err := s.db.ExecContext(ctx,
		`update roles set name=$2, description=$3, requires_approval=$4, permissions=$5, parents=$6, updated_at=now()
		 where code=$1`,
		role.Code, role.Name, role.Description, role.RequiresApproval, perms, parents,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRoleStore) Delete(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where code=$1 and not system_managed`, code)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ErrRoleHasAssignments
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRoleStore) Ensure(ctx context.Context, roles []Role) error {
	for _, role := range roles {
		perms, _ := json.Marshal(role.Permissions)
		parents, _ := json.Marshal(role.Parents)
		_, err := s.db.ExecContext(ctx,
			`insert into roles(code, name, description, system_managed, requires_approval, permissions, parents)
			 values($1,$2,$3,$4,$5,$6,$7) on conflict (code) do nothing`,
			role.Code, role.Name, role.Description, role.SystemManaged, role.RequiresApproval, perms, parents,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		role    Role
		perms   []byte
		parents []byte
	)
	err := row.Scan(&role.Code, &role.Name, &role.Description, &role.SystemManaged,
		&role.RequiresApproval, &perms, &parents, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(perms, &role.Permissions)
	_ = json.Unmarshal(parents, &role.Parents)
	return &role, nil
}

// Assignment store ---------------------------------------------------------

type pgAssignmentStore struct{ db *sql.DB }

func (s *pgAssignmentStore) Create(ctx context.Context, a *Assignment) error {
	var expires any
	if !a.ExpiresAt.IsZero() {
		expires = a.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`insert into role_assignments(id, principal_id, role_code, state, temporary, expires_at, assigned_by, reason, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PrincipalID, a.RoleCode, string(a.State), a.Temporary, expires, a.AssignedBy, a.Reason, a.CreatedAt,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrDuplicateAssignment
	}
	return err
}

func (s *pgAssignmentStore) Find(ctx context.Context, id string) (*Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, principal_id, role_code, state, temporary, expires_at, assigned_by, approved_by, reason, created_at, deactivated_at, deactivation_cause
		 from role_assignments where id=$1`, id)
	return scanAssignment(row)
}

func (s *pgAssignmentStore) ListByPrincipal(ctx context.Context, principalID string) ([]*Assignment, error) {
	return s.list(ctx,
		`select id, principal_id, role_code, state, temporary, expires_at, assigned_by, approved_by, reason, created_at, deactivated_at, deactivation_cause
		 from role_assignments where principal_id=$1 order by created_at`, principalID)
}

func (s *pgAssignmentStore) ListByRole(ctx context.Context, roleCode string) ([]*Assignment, error) {
	return s.list(ctx,
		`select id, principal_id, role_code, state, temporary, expires_at, assigned_by, approved_by, reason, created_at, deactivated_at, deactivation_cause
		 from role_assignments where role_code=$1 order by created_at`, roleCode)
}

func (s *pgAssignmentStore) list(ctx context.Context, query string, arg any) ([]*Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgAssignmentStore) Update(ctx context.Context, a *Assignment) error {
	var deactivated any
	if !a.DeactivatedAt.IsZero() {
		deactivated = a.DeactivatedAt
	}
	res, err := s.db.ExecContext(ctx,
		`update role_assignments
		 set state=$2, approved_by=$3, deactivated_at=$4, deactivation_cause=$5
		 where id=$1`,
		a.ID, string(a.State), a.ApprovedBy, deactivated, a.DeactivationCause,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAssignmentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from role_assignments where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAssignmentStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update role_assignments set state='expired'
		 where state='active' and expires_at is not null and expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *pgAssignmentStore) CountNonTerminalByRole(ctx context.Context, roleCode string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from role_assignments
		 where role_code=$1 and state in ('active','pending_approval')`, roleCode).Scan(&n)
	return n, err
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	var (
		a           Assignment
		state       string
		expires     sql.NullTime
		approvedBy  sql.NullString
		deactivated sql.NullTime
		cause       sql.NullString
	)
	err := row.Scan(&a.ID, &a.PrincipalID, &a.RoleCode, &state, &a.Temporary,
		&expires, &a.AssignedBy, &approvedBy, &a.Reason, &a.CreatedAt, &deactivated, &cause)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.State = AssignmentState(state)
	if expires.Valid {
		a.ExpiresAt = expires.Time
	}
	if approvedBy.Valid {
		a.ApprovedBy = approvedBy.String
	}
	if deactivated.Valid {
		a.DeactivatedAt = deactivated.Time
	}
	if cause.Valid {
		a.DeactivationCause = cause.String
	}
	return &a, nil
}
