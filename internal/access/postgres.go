package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"agrocoop.org/internal/credential"
)

const pgErrUniqueViolation = "23505"

var (
	_ Store      = (*PGStore)(nil)
	_ TokenStore = (*PGTokenStore)(nil)
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals(context.Context) PrincipalStore { return &pgPrincipalStore{db: s.db} }
func (s *PGStore) Attempts(context.Context) AttemptStore     { return &pgAttemptStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore     { return &pgSessionStore{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// Principals ---------------------------------------------------------------

type pgPrincipalStore struct{ db *sql.DB }

func (s *pgPrincipalStore) Create(ctx context.Context, p *Principal) error {
	history, _ := json.Marshal(p.History)
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, username, email, status, secret_hash, secret_changed_at, history, policy_id, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.Username, p.Email, string(p.Status), p.SecretHash,
		nullTime(p.SecretChangedAt), history, nullString(p.PolicyID), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrInvalidInput
	}
	return err
}

const principalColumns = `id, username, email, status, secret_hash, secret_changed_at, history, policy_id, created_at, updated_at`

func (s *pgPrincipalStore) Find(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (s *pgPrincipalStore) FindByUsername(ctx context.Context, username string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where username=$1`, username)
	return scanPrincipal(row)
}

func (s *pgPrincipalStore) Update(ctx context.Context, p *Principal) error {
	history, _ := json.Marshal(p.History)
	res, err := s.db.ExecContext(ctx,
		`update principals
		 set email=$2, status=$3, secret_hash=$4, secret_changed_at=$5, history=$6, policy_id=$7, updated_at=$8
		 where id=$1`,
		p.ID, p.Email, string(p.Status), p.SecretHash,
		nullTime(p.SecretChangedAt), history, nullString(p.PolicyID), p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p       Principal
		status  string
		changed sql.NullTime
		history []byte
		policy  sql.NullString
	)
	err := row.Scan(&p.ID, &p.Username, &p.Email, &status, &p.SecretHash,
		&changed, &history, &policy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Status = AccountStatus(status)
	if changed.Valid {
		p.SecretChangedAt = changed.Time
	}
	if policy.Valid {
		p.PolicyID = policy.String
	}
	_ = json.Unmarshal(history, &p.History)
	if p.History == nil {
		p.History = []credential.HistoryEntry{}
	}
	return &p, nil
}

// Attempts -----------------------------------------------------------------

type pgAttemptStore struct{ db *sql.DB }

func (s *pgAttemptStore) Record(ctx context.Context, a *AccessAttempt) error {
	detail, _ := json.Marshal(a.Detail)
	_, err := s.db.ExecContext(ctx,
		`insert into access_attempts(id, principal_id, kind, outcome, origin, detail, occurred_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, nullString(a.PrincipalID), string(a.Kind), string(a.Outcome),
		a.Origin, detail, a.OccurredAt,
	)
	return err
}

func (s *pgAttemptStore) CountFailures(ctx context.Context, principalID string, kind AttemptKind, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from access_attempts
		 where principal_id=$1 and kind=$2 and outcome='failure' and occurred_at >= $3`,
		principalID, string(kind), since).Scan(&n)
	return n, err
}

// Sessions -----------------------------------------------------------------

type pgSessionStore struct{ db *sql.DB }

func (s *pgSessionStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, principal_id, created_at, last_activity_at)
		 values($1,$2,$3,$4)`,
		sess.ID, sess.PrincipalID, sess.CreatedAt, sess.LastActivityAt,
	)
	return err
}

func (s *pgSessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, principal_id, created_at, last_activity_at, revoked_at, revoke_cause
		 from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *pgSessionStore) Update(ctx context.Context, sess *Session) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set last_activity_at=$2, revoked_at=$3, revoke_cause=$4 where id=$1`,
		sess.ID, sess.LastActivityAt, nullTime(sess.RevokedAt), nullString(sess.RevokeCause),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSessionStore) ListActive(ctx context.Context, principalID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, principal_id, created_at, last_activity_at, revoked_at, revoke_cause
		 from sessions where principal_id=$1 and revoked_at is null order by created_at`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *pgSessionStore) DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions
		 where (revoked_at is not null and revoked_at < $1)
		    or (revoked_at is null and last_activity_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess    Session
		revoked sql.NullTime
		cause   sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.PrincipalID, &sess.CreatedAt,
		&sess.LastActivityAt, &revoked, &cause)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		sess.RevokedAt = revoked.Time
	}
	if cause.Valid {
		sess.RevokeCause = cause.String
	}
	return &sess, nil
}

// Recovery tokens ----------------------------------------------------------

// PGTokenStore implements TokenStore on PostgreSQL. Redemption is a single
// conditional update, so concurrent redeems of the same value resolve to
// exactly one winner.
type PGTokenStore struct {
	db *sql.DB
}

// NewPGTokenStore wraps an open database handle.
func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db}
}

func (s *PGTokenStore) Issue(ctx context.Context, t *RecoveryToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into recovery_tokens(value, principal_id, purpose, issued_at, expires_at)
		 values($1,$2,$3,$4,$5)`,
		t.Value, t.PrincipalID, string(t.Purpose), t.IssuedAt, t.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrInvalidInput
	}
	return err
}

func (s *PGTokenStore) Redeem(ctx context.Context, value string, now time.Time) (*RecoveryToken, error) {
	row := s.db.QueryRowContext(ctx,
		`update recovery_tokens set used=true, used_at=$2
		 where value=$1 and not used and expires_at > $2
		 returning principal_id, purpose, issued_at, expires_at`,
		value, now)
	t := RecoveryToken{Value: value, Used: true, UsedAt: now}
	var purpose string
	if err := row.Scan(&t.PrincipalID, &purpose, &t.IssuedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	t.Purpose = TokenPurpose(purpose)
	return &t, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
