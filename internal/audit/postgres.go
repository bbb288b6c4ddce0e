package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"agrocoop.org/internal/ids"
)

var _ Recorder = (*PGRecorder)(nil)

// PGRecorder appends events to the audit_log table.
type PGRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGRecorder constructs a PGRecorder. A nil clock falls back to time.Now.
func NewPGRecorder(db *sql.DB, now func() time.Time) *PGRecorder {
	if now == nil {
		now = time.Now
	}
	return &PGRecorder{db: db, now: now}
}

// Record implements Recorder.
func (r *PGRecorder) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	detail, _ := json.Marshal(event.Detail)
	_, err := r.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor, action, target, detail)
		 values($1,$2,$3,$4,$5,$6)`,
		event.ID, event.OccurredAt, event.Actor, event.Action, event.Target, detail,
	)
	return err
}
