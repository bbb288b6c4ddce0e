package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"agrocoop.org/internal/ids"
	"agrocoop.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogRecorder writes events as JSON lines through the shared logger. It is
// the default trail when no durable sink is wired.
type LogRecorder struct {
	now func() time.Time
}

// NewLogRecorder constructs a LogRecorder. A nil clock falls back to time.Now.
func NewLogRecorder(now func() time.Time) *LogRecorder {
	if now == nil {
		now = time.Now
	}
	return &LogRecorder{now: now}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return errors.New("audit: action is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	entry := map[string]any{
		"ts":     event.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"id":     event.ID,
		"action": event.Action,
		"actor":  event.Actor,
		"target": event.Target,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(event.Detail) > 0 {
		detail := make(map[string]any, len(event.Detail))
		for k, v := range event.Detail {
			detail[k] = v
		}
		entry["detail"] = detail
	} else {
		entry["detail"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
