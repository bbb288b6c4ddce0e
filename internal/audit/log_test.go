package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"agrocoop.org/internal/obs"
)

func TestLogRecorder(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recorder := NewLogRecorder(func() time.Time { return fixed })

	ctx := WithRequestID(context.Background(), "req-123")
	err := recorder.Record(ctx, Event{
		Actor:  "user-42",
		Action: ActionLogin,
		Target: "user-42",
		Detail: map[string]any{"origin": "10.0.0.9"},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["action"] != ActionLogin {
		t.Fatalf("unexpected action: %v", entry["action"])
	}
	if entry["actor"] != "user-42" {
		t.Fatalf("unexpected actor: %v", entry["actor"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	detail, ok := entry["detail"].(map[string]any)
	if !ok || detail["origin"] != "10.0.0.9" {
		t.Fatalf("detail missing or incorrect: %v", entry["detail"])
	}
	if entry["ts"] != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", entry["ts"])
	}
}

func TestLogRecorderRequiresAction(t *testing.T) {
	recorder := NewLogRecorder(nil)
	if err := recorder.Record(context.Background(), Event{Actor: "x"}); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestMemoryRecorder(t *testing.T) {
	recorder := NewMemoryRecorder()
	_ = recorder.Record(context.Background(), Event{Actor: "a", Action: ActionRoleAssigned})
	_ = recorder.Record(context.Background(), Event{Actor: "b", Action: ActionLoginFailed})
	_ = recorder.Record(context.Background(), Event{Actor: "c", Action: ActionRoleAssigned})

	if got := len(recorder.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	assigned := recorder.ByAction(ActionRoleAssigned)
	if len(assigned) != 2 || assigned[0].Actor != "a" || assigned[1].Actor != "c" {
		t.Fatalf("unexpected filtered events: %+v", assigned)
	}
	if recorder.Events()[0].ID == "" {
		t.Fatal("expected generated event id")
	}
}
