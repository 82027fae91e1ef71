package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"medregis.org/internal/obs"
)

func TestLogRecorderEmitsJSONLine(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	ctx := WithRequestID(context.Background(), "req-123")
	err := LogRecorder{}.Record(ctx, Event{
		Type: EventLogin, Success: false,
		ActorUserID:   "u-1",
		FailureReason: "password_mismatch",
		Fields:        map[string]string{"email": "a@x.com"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != string(EventLogin) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("request id not propagated: %v", entry["request_id"])
	}
	if entry["id"] == "" || entry["ts"] == "" {
		t.Fatalf("expected generated id and timestamp: %v", entry)
	}
	if entry["failure_reason"] != "password_mismatch" {
		t.Fatalf("unexpected failure reason: %v", entry["failure_reason"])
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := requestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
