package audit

import (
	"context"
	"encoding/json"
	"time"

	"medregis.org/internal/obs"
)

// LogRecorder writes audit events as JSON lines through the shared logger.
// It is the always-on sink: durable sinks are layered on top via Multi.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, evt Event) error {
	evt = enrich(ctx, evt)
	entry := struct {
		TS   string `json:"ts"`
		Kind string `json:"type"`
		Event
	}{
		TS:    evt.OccurredAt.Format(time.RFC3339Nano),
		Kind:  "audit",
		Event: evt,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
