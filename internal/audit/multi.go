package audit

import (
	"context"

	"medregis.org/internal/obs"
)

// Multi fans an event out to every configured sink. Sink failures are logged
// at low severity and swallowed: audit is best-effort by contract, and a
// broken sink must never abort the mutation the event describes.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, evt Event) error {
	evt = enrich(ctx, evt)
	for _, rec := range m {
		if rec == nil {
			continue
		}
		if err := rec.Record(ctx, evt); err != nil {
			obs.Log(map[string]any{
				"level": "warn",
				"msg":   "audit_sink_failure",
				"event": string(evt.Type),
				"error": err.Error(),
			})
		}
	}
	return nil
}
