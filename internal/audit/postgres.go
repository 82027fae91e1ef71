package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PGRecorder appends events to the security_audit_log table.
type PGRecorder struct {
	db *sql.DB
}

func NewPGRecorder(db *sql.DB) *PGRecorder {
	return &PGRecorder{db: db}
}

func (r *PGRecorder) Record(ctx context.Context, evt Event) error {
	evt = enrich(ctx, evt)
	var fields []byte
	if len(evt.Fields) > 0 {
		fields, _ = json.Marshal(evt.Fields)
	}
	_, err := r.db.ExecContext(ctx,
		`insert into security_audit_log(id, occurred_at, event_type, success, actor_user_id, subject_user_id, center_id, origin, user_agent, failure_reason, request_id, fields)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		evt.ID, evt.OccurredAt, string(evt.Type), evt.Success,
		nullable(evt.ActorUserID), nullable(evt.SubjectUserID), nullable(evt.CenterID),
		nullable(evt.Origin), nullable(evt.UserAgent), nullable(evt.FailureReason),
		nullable(evt.RequestID), fields,
	)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
