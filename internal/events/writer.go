package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"labelflow/internal/domain"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an audit event inside tx and returns it with its assigned id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.TS, evt.Type, nullable(projectID), entityKind, nullable(entityID), actorID, evt.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event %s: %w", evtType, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		evt.ID = id
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
