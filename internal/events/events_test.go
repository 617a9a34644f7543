package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"labelflow/internal/db"
	"labelflow/internal/domain"
	"labelflow/internal/migrate"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	w := Writer{Now: func() time.Time { return fixed }}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	first, err := w.Append(ctx, tx, "project.create", "p1", "project", "p1", "sub", EventPayload{"name": "Cats"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := w.Append(ctx, tx, "task.create", "", "task", "t1", "sub", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}
	if first.TS != "2024-03-01T11:00:00Z" {
		t.Fatalf("expected UTC timestamp, got %s", first.TS)
	}
	if second.Payload != "{}" {
		t.Fatalf("expected empty object payload, got %q", second.Payload)
	}
}

func TestToWireKeepsJSONPayload(t *testing.T) {
	w := ToWire(domain.Event{ID: 7, Type: "project.claim_labeling", ProjectID: "p1", EntityKind: "project", Payload: `{"to":"Labeling Started"}`})
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload, ok := decoded["payload"].(map[string]any)
	if !ok || payload["to"] != "Labeling Started" {
		t.Fatalf("payload not embedded as JSON: %s", data)
	}
	if _, ok := decoded["payload_raw"]; ok {
		t.Fatalf("unexpected payload_raw: %s", data)
	}

	raw := ToWire(domain.Event{ID: 8, Type: "legacy", Payload: "not json"})
	if string(raw.Payload) != "{}" || raw.PayloadRaw != "not json" {
		t.Fatalf("unexpected raw handling %+v", raw)
	}
}

func TestSubjectUsesPrefixAndType(t *testing.T) {
	p := &NATSPublisher{prefix: "labelflow.events"}
	got := p.Subject(domain.Event{Type: "project.finalize"})
	if got != "labelflow.events.project.finalize" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), domain.Event{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
