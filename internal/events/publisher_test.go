package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"

	"labelflow/internal/domain"
)

func runNATS(t *testing.T, jetstream bool) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	if jetstream {
		opts.JetStream = true
		opts.StoreDir = t.TempDir()
	}
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func newTestPublisher(t *testing.T, url, stream string) *NATSPublisher {
	t.Helper()
	p, err := NewNATSPublisher(NATSConfig{URL: url, Name: "labelflow-test", SubjectPrefix: "labelflow.events.", Stream: stream}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

var claimEvent = domain.Event{
	ID:         7,
	Type:       "project.claim_labeling",
	ProjectID:  "p1",
	EntityKind: "project",
	EntityID:   "p1",
	ActorID:    "lab",
	TS:         "2024-03-01T12:00:00Z",
	Payload:    `{"to":"Labeling Started"}`,
}

func TestNATSPublishDeliversWireEvent(t *testing.T) {
	s := runNATS(t, false)
	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	sub, err := nc.SubscribeSync("labelflow.events.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	p := newTestPublisher(t, s.ClientURL(), "")
	if err := p.Publish(context.Background(), claimEvent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if msg.Subject != "labelflow.events.project.claim_labeling" {
		t.Fatalf("subject %q", msg.Subject)
	}
	if got := msg.Header.Get("Labelflow-Event-Id"); got != "7" {
		t.Fatalf("event id header %q", got)
	}
	var w WireEvent
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.ID != 7 || w.ActorID != "lab" || string(w.Payload) != claimEvent.Payload {
		t.Fatalf("unexpected wire event %+v", w)
	}
}

func TestNATSJetStreamDedupesByEventID(t *testing.T) {
	s := runNATS(t, true)
	p := newTestPublisher(t, s.ClientURL(), "LABELFLOW")
	ctx := context.Background()
	for range 2 {
		if err := p.Publish(ctx, claimEvent); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	next := claimEvent
	next.ID = 8
	if err := p.Publish(ctx, next); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// a second publisher reuses the existing stream
	newTestPublisher(t, s.ClientURL(), "LABELFLOW")

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	info, err := js.StreamInfo("LABELFLOW")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 2 {
		t.Fatalf("expected 2 stored events, got %d", info.State.Msgs)
	}
}

func TestNewNATSPublisherRejectsEmptyURL(t *testing.T) {
	if _, err := NewNATSPublisher(NATSConfig{}, nil); err == nil {
		t.Fatalf("expected error")
	}
}
