package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"labelflow/internal/domain"
)

// Publisher fans committed events out to other services. Publishing happens
// after commit; a failure never rolls back or re-applies the change.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Event) error { return nil }
func (Nop) Close() error                                { return nil }

type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	// Stream, when set, routes publishes through JetStream.
	Stream        string
	MaxReconnects int
}

type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    *slog.Logger
}

func NewNATSPublisher(cfg NATSConfig, log *slog.Logger) (*NATSPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("empty NATS url")
	}
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."), log: log}
	if cfg.Stream != "" {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("JetStream: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{p.prefix + ".>"},
		})
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			nc.Close()
			return nil, fmt.Errorf("JetStream AddStream: %w", err)
		}
		p.js = js
	}
	return p, nil
}

func (p *NATSPublisher) Subject(evt domain.Event) string {
	return p.prefix + "." + evt.Type
}

func (p *NATSPublisher) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(ToWire(evt))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.Subject(evt),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Labelflow-Event-Id", fmt.Sprintf("%d", evt.ID))
	if p.js != nil {
		// The event id doubles as the JetStream dedup key.
		if _, err := p.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(fmt.Sprintf("%d", evt.ID))); err != nil {
			p.log.Error("nats: publish failed", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
			return fmt.Errorf("publish %s: %w", msg.Subject, err)
		}
		return nil
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		p.log.Error("nats: publish failed", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	if err != nil {
		p.nc.Close()
	}
	return err
}

// WireEvent is the JSON shape shared by NATS messages and webhook deliveries.
type WireEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

// ToWire converts a stored event, keeping non-JSON payloads as raw text.
func ToWire(evt domain.Event) WireEvent {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	return WireEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
}
