// Package events publishes registry mutations to NATS JetStream, per
// SPEC_FULL.md §4.13. It is strictly an observability side-channel: a
// Publisher whose connection is down logs and swallows the failure rather
// than blocking or failing the registration that triggered it.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/registry"
)

// Envelope is the small versioned message published on every registry
// mutation.
type Envelope struct {
	EventType string    `json:"event_type"` // "registry.added" or "registry.removed"
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	Port      uint16    `json:"port"`
}

// Publisher connects to a NATS JetStream cluster and publishes an Envelope
// per registry mutation. It satisfies registry.EventPublisher.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
}

// NewPublisher connects to url and ensures the stream exists with subjects
// "registry.*". An empty stream name defaults to "REGISTRY".
func NewPublisher(url, stream string) (*Publisher, error) {
	if stream == "" {
		stream = "REGISTRY"
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Drain()
		return nil, fmt.Errorf("events: jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{"registry.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			nc.Drain()
			return nil, fmt.Errorf("events: creating stream %s: %w", stream, err)
		}
	}

	return &Publisher{nc: nc, js: js, stream: stream}, nil
}

// Published implements registry.EventPublisher. Failures are logged at WARN
// and never returned — a down NATS connection must never block a
// registration.
func (p *Publisher) Published(added bool, id registry.Identity) {
	eventType := "registry.removed"
	if added {
		eventType = "registry.added"
	}

	env := Envelope{EventType: eventType, Timestamp: time.Now(), IP: id.IP, Port: id.Port}
	data, err := json.Marshal(env)
	if err != nil {
		logging.Warn("events: marshaling envelope: %v", err)
		return
	}

	if _, err := p.js.Publish(eventType, data); err != nil {
		logging.Warn("events: publishing %s: %v", eventType, err)
	}
}

// Close drains the underlying NATS connection.
func (p *Publisher) Close() {
	p.nc.Drain()
}

// StartLoggingListener subscribes to every registry.* subject and logs each
// envelope at DEBUG, mirroring the teacher's all-events logging listener.
func StartLoggingListener(p *Publisher) error {
	_, err := p.js.Subscribe("registry.*", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err == nil {
			logging.Debug("events: %s %s:%d", env.EventType, env.IP, env.Port)
		}
		msg.Ack()
	})
	if err != nil {
		return err
	}
	logging.Info("events: logging listener subscribed to registry.*")
	return nil
}
