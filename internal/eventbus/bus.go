// Package eventbus carries intervention trigger events from the
// Progress Tracker's dispatcher to the subscriber that submits the
// intervention work to the Worker Pool. It embeds a NATS server in-process so the control plane has no
// external broker dependency to operate, falling back to an external
// NATS URL when one is configured.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const (
	subjectTriggerPrefix = "progress.trigger."
	subjectTriggerAll    = "progress.trigger.*"
)

// TriggerEvent is published once per dispatched intervention trigger.
// TaskID names the Task row the publisher already created via the Task
// Registry, so SubscribeTriggers's handler submits work against an
// existing task rather than creating a second one.
type TriggerEvent struct {
	UserID  string         `json:"user_id"`
	Trigger models.Trigger `json:"trigger"`
	TaskID  string         `json:"task_id"`
}

// Bus wraps a NATS connection, embedding its own server when no external
// URL is configured.
type Bus struct {
	conn      *nats.Conn
	embedded  *server.Server
}

// StartEmbedded launches an in-process NATS server and connects to it.
func StartEmbedded() (*Bus, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("start embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}
	return &Bus{conn: nc, embedded: srv}, nil
}

// Connect dials an external NATS server at url.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &Bus{conn: nc}, nil
}

// Close closes the connection and stops any embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
}

// PublishTrigger publishes a TriggerEvent under
// progress.trigger.<kind>.
func (b *Bus) PublishTrigger(ctx context.Context, event TriggerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal trigger event: %w", err)
	}
	return b.conn.Publish(subjectTriggerPrefix+string(event.Trigger.Kind), data)
}

// SubscribeTriggers registers handler for every trigger kind; used by
// the process that turns triggers into Worker Pool intervention
// submissions.
func (b *Bus) SubscribeTriggers(handler func(TriggerEvent)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subjectTriggerAll, func(msg *nats.Msg) {
		var event TriggerEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
}
