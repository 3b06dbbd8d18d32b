// Package events publishes ingestion events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectIngested is the subject ingestion events are published on.
const SubjectIngested = "serials.ingested"

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher publishes ingestion events.
type Publisher struct {
	conn    conn
	subject string
	logger  zerolog.Logger
}

// Connect dials the NATS server at url, authenticating with token when set.
func Connect(url, token string, logger zerolog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("k1serial-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	l := logger.With().Str("component", "event_publisher").Logger()
	l.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("connected to nats")
	return newPublisher(nc, SubjectIngested, l), nil
}

func newPublisher(c conn, subject string, logger zerolog.Logger) *Publisher {
	return &Publisher{conn: c, subject: subject, logger: logger}
}

// PublishIngested publishes ev as JSON.
func (p *Publisher) PublishIngested(ctx context.Context, ev ingest.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug().Str("subject", p.subject).Str("provenance", ev.Provenance).Msg("event published")
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
