package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/event"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/observability"
)

// Envelope is the wire form of a published domain event.
// Subjects follow the pattern: perp.clearing.events.{event_type}.{market_id}
type Envelope struct {
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	MarketID       string      `json:"market_id,omitempty"`
	Payload        interface{} `json:"payload"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Publisher buffers domain events and publishes them to NATS JetStream
// for downstream consumers. The settlement path never blocks on the
// broker: a full buffer drops the event and counts the drop.
type Publisher struct {
	js      jetstream.JetStream
	buf     chan Envelope
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, bufferSize int, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		buf:     make(chan Envelope, bufferSize),
		logger:  logger,
		metrics: metrics,
	}
}

// Publish implements the settlement engine's event sink.
func (p *Publisher) Publish(evt event.Event) {
	env := Envelope{
		EventType:      evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
		MarketID:       evt.MarketID(),
		Payload:        evt,
		Timestamp:      time.Now().UTC(),
	}
	select {
	case p.buf <- env:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.logger.Warn().
			Str("event_type", env.EventType).
			Str("idempotency_key", env.IdempotencyKey).
			Msg("publish buffer full, event dropped")
	}
}

// Run drains the buffer and publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-p.buf:
			if err := p.publish(ctx, env); err != nil {
				// Non-fatal: consumers can read the event log from Postgres.
				p.logger.Warn().
					Err(err).
					Str("event_type", env.EventType).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("perp.clearing.events.%s", env.EventType)
	if env.MarketID != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.MarketID)
	}
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// Connect dials NATS and returns a JetStream handle.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_CLEARING_EVENTS",
		Subjects:  []string{"perp.clearing.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
