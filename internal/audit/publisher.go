// Package audit streams account events through Redis and stores them in
// PostgreSQL.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signsure/signsure/internal/metrics"
)

const (
	// StreamKey is the Redis stream for account events.
	StreamKey = "stream:account_events"

	// DeadLetterStreamKey holds entries the worker could not decode.
	DeadLetterStreamKey = "stream:account_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout bounds a single asynchronous publish.
	PublishTimeout = 100 * time.Millisecond
)

// EventPayload is the stream encoding of an account event.
type EventPayload struct {
	Kind    string `json:"k"`
	UserID  string `json:"uid,omitempty"`
	Outcome string `json:"o"`
	At      int64  `json:"t"` // Unix milliseconds
}

// streamAdder is the subset of the Redis client used for publishing.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher enqueues account events to the Redis stream.
type Publisher struct {
	redis   streamAdder
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewPublisher creates a new account event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	return newPublisher(client, logger, recorder)
}

func newPublisher(client streamAdder, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "audit.publisher"),
		metrics: recorder,
		now:     time.Now,
	}
}

// Publish adds an event to the stream and returns its entry ID.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return id, nil
}

// Record publishes an event without blocking the caller. Failures are
// logged and counted as dropped.
func (p *Publisher) Record(kind, userID, outcome string) {
	event := EventPayload{
		Kind:    kind,
		UserID:  userID,
		Outcome: outcome,
		At:      p.now().UnixMilli(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		id, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish account event", "kind", event.Kind, "error", err)
			p.metrics.IncAccountEvent(metrics.EventDropped)
			return
		}

		p.logger.Debug("account event published", "kind", event.Kind, "stream_id", id)
		p.metrics.IncAccountEvent(metrics.EventPublished)
	}()
}
