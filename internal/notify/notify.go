// Package notify publishes domain events to the notification queue
// consumed by the rest of the product.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSubmissionCreated EventType = "submission.created"
	EventSubmissionStatus  EventType = "submission.status_changed"
	EventReportStatus      EventType = "report.status_changed"
	EventMessagesReceived  EventType = "messages.received"
	EventCredentialStatus  EventType = "credential.status_changed"
)

// Event is one notification. Fields that do not apply to Type are empty.
type Event struct {
	Type              EventType `json:"type"`
	TenantID          string    `json:"tenant_id"`
	SubmissionID      string    `json:"submission_id,omitempty"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Period            string    `json:"period,omitempty"`
	Status            string    `json:"status,omitempty"`
	PreviousStatus    string    `json:"previous_status,omitempty"`
	Count             int       `json:"count,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "fiscal:events"

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisPublisher appends events to a capped Redis stream.
type RedisPublisher struct {
	client streamClient
	stream string
	maxLen int64
}

func NewRedisPublisher(client streamClient, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      string(e.Type),
			"tenant_id": e.TenantID,
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// LogPublisher writes events to the log. Used when no Redis is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Info().
		Str("event", string(e.Type)).
		Str("tenant_id", e.TenantID).
		Str("submission_id", e.SubmissionID).
		Str("status", e.Status).
		Msg("Notification event")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
