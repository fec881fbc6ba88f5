package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cabshare/internal/observability"
)

// Well-known topic names.
const (
	TopicRideCreated     = "ride.created"
	TopicRequestCreated  = "request.created"
	TopicRequestDecided  = "request.decided"
	TopicPassengersAdded = "ride.passengers_added"
	TopicRideWithdrawn   = "ride.withdrawn"
)

// Topics lists every topic the service publishes.
var Topics = []string{TopicRideCreated, TopicRequestCreated, TopicRequestDecided, TopicPassengersAdded, TopicRideWithdrawn}

// RideCreatedEvent is published to ride.created.
type RideCreatedEvent struct {
	RideID      string `json:"ride_id"`
	CreatorID   string `json:"creator_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
	MaxCapacity int    `json:"max_capacity"`
}

// RequestCreatedEvent is published to request.created.
type RequestCreatedEvent struct {
	RequestID     string `json:"request_id"`
	RideID        string `json:"ride_id"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	Seats         int    `json:"seats"`
	CreatedAt     string `json:"created_at"`
}

// RequestDecidedEvent is published to request.decided.
type RequestDecidedEvent struct {
	RequestID     string `json:"request_id"`
	RideID        string `json:"ride_id"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	Status        string `json:"status"`
	Seats         int    `json:"seats"`
	DecidedAt     string `json:"decided_at"`
}

// PassengersAddedEvent is published to ride.passengers_added.
type PassengersAddedEvent struct {
	RideID    string `json:"ride_id"`
	UserID    string `json:"user_id"`
	Seats     int    `json:"seats"`
	SeatsLeft int    `json:"seats_left"`
}

// RideWithdrawnEvent is published to ride.withdrawn.
type RideWithdrawnEvent struct {
	RideID    string `json:"ride_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	SeatsLeft int    `json:"seats_left"`
}

// Publisher sends a JSON-encoded value to a topic. Both pkg/kafka and
// pkg/amqp clients satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

// Subscriber delivers raw message bodies of topic to handler until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler func([]byte) error)
}

// Local is an in-process bus used when EVENT_BROKER=none. Events are
// JSON-encoded so subscribers see the same bytes a broker would deliver.
type Local struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte) error
	logger   *slog.Logger
}

func NewLocal(logger *slog.Logger) *Local {
	return &Local{handlers: map[string][]func([]byte) error{}, logger: logger.With("component", "events")}
}

// Publish delivers v to every handler of topic on the calling goroutine.
func (l *Local) Publish(_ context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	l.mu.RLock()
	hs := l.handlers[topic]
	l.mu.RUnlock()
	for _, h := range hs {
		if err := h(data); err != nil {
			l.logger.Error("handler error", "topic", topic, "key", key, "error", err)
		}
	}
	return nil
}

// Subscribe registers handler for topic. group is ignored; there is one
// consumer per process.
func (l *Local) Subscribe(_ context.Context, topic, _ string, handler func([]byte) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[topic] = append(l.handlers[topic], handler)
}

// Async publishes in a background goroutine so request handlers never wait
// on the broker. Failures are logged and counted.
type Async struct {
	pub     Publisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewAsync wraps pub.
func NewAsync(pub Publisher, logger *slog.Logger) *Async {
	return &Async{pub: pub, logger: logger.With("component", "events"), timeout: 5 * time.Second}
}

// Publish never blocks and always returns nil.
func (a *Async) Publish(_ context.Context, topic, key string, v any) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.pub.Publish(ctx, topic, key, v); err != nil {
			observability.EventsPublished.WithLabelValues(topic, "error").Inc()
			a.logger.Error("publish failed", "topic", topic, "key", key, "error", err)
			return
		}
		observability.EventsPublished.WithLabelValues(topic, "ok").Inc()
		a.logger.Debug("published", "topic", topic, "key", key)
	}()
	return nil
}
