// Package notify turns workflow events into system messages in the
// affected ride's chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cabshare/internal/events"
)

const group = "chat-notifier"

// Poster writes a system message into a ride's chat.
type Poster interface {
	PostSystem(ctx context.Context, rideID, body string) error
}

// Notifier consumes request and ride events and posts chat notices.
type Notifier struct {
	sub    events.Subscriber
	chat   Poster
	logger *slog.Logger
}

func NewNotifier(sub events.Subscriber, chat Poster, logger *slog.Logger) *Notifier {
	return &Notifier{sub: sub, chat: chat, logger: logger.With("component", "notify")}
}

// Start registers the topic handlers. Delivery runs until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	n.sub.Subscribe(ctx, events.TopicRequestCreated, group, n.handle(ctx, n.requestCreated))
	n.sub.Subscribe(ctx, events.TopicRequestDecided, group, n.handle(ctx, n.requestDecided))
	n.sub.Subscribe(ctx, events.TopicPassengersAdded, group, n.handle(ctx, n.passengersAdded))
	n.sub.Subscribe(ctx, events.TopicRideWithdrawn, group, n.handle(ctx, n.rideWithdrawn))
	n.logger.Info("notifier started")
}

// handle decodes data, builds the notice and posts it.
func (n *Notifier) handle(ctx context.Context, render func([]byte) (string, string, error)) func([]byte) error {
	return func(data []byte) error {
		rideID, body, err := render(data)
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := n.chat.PostSystem(ctx, rideID, body); err != nil {
			return fmt.Errorf("post notice for ride %s: %w", rideID, err)
		}
		return nil
	}
}

func (n *Notifier) requestCreated(data []byte) (string, string, error) {
	var ev events.RequestCreatedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", "", err
	}
	return ev.RideID, fmt.Sprintf("%s requested %d seat(s)", ev.RequesterName, ev.Seats), nil
}

func (n *Notifier) requestDecided(data []byte) (string, string, error) {
	var ev events.RequestDecidedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", "", err
	}
	return ev.RideID, fmt.Sprintf("%s's request for %d seat(s) was %s", ev.RequesterName, ev.Seats, ev.Status), nil
}

func (n *Notifier) passengersAdded(data []byte) (string, string, error) {
	var ev events.PassengersAddedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", "", err
	}
	return ev.RideID, fmt.Sprintf("%d seat(s) reserved, %d left", ev.Seats, ev.SeatsLeft), nil
}

func (n *Notifier) rideWithdrawn(data []byte) (string, string, error) {
	var ev events.RideWithdrawnEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", "", err
	}
	return ev.RideID, fmt.Sprintf("%s left the ride, %d seat(s) left", ev.UserName, ev.SeatsLeft), nil
}
