// Package chat is the per-ride group chat. Clients poll with a since
// timestamp; system messages are posted by the event notifier.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cabshare/internal/model"
	"cabshare/internal/storage"
)

// MaxBodyLen is the longest accepted message, in characters.
const MaxBodyLen = 1000

// Store is the slice of storage chat needs.
type Store interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	RideByID(ctx context.Context, id string) (*model.Ride, error)
	CreateMessage(ctx context.Context, m *model.Message) error
	MessagesByRide(ctx context.Context, rideID string, since time.Time, limit int) ([]model.Message, error)
}

// PostMessageRequest is the body for POST /chat/{rideId}/messages.
type PostMessageRequest struct {
	UserEmail string `json:"userEmail"`
	Body      string `json:"body"`
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "chat"), now: time.Now}
}

// Post adds a message from a ride member (the creator or a passenger).
func (s *Service) Post(ctx context.Context, rideID string, req PostMessageRequest) (*model.Message, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" || utf8.RuneCountInString(body) > MaxBodyLen {
		return nil, model.Invalid("message body must be 1-1000 characters")
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		return nil, model.Invalid("userEmail is required")
	}
	user, err := s.store.UserByEmail(ctx, req.UserEmail)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	ride, err := s.ride(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.CreatedBy != user.ID && !ride.HasPassenger(user.ID) {
		return nil, model.ErrNotRideMember
	}

	m := &model.Message{
		ID:         uuid.New().String(),
		RideID:     ride.ID,
		SenderID:   user.ID,
		SenderName: user.Name,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// PostSystem adds a message with no sender.
func (s *Service) PostSystem(ctx context.Context, rideID, body string) error {
	if _, err := s.ride(ctx, rideID); err != nil {
		return err
	}
	m := &model.Message{
		ID:         uuid.New().String(),
		RideID:     rideID,
		SenderName: "CabShare",
		Body:       body,
		System:     true,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return err
	}
	s.logger.Debug("system message posted", "ride_id", rideID)
	return nil
}

// List returns messages posted after since, oldest first.
func (s *Service) List(ctx context.Context, rideID string, since time.Time, limit int) ([]model.Message, error) {
	if _, err := s.ride(ctx, rideID); err != nil {
		return nil, err
	}
	return s.store.MessagesByRide(ctx, rideID, since, limit)
}

func (s *Service) ride(ctx context.Context, id string) (*model.Ride, error) {
	r, err := s.store.RideByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRideNotFound
	}
	return r, err
}
