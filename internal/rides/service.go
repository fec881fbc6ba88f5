package rides

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cabshare/internal/events"
	"cabshare/internal/model"
	"cabshare/internal/observability"
	"cabshare/internal/seats"
	"cabshare/internal/storage"
	"cabshare/pkg/validation"
)

// Store is the slice of storage the ride service needs.
type Store interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateRide(ctx context.Context, r *model.Ride) error
	RideByID(ctx context.Context, id string) (*model.Ride, error)
	RidesForUser(ctx context.Context, email, userID string) ([]model.Ride, error)
	SearchRides(ctx context.Context, f model.RideFilter) ([]model.Ride, error)
}

// Service contains ride business logic.
type Service struct {
	store  Store
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a ride service.
func NewService(store Store, pub events.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, pub: pub, logger: logger.With("component", "rides"), now: time.Now}
}

// Create persists a new ride with the creator holding the first seat.
func (s *Service) Create(ctx context.Context, req CreateRideRequest) (*model.RideView, error) {
	req.Source = strings.TrimSpace(req.Source)
	req.Destination = strings.TrimSpace(req.Destination)
	req.UserEmail = strings.TrimSpace(req.UserEmail)

	date, ok := validation.ParseDate(req.Date)
	switch {
	case req.UserEmail == "":
		return nil, model.Invalid("userEmail is required")
	case req.Source == "" || req.Destination == "":
		return nil, model.Invalid("source and destination are required")
	case !ok:
		return nil, model.Invalid("date must be YYYY-MM-DD")
	case req.MaxCapacity < 1:
		return nil, model.Invalid("maxCapacity must be at least 1")
	case req.TotalFare < 0:
		return nil, model.Invalid("totalFare cannot be negative")
	}

	creator, err := s.store.UserByEmail(ctx, req.UserEmail)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	ride := &model.Ride{
		ID:           uuid.New().String(),
		Source:       req.Source,
		Destination:  req.Destination,
		Date:         date,
		Time:         strings.TrimSpace(req.Time),
		MaxCapacity:  req.MaxCapacity,
		TotalFare:    req.TotalFare,
		IsFemaleOnly: req.IsFemaleOnly,
		CreatedBy:    creator.ID,
		Email:        creator.Email,
		Passengers:   []string{creator.ID},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	s.logger.Info("ride created", "ride_id", ride.ID, "creator", creator.ID, "capacity", ride.MaxCapacity)

	s.pub.Publish(ctx, events.TopicRideCreated, ride.ID, events.RideCreatedEvent{
		RideID:      ride.ID,
		CreatorID:   creator.ID,
		Source:      ride.Source,
		Destination: ride.Destination,
		Date:        ride.Date.Format(model.DateLayout),
		MaxCapacity: ride.MaxCapacity,
	})
	return annotate(ride, creator.Email), nil
}

// ListForUser returns the rides email created or holds a seat on. An
// unknown email still matches rides by creator email.
func (s *Service) ListForUser(ctx context.Context, email string) ([]model.RideView, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, model.Invalid("email is required")
	}
	var userID string
	u, err := s.store.UserByEmail(ctx, email)
	switch {
	case err == nil:
		userID = u.ID
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	rides, err := s.store.RidesForUser(ctx, email, userID)
	if err != nil {
		return nil, err
	}
	return annotateAll(rides, email), nil
}

// Get returns one ride annotated for viewerEmail, which may be empty.
func (s *Service) Get(ctx context.Context, id, viewerEmail string) (*model.RideView, error) {
	r, err := s.store.RideByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	return annotate(r, viewerEmail), nil
}

// Search returns rides matching p with at least p.Seats seats left,
// newest first.
func (s *Service) Search(ctx context.Context, p SearchParams) ([]model.RideView, error) {
	f := model.RideFilter{
		Source:      strings.TrimSpace(p.Source),
		Destination: strings.TrimSpace(p.Destination),
		MinSeats:    p.Seats,
		FemaleOnly:  p.FemaleOnly,
		Limit:       p.Limit,
	}
	if p.Seats < 0 {
		return nil, model.Invalid("seats cannot be negative")
	}
	if f.MinSeats == 0 {
		f.MinSeats = 1
	}
	if p.Date != "" {
		d, ok := validation.ParseDate(p.Date)
		if !ok {
			return nil, model.Invalid("date must be YYYY-MM-DD")
		}
		f.Date = &d
	}
	rides, err := s.store.SearchRides(ctx, f)
	if err != nil {
		return nil, err
	}
	return annotateAll(rides, p.ViewerEmail), nil
}

func annotate(r *model.Ride, viewerEmail string) *model.RideView {
	return &model.RideView{
		Ride:                 *r,
		SeatsLeft:            seats.LeftOn(r),
		IsCurrentUserCreator: viewerEmail != "" && strings.EqualFold(r.Email, viewerEmail),
	}
}

func annotateAll(rs []model.Ride, viewerEmail string) []model.RideView {
	out := make([]model.RideView, 0, len(rs))
	for i := range rs {
		out = append(out, *annotate(&rs[i], viewerEmail))
	}
	return out
}
