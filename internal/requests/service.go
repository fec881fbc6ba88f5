// Package requests implements the seat reservation workflow: booking a
// ride, the creator's decision, adding accepted passengers and withdrawal.
//
// Booking never touches the passenger list. Seats are reserved only by
// AddPassengers, whose append is a single conditional update at the store,
// so concurrent callers cannot push a ride past capacity.
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cabshare/internal/events"
	"cabshare/internal/model"
	"cabshare/internal/observability"
	"cabshare/internal/seats"
	"cabshare/internal/storage"
)

// Store is the slice of storage the workflow needs.
type Store interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)

	RideByID(ctx context.Context, id string) (*model.Ride, error)
	RidesByIDs(ctx context.Context, ids []string) (map[string]*model.Ride, error)
	AppendPassengers(ctx context.Context, rideID, userID string, seats int) (*model.Ride, error)
	RemovePassenger(ctx context.Context, rideID, userID string) (*model.Ride, error)

	CreateRequest(ctx context.Context, req *model.Request) error
	RequestByID(ctx context.Context, id string) (*model.Request, error)
	RequestFor(ctx context.Context, rideID, requesterID string) (*model.Request, error)
	SetRequestStatus(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, at *time.Time) (*model.Request, error)
	ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error)
}

// Service contains the reservation workflow.
type Service struct {
	store  Store
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a workflow service.
func NewService(store Store, pub events.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, pub: pub, logger: logger.With("component", "requests"), now: time.Now}
}

// Book creates a pending request after checking, in order: input, ride,
// requester, self-booking, existing membership, capacity and duplicates.
func (s *Service) Book(ctx context.Context, req BookRequest) (*BookResponse, error) {
	req.RideID = strings.TrimSpace(req.RideID)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	if req.Seats == 0 {
		req.Seats = 1
	}
	if req.RideID == "" || req.UserEmail == "" {
		return nil, model.Invalid("rideId and userEmail are required")
	}
	if req.Seats < 1 {
		return nil, model.Invalid("seats must be at least 1")
	}

	ride, err := s.store.RideByID(ctx, req.RideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}

	user, err := s.store.UserByEmail(ctx, req.UserEmail)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if ride.CreatedBy == user.ID {
		return nil, model.ErrSelfBooking
	}
	if ride.HasPassenger(user.ID) {
		return nil, model.ErrAlreadyJoined
	}
	if err := seats.CheckRide(ride, req.Seats); err != nil {
		observability.CapacityRejections.WithLabelValues("book").Inc()
		return nil, err
	}

	if _, err := s.store.RequestFor(ctx, ride.ID, user.ID); err == nil {
		return nil, model.ErrDuplicateRequest
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	r := &model.Request{
		ID:        uuid.New().String(),
		RideID:    ride.ID,
		Requester: user.ID,
		Status:    model.StatusPending,
		Seats:     req.Seats,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, model.ErrDuplicateRequest
		}
		return nil, err
	}
	observability.RequestsBooked.Inc()
	s.logger.Info("request created", "request_id", r.ID, "ride_id", ride.ID, "requester", user.ID, "seats", r.Seats)

	s.pub.Publish(ctx, events.TopicRequestCreated, ride.ID, events.RequestCreatedEvent{
		RequestID:     r.ID,
		RideID:        ride.ID,
		RequesterID:   user.ID,
		RequesterName: user.Name,
		Seats:         r.Seats,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	})
	return &BookResponse{
		Message:   fmt.Sprintf("Request sent for %d seat(s)", r.Seats),
		RequestID: r.ID,
	}, nil
}

// Decide accepts or rejects a pending request. Acceptance re-checks
// capacity against the ride's current passengers but does not add them;
// the client calls AddPassengers once it sees the accepted status.
func (s *Service) Decide(ctx context.Context, requestID string, d DecisionRequest) (*model.RequestDetail, error) {
	r, err := s.store.RequestByID(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.Status != model.StatusAccepted && d.Status != model.StatusRejected {
		return nil, model.Invalid("status must be accepted or rejected")
	}
	if r.Status != model.StatusPending {
		return nil, model.ErrRequestAlreadyDecided
	}

	if d.Status == model.StatusAccepted {
		ride, err := s.store.RideByID(ctx, r.RideID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, model.ErrRideNotFound
		}
		if err != nil {
			return nil, err
		}
		if err := seats.CheckRide(ride, r.Seats); err != nil {
			observability.CapacityRejections.WithLabelValues("decide").Inc()
			return nil, err
		}
	}

	at := s.now().UTC()
	r, err = s.store.SetRequestStatus(ctx, r.ID, []model.RequestStatus{model.StatusPending}, d.Status, &at)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return nil, model.ErrRequestAlreadyDecided
	case errors.Is(err, storage.ErrNotFound):
		return nil, model.ErrRequestNotFound
	case err != nil:
		return nil, err
	}
	observability.RequestDecisions.WithLabelValues(string(d.Status)).Inc()
	s.logger.Info("request decided", "request_id", r.ID, "ride_id", r.RideID, "status", r.Status)

	details, err := s.populate(ctx, []model.Request{*r})
	if err != nil {
		return nil, err
	}
	detail := &details[0]

	ev := events.RequestDecidedEvent{
		RequestID:   r.ID,
		RideID:      r.RideID,
		RequesterID: r.Requester,
		Status:      string(r.Status),
		Seats:       r.Seats,
		DecidedAt:   at.Format(time.RFC3339),
	}
	if detail.RequesterInfo != nil {
		ev.RequesterName = detail.RequesterInfo.Name
	}
	s.pub.Publish(ctx, events.TopicRequestDecided, r.RideID, ev)
	return detail, nil
}

// AddPassengers appends userID to the ride seats times. The capacity
// check and the append happen in one store update; if a concurrent
// append wins the last seats the fresh seats-left count is reported.
func (s *Service) AddPassengers(ctx context.Context, rideID string, req AddPassengersRequest) (*model.RideView, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Seats == 0 {
		req.Seats = 1
	}
	if req.UserID == "" {
		return nil, model.Invalid("userId is required")
	}
	if req.Seats < 1 {
		return nil, model.Invalid("seats must be at least 1")
	}

	ride, err := s.store.RideByID(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := seats.CheckRide(ride, req.Seats); err != nil {
		observability.CapacityRejections.WithLabelValues("add_passengers").Inc()
		return nil, err
	}

	ride, err = s.store.AppendPassengers(ctx, rideID, req.UserID, req.Seats)
	switch {
	case errors.Is(err, storage.ErrCapacity):
		observability.CapacityRejections.WithLabelValues("add_passengers").Inc()
		fresh, getErr := s.store.RideByID(ctx, rideID)
		if getErr != nil {
			return nil, getErr
		}
		s.logger.Warn("lost seat race", "ride_id", rideID, "user_id", req.UserID, "seats", req.Seats)
		return nil, &seats.InsufficientCapacityError{SeatsLeft: seats.LeftOn(fresh)}
	case errors.Is(err, storage.ErrNotFound):
		return nil, model.ErrRideNotFound
	case err != nil:
		return nil, err
	}

	left := seats.LeftOn(ride)
	observability.SeatsReserved.Add(float64(req.Seats))
	s.logger.Info("passengers added", "ride_id", rideID, "user_id", req.UserID, "seats", req.Seats, "seats_left", left)
	s.pub.Publish(ctx, events.TopicPassengersAdded, rideID, events.PassengersAddedEvent{
		RideID:    rideID,
		UserID:    req.UserID,
		Seats:     req.Seats,
		SeatsLeft: left,
	})
	return &model.RideView{Ride: *ride, SeatsLeft: left}, nil
}

// Withdraw takes a passenger or pending requester off a ride. Every seat
// the user holds is released in one update and the request is marked
// withdrawn, which still counts as a prior request for rebooking.
func (s *Service) Withdraw(ctx context.Context, rideID string, req WithdrawRequest) (*model.RideView, error) {
	email := strings.TrimSpace(req.UserEmail)
	if email == "" {
		return nil, model.Invalid("userEmail is required")
	}
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	ride, err := s.store.RideByID(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	if ride.CreatedBy == user.ID {
		return nil, model.ErrCreatorCannotWithdraw
	}

	r, err := s.store.RequestFor(ctx, rideID, user.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !ride.HasPassenger(user.ID) {
			return nil, model.ErrRequestNotFound
		}
	case err != nil:
		return nil, err
	default:
		_, err = s.store.SetRequestStatus(ctx, r.ID,
			[]model.RequestStatus{model.StatusPending, model.StatusAccepted}, model.StatusWithdrawn, nil)
		if errors.Is(err, storage.ErrConflict) {
			return nil, model.ErrRequestAlreadyDecided
		}
		if err != nil {
			return nil, err
		}
	}

	ride, err = s.store.RemovePassenger(ctx, rideID, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	left := seats.LeftOn(ride)
	s.logger.Info("passenger withdrew", "ride_id", rideID, "user_id", user.ID, "seats_left", left)
	s.pub.Publish(ctx, events.TopicRideWithdrawn, rideID, events.RideWithdrawnEvent{
		RideID:    rideID,
		UserID:    user.ID,
		UserName:  user.Name,
		SeatsLeft: left,
	})
	return &model.RideView{Ride: *ride, SeatsLeft: left}, nil
}

// List returns requests matching p, each populated with its ride and
// requester. An unknown userEmail matches nothing.
func (s *Service) List(ctx context.Context, p ListParams) ([]model.RequestDetail, error) {
	if p.Status != "" && !p.Status.Valid() {
		return nil, model.Invalid("unknown status " + string(p.Status))
	}
	f := model.RequestFilter{RideIDs: p.RideIDs, Status: p.Status}
	if email := strings.TrimSpace(p.UserEmail); email != "" {
		u, err := s.store.UserByEmail(ctx, email)
		if errors.Is(err, storage.ErrNotFound) {
			return []model.RequestDetail{}, nil
		}
		if err != nil {
			return nil, err
		}
		f.RequesterID = u.ID
	}
	reqs, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, reqs)
}

// populate joins rides and requesters with two batched lookups.
func (s *Service) populate(ctx context.Context, reqs []model.Request) ([]model.RequestDetail, error) {
	out := make([]model.RequestDetail, 0, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}
	rideIDs := make([]string, 0, len(reqs))
	userIDs := make([]string, 0, len(reqs))
	for _, r := range reqs {
		rideIDs = append(rideIDs, r.RideID)
		userIDs = append(userIDs, r.Requester)
	}
	rides, err := s.store.RidesByIDs(ctx, rideIDs)
	if err != nil {
		return nil, err
	}
	users, err := s.store.UsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, r := range reqs {
		d := model.RequestDetail{Request: r, Ride: rides[r.RideID]}
		if u, ok := users[r.Requester]; ok {
			d.RequesterInfo = u.Summary()
		}
		out = append(out, d)
	}
	return out, nil
}
