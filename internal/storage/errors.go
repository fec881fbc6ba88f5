// Package storage persists users, rides, requests and chat messages.
//
// Three backends implement the same method set: Postgres (pgx), Mongo
// and an in-memory store used by tests and local runs. Every method is a
// single atomic write or read at the backend; multi-step workflows are
// composed by the services on top.
package storage

import (
	"context"
	"errors"
	"time"

	"cabshare/internal/model"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key (user email, ride+requester) is taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrCapacity is returned by AppendPassengers when the guarded update
	// would push the passenger list past the ride's capacity.
	ErrCapacity = errors.New("storage: capacity exceeded")
	// ErrConflict is returned by SetRequestStatus when the request is not
	// in one of the expected source states.
	ErrConflict = errors.New("storage: state conflict")
)

// Store is the full method set every backend provides. Services depend on
// narrower interfaces declared next to them.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByID(ctx context.Context, id string) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	CreateRide(ctx context.Context, r *model.Ride) error
	RideByID(ctx context.Context, id string) (*model.Ride, error)
	RidesByIDs(ctx context.Context, ids []string) (map[string]*model.Ride, error)
	RidesForUser(ctx context.Context, email, userID string) ([]model.Ride, error)
	SearchRides(ctx context.Context, f model.RideFilter) ([]model.Ride, error)
	AppendPassengers(ctx context.Context, rideID, userID string, seats int) (*model.Ride, error)
	RemovePassenger(ctx context.Context, rideID, userID string) (*model.Ride, error)

	CreateRequest(ctx context.Context, req *model.Request) error
	RequestByID(ctx context.Context, id string) (*model.Request, error)
	RequestFor(ctx context.Context, rideID, requesterID string) (*model.Request, error)
	SetRequestStatus(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, at *time.Time) (*model.Request, error)
	ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error)

	CreateMessage(ctx context.Context, m *model.Message) error
	MessagesByRide(ctx context.Context, rideID string, since time.Time, limit int) ([]model.Message, error)

	Close(ctx context.Context) error
}

const defaultLimit = 100

func limitOr(n int) int {
	if n <= 0 || n > defaultLimit {
		return defaultLimit
	}
	return n
}

func statusStrings(ss []model.RequestStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
