package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cabshare/internal/model"
)

// Memory is a process-local Store. Values are copied in and out so
// callers never share slices with the store.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	rides    map[string]*model.Ride
	requests map[string]*model.Request
	messages map[string][]model.Message
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*model.User),
		rides:    make(map[string]*model.Ride),
		requests: make(map[string]*model.Request),
		messages: make(map[string][]model.Message),
	}
}

func copyRide(r *model.Ride) *model.Ride {
	c := *r
	c.Passengers = append([]string(nil), r.Passengers...)
	return &c
}

func copyRequest(r *model.Request) *model.Request {
	c := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// ---- users ----

func (m *Memory) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *Memory) UserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UsersByIDs(_ context.Context, ids []string) (map[string]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			c := *u
			out[id] = &c
		}
	}
	return out, nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// ---- rides ----

func (m *Memory) CreateRide(_ context.Context, r *model.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrDuplicate
	}
	m.rides[r.ID] = copyRide(r)
	return nil
}

func (m *Memory) RideByID(_ context.Context, id string) (*model.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRide(r), nil
}

func (m *Memory) RidesByIDs(_ context.Context, ids []string) (map[string]*model.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.Ride, len(ids))
	for _, id := range ids {
		if r, ok := m.rides[id]; ok {
			out[id] = copyRide(r)
		}
	}
	return out, nil
}

func (m *Memory) RidesForUser(_ context.Context, email, userID string) ([]model.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Ride{}
	for _, r := range m.rides {
		if strings.EqualFold(r.Email, email) || (userID != "" && r.HasPassenger(userID)) {
			out = append(out, *copyRide(r))
		}
	}
	sortRidesNewestFirst(out)
	return out, nil
}

func (m *Memory) SearchRides(_ context.Context, f model.RideFilter) ([]model.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Ride{}
	for _, r := range m.rides {
		if f.Source != "" && !strings.EqualFold(r.Source, f.Source) {
			continue
		}
		if f.Destination != "" && !strings.EqualFold(r.Destination, f.Destination) {
			continue
		}
		if f.Date != nil && !sameDay(r.Date, *f.Date) {
			continue
		}
		if f.MinSeats > 0 && r.MaxCapacity-len(r.Passengers) < f.MinSeats {
			continue
		}
		if f.FemaleOnly != nil && r.IsFemaleOnly != *f.FemaleOnly {
			continue
		}
		out = append(out, *copyRide(r))
	}
	sortRidesNewestFirst(out)
	if n := limitOr(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// AppendPassengers checks and appends under the write lock, so the
// capacity guard and the mutation are one step.
func (m *Memory) AppendPassengers(_ context.Context, rideID, userID string, seats int) (*model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(r.Passengers)+seats > r.MaxCapacity {
		return nil, ErrCapacity
	}
	for i := 0; i < seats; i++ {
		r.Passengers = append(r.Passengers, userID)
	}
	return copyRide(r), nil
}

func (m *Memory) RemovePassenger(_ context.Context, rideID, userID string) (*model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	kept := r.Passengers[:0:0]
	for _, p := range r.Passengers {
		if p != userID {
			kept = append(kept, p)
		}
	}
	r.Passengers = kept
	return copyRide(r), nil
}

// ---- requests ----

func (m *Memory) CreateRequest(_ context.Context, req *model.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.RideID == req.RideID && existing.Requester == req.Requester {
			return ErrDuplicate
		}
	}
	m.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *Memory) RequestByID(_ context.Context, id string) (*model.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(r), nil
}

func (m *Memory) RequestFor(_ context.Context, rideID, requesterID string) (*model.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.RideID == rideID && r.Requester == requesterID {
			return copyRequest(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetRequestStatus(_ context.Context, id string, from []model.RequestStatus, to model.RequestStatus, at *time.Time) (*model.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrConflict
	}
	r.Status = to
	if at != nil {
		t := *at
		r.DecidedAt = &t
	}
	return copyRequest(r), nil
}

func (m *Memory) ListRequests(_ context.Context, f model.RequestFilter) ([]model.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rideSet map[string]struct{}
	if len(f.RideIDs) > 0 {
		rideSet = make(map[string]struct{}, len(f.RideIDs))
		for _, id := range f.RideIDs {
			rideSet[id] = struct{}{}
		}
	}
	out := []model.Request{}
	for _, r := range m.requests {
		if rideSet != nil {
			if _, ok := rideSet[r.RideID]; !ok {
				continue
			}
		}
		if f.RequesterID != "" && r.Requester != f.RequesterID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- messages ----

func (m *Memory) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.RideID] = append(m.messages[msg.RideID], *msg)
	return nil
}

func (m *Memory) MessagesByRide(_ context.Context, rideID string, since time.Time, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Message{}
	for _, msg := range m.messages[rideID] {
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if n := limitOr(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) Close(context.Context) error { return nil }

func sortRidesNewestFirst(rs []model.Ride) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

var _ Store = (*Memory)(nil)
