package requests

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cabshare/internal/model"
	"cabshare/internal/seats"
	"cabshare/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	store *storage.Memory
	pub   *recordingPublisher
	svc   *Service
	ride  *model.Ride
}

// newFixture creates a creator, users a and b, and a ride with the given
// capacity whose only passenger is the creator.
func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	for _, u := range []struct{ id, email string }{
		{"creator", "creator@campus.edu"},
		{"a", "a@campus.edu"},
		{"b", "b@campus.edu"},
	} {
		if err := store.CreateUser(ctx, &model.User{ID: u.id, Name: "User " + u.id, Email: u.email}); err != nil {
			t.Fatal(err)
		}
	}
	ride := &model.Ride{
		ID:          "ride-1",
		Source:      "Airport",
		Destination: "Campus",
		Date:        time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		MaxCapacity: capacity,
		CreatedBy:   "creator",
		Email:       "creator@campus.edu",
		Passengers:  []string{"creator"},
		CreatedAt:   time.Now(),
	}
	if err := store.CreateRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	pub := &recordingPublisher{}
	svc := NewService(store, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{store: store, pub: pub, svc: svc, ride: ride}
}

func (f *fixture) seatsLeft(t *testing.T) int {
	t.Helper()
	r, err := f.store.RideByID(context.Background(), f.ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	return seats.LeftOn(r)
}

func wantCapacity(t *testing.T, err error, left int) {
	t.Helper()
	var capErr *seats.InsufficientCapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want InsufficientCapacityError", err)
	}
	if capErr.SeatsLeft != left {
		t.Fatalf("seatsLeft = %d, want %d", capErr.SeatsLeft, left)
	}
}

func TestThreeSeatScenario(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	if got := f.seatsLeft(t); got != 2 {
		t.Fatalf("initial seatsLeft = %d, want 2", got)
	}

	booked, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu", Seats: 2})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if booked.Message != "Request sent for 2 seat(s)" {
		t.Fatalf("message = %q", booked.Message)
	}
	if got := f.seatsLeft(t); got != 2 {
		t.Fatalf("booking changed passengers: seatsLeft = %d", got)
	}

	detail, err := f.svc.Decide(ctx, booked.RequestID, DecisionRequest{Status: model.StatusAccepted})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if detail.Status != model.StatusAccepted || detail.DecidedAt == nil {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Ride == nil || detail.RequesterInfo == nil || detail.RequesterInfo.Email != "a@campus.edu" {
		t.Fatalf("decision not populated: %+v", detail)
	}
	if got := f.seatsLeft(t); got != 2 {
		t.Fatalf("decision changed passengers: seatsLeft = %d", got)
	}

	view, err := f.svc.AddPassengers(ctx, f.ride.ID, AddPassengersRequest{UserID: "a", Seats: 2})
	if err != nil {
		t.Fatalf("AddPassengers: %v", err)
	}
	if len(view.Passengers) != 3 || view.SeatsLeft != 0 {
		t.Fatalf("after add: passengers=%v seatsLeft=%d", view.Passengers, view.SeatsLeft)
	}
	n := 0
	for _, p := range view.Passengers {
		if p == "a" {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("a appears %d times, want 2", n)
	}

	_, err = f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "b@campus.edu", Seats: 1})
	wantCapacity(t, err, 0)
	if err.Error() != "Only 0 seats available" {
		t.Fatalf("message = %q", err)
	}

	if f.pub.count("request.created") != 1 || f.pub.count("request.decided") != 1 || f.pub.count("ride.passengers_added") != 1 {
		t.Fatalf("published %v", f.pub.topics)
	}
}

func TestBookCheckOrder(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	if _, err := f.store.AppendPassengers(ctx, f.ride.ID, "b", 1); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  BookRequest
		want error
	}{
		{"missing ride id", BookRequest{UserEmail: "a@campus.edu"}, model.ErrInvalidInput},
		{"missing email", BookRequest{RideID: f.ride.ID}, model.ErrInvalidInput},
		{"negative seats", BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu", Seats: -1}, model.ErrInvalidInput},
		{"unknown ride before unknown user", BookRequest{RideID: "nope", UserEmail: "ghost@campus.edu"}, model.ErrRideNotFound},
		{"unknown user", BookRequest{RideID: f.ride.ID, UserEmail: "ghost@campus.edu"}, model.ErrUserNotFound},
		{"self booking before capacity", BookRequest{RideID: f.ride.ID, UserEmail: "creator@campus.edu", Seats: 9}, model.ErrSelfBooking},
		{"already joined before capacity", BookRequest{RideID: f.ride.ID, UserEmail: "b@campus.edu", Seats: 9}, model.ErrAlreadyJoined},
		{"capacity", BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu", Seats: 2}, seats.ErrInsufficientCapacity},
	}
	for _, c := range cases {
		if _, err := f.svc.Book(ctx, c.req); !errors.Is(err, c.want) {
			t.Errorf("%s: err = %v, want %v", c.name, err, c.want)
		}
	}
}

func TestBookDefaultsToOneSeatAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	resp, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "A@campus.edu"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	r, _ := f.store.RequestByID(ctx, resp.RequestID)
	if r.Seats != 1 || r.Status != model.StatusPending {
		t.Fatalf("request = %+v", r)
	}

	if _, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu"}); !errors.Is(err, model.ErrDuplicateRequest) {
		t.Fatalf("duplicate err = %v", err)
	}

	// Rejected requests still block rebooking.
	if _, err := f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: model.StatusRejected}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu"}); !errors.Is(err, model.ErrDuplicateRequest) {
		t.Fatalf("rebook after reject err = %v", err)
	}
}

func TestDecideRechecksCapacity(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	resp, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu", Seats: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AppendPassengers(ctx, f.ride.ID, "b", 1); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: model.StatusAccepted})
	wantCapacity(t, err, 1)

	r, _ := f.store.RequestByID(ctx, resp.RequestID)
	if r.Status != model.StatusPending {
		t.Fatalf("failed acceptance changed status to %s", r.Status)
	}

	// Rejecting needs no capacity.
	if _, err := f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: model.StatusRejected}); err != nil {
		t.Fatalf("reject: %v", err)
	}
}

func TestDecideErrors(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	if _, err := f.svc.Decide(ctx, "missing", DecisionRequest{Status: model.StatusAccepted}); !errors.Is(err, model.ErrRequestNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	resp, _ := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu"})
	for _, bad := range []model.RequestStatus{"", "pending", "withdrawn", "maybe"} {
		if _, err := f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: bad}); !errors.Is(err, model.ErrInvalidInput) {
			t.Errorf("status %q: err = %v", bad, err)
		}
	}
	if _, err := f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: model.StatusAccepted}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: model.StatusRejected}); !errors.Is(err, model.ErrRequestAlreadyDecided) {
		t.Fatalf("second decision err = %v", err)
	}
}

func TestAddPassengers(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	if _, err := f.svc.AddPassengers(ctx, "nope", AddPassengersRequest{UserID: "a", Seats: 1}); !errors.Is(err, model.ErrRideNotFound) {
		t.Fatalf("missing ride err = %v", err)
	}
	if _, err := f.svc.AddPassengers(ctx, f.ride.ID, AddPassengersRequest{Seats: 1}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("missing user err = %v", err)
	}
	_, err := f.svc.AddPassengers(ctx, f.ride.ID, AddPassengersRequest{UserID: "a", Seats: 4})
	wantCapacity(t, err, 3)

	view, err := f.svc.AddPassengers(ctx, f.ride.ID, AddPassengersRequest{UserID: "a", Seats: 2})
	if err != nil {
		t.Fatal(err)
	}
	if view.SeatsLeft != 1 || f.seatsLeft(t) != 1 {
		t.Fatalf("seatsLeft = %d / %d, want 1", view.SeatsLeft, f.seatsLeft(t))
	}
}

func TestConcurrentAddPassengersNeverExceedsCapacity(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddPassengers(ctx, f.ride.ID, AddPassengersRequest{UserID: fmt.Sprintf("u%d", i), Seats: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, seats.ErrInsufficientCapacity):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 3 || refused != callers-3 {
		t.Fatalf("ok=%d refused=%d, want 3 and %d", ok, refused, callers-3)
	}
	if left := f.seatsLeft(t); left != 0 {
		t.Fatalf("seatsLeft = %d, want 0", left)
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	resp, _ := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu", Seats: 2})
	if _, err := f.svc.Decide(ctx, resp.RequestID, DecisionRequest{Status: model.StatusAccepted}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AddPassengers(ctx, f.ride.ID, AddPassengersRequest{UserID: "a", Seats: 2}); err != nil {
		t.Fatal(err)
	}
	if f.seatsLeft(t) != 1 {
		t.Fatalf("seatsLeft before withdraw = %d", f.seatsLeft(t))
	}

	if _, err := f.svc.Withdraw(ctx, f.ride.ID, WithdrawRequest{UserEmail: "creator@campus.edu"}); !errors.Is(err, model.ErrCreatorCannotWithdraw) {
		t.Fatalf("creator withdraw err = %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, f.ride.ID, WithdrawRequest{UserEmail: "b@campus.edu"}); !errors.Is(err, model.ErrRequestNotFound) {
		t.Fatalf("stranger withdraw err = %v", err)
	}

	view, err := f.svc.Withdraw(ctx, f.ride.ID, WithdrawRequest{UserEmail: "a@campus.edu"})
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if view.HasPassenger("a") || view.SeatsLeft != 3 {
		t.Fatalf("after withdraw: %+v", view)
	}
	r, _ := f.store.RequestByID(ctx, resp.RequestID)
	if r.Status != model.StatusWithdrawn {
		t.Fatalf("status = %s, want withdrawn", r.Status)
	}

	if _, err := f.svc.Withdraw(ctx, f.ride.ID, WithdrawRequest{UserEmail: "a@campus.edu"}); !errors.Is(err, model.ErrRequestAlreadyDecided) {
		t.Fatalf("second withdraw err = %v", err)
	}
	if _, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu"}); !errors.Is(err, model.ErrDuplicateRequest) {
		t.Fatalf("rebook after withdraw err = %v", err)
	}
	if f.pub.count("ride.withdrawn") != 1 {
		t.Fatalf("published %v", f.pub.topics)
	}
}

func TestListPopulatesAndFilters(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	ra, _ := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "a@campus.edu"})
	if _, err := f.svc.Book(ctx, BookRequest{RideID: f.ride.ID, UserEmail: "b@campus.edu"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Decide(ctx, ra.RequestID, DecisionRequest{Status: model.StatusAccepted}); err != nil {
		t.Fatal(err)
	}

	all, err := f.svc.List(ctx, ListParams{RideIDs: []string{f.ride.ID}})
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %d, %v", len(all), err)
	}
	for _, d := range all {
		if d.Ride == nil || d.Ride.ID != f.ride.ID || d.RequesterInfo == nil {
			t.Fatalf("not populated: %+v", d)
		}
	}

	accepted, _ := f.svc.List(ctx, ListParams{Status: model.StatusAccepted})
	if len(accepted) != 1 || accepted[0].Requester != "a" {
		t.Fatalf("accepted = %+v", accepted)
	}
	mine, _ := f.svc.List(ctx, ListParams{UserEmail: "b@campus.edu"})
	if len(mine) != 1 || mine[0].Requester != "b" {
		t.Fatalf("b's requests = %+v", mine)
	}
	none, err := f.svc.List(ctx, ListParams{UserEmail: "ghost@campus.edu"})
	if err != nil || len(none) != 0 {
		t.Fatalf("ghost = %v, %v", none, err)
	}
	if _, err := f.svc.List(ctx, ListParams{Status: "maybe"}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("bad status err = %v", err)
	}
}
