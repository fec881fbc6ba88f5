package seats

import (
	"errors"
	"testing"

	"cabshare/internal/model"
)

func TestCheck(t *testing.T) {
	cases := []struct {
		name      string
		max, occ  int
		seats     int
		wantErr   bool
		seatsLeft int
	}{
		{"fits exactly", 3, 1, 2, false, 2},
		{"one too many", 3, 1, 3, true, 2},
		{"full ride", 3, 3, 1, true, 0},
		{"overfull ride is reported, not clamped", 2, 3, 1, true, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Left(tc.max, tc.occ); got != tc.seatsLeft {
				t.Fatalf("Left = %d, want %d", got, tc.seatsLeft)
			}
			err := Check(tc.max, tc.occ, tc.seats)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Check err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil {
				return
			}
			var capErr *InsufficientCapacityError
			if !errors.As(err, &capErr) {
				t.Fatalf("expected *InsufficientCapacityError, got %T", err)
			}
			if capErr.SeatsLeft != tc.seatsLeft {
				t.Fatalf("SeatsLeft = %d, want %d", capErr.SeatsLeft, tc.seatsLeft)
			}
			if !errors.Is(err, ErrInsufficientCapacity) {
				t.Fatal("errors.Is(err, ErrInsufficientCapacity) = false")
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Check(4, 3, 2)
	if err == nil || err.Error() != "Only 1 seats available" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckRide(t *testing.T) {
	r := &model.Ride{MaxCapacity: 3, Passengers: []string{"creator", "a", "a"}}
	if LeftOn(r) != 0 {
		t.Fatalf("LeftOn = %d, want 0", LeftOn(r))
	}
	if err := CheckRide(r, 1); err == nil {
		t.Fatal("expected capacity error on a full ride")
	}
}
