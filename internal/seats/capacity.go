// Package seats computes remaining ride capacity.
//
// The checker only reports; it never clamps a negative result. Keeping
// len(passengers) <= maxCapacity is the job of whoever appends passengers.
package seats

import (
	"errors"
	"fmt"

	"cabshare/internal/model"
)

// ErrInsufficientCapacity matches any *InsufficientCapacityError.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// InsufficientCapacityError is returned when a seat count does not fit.
type InsufficientCapacityError struct {
	SeatsLeft int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("Only %d seats available", e.SeatsLeft)
}

func (e *InsufficientCapacityError) Is(target error) bool { return target == ErrInsufficientCapacity }

// Left returns maxCapacity - occupied.
func Left(maxCapacity, occupied int) int {
	return maxCapacity - occupied
}

// Check returns an *InsufficientCapacityError when seats > Left(maxCapacity, occupied).
func Check(maxCapacity, occupied, seats int) error {
	left := Left(maxCapacity, occupied)
	if seats > left {
		return &InsufficientCapacityError{SeatsLeft: left}
	}
	return nil
}

// LeftOn is Left applied to a ride.
func LeftOn(r *model.Ride) int {
	return Left(r.MaxCapacity, len(r.Passengers))
}

// CheckRide is Check applied to a ride.
func CheckRide(r *model.Ride, seats int) error {
	return Check(r.MaxCapacity, len(r.Passengers), seats)
}
