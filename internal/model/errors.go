// Package model holds the persisted entities shared by the services and
// the storage backends, along with the workflow error taxonomy. Handlers
// translate these errors into HTTP status codes with errors.Is.
package model

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUserNotFound          = errors.New("user not found")
	ErrRideNotFound          = errors.New("ride not found")
	ErrRequestNotFound       = errors.New("request not found")
	ErrSelfBooking           = errors.New("Cannot request your own ride")
	ErrAlreadyJoined         = errors.New("You have already joined this ride")
	ErrDuplicateRequest      = errors.New("Request already sent")
	ErrRequestAlreadyDecided = errors.New("request has already been decided")
	ErrCreatorCannotWithdraw = errors.New("ride creator cannot withdraw")
	ErrNotRideMember         = errors.New("only ride members can post messages")
	ErrEmailTaken            = errors.New("email already exists")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidCode           = errors.New("invalid or expired code")
)

// InvalidInputError carries a human readable reason and matches
// ErrInvalidInput under errors.Is.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return e.Reason }

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid is shorthand for &InvalidInputError{Reason: reason}.
func Invalid(reason string) error { return &InvalidInputError{Reason: reason} }
