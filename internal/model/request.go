package model

import "time"

// RequestStatus enumerates join request states.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusRejected  RequestStatus = "rejected"
	StatusWithdrawn RequestStatus = "withdrawn"
)

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// Request is a user's ask to join a ride for a number of seats.
type Request struct {
	ID        string        `json:"id" bson:"_id"`
	RideID    string        `json:"rideId" bson:"rideId"`
	Requester string        `json:"requester" bson:"requester"`
	Status    RequestStatus `json:"status" bson:"status"`
	Seats     int           `json:"seats" bson:"seats"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt"`
	DecidedAt *time.Time    `json:"decidedAt,omitempty" bson:"decidedAt,omitempty"`
}

// RequestFilter narrows ListRequests. Empty fields are ignored.
type RequestFilter struct {
	RideIDs     []string
	RequesterID string
	Status      RequestStatus
}

// RequestDetail is a Request populated with its ride and requester.
type RequestDetail struct {
	Request
	Ride          *Ride        `json:"ride,omitempty"`
	RequesterInfo *UserSummary `json:"requesterInfo,omitempty"`
}
