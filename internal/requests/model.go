package requests

import "cabshare/internal/model"

// BookRequest is the body for POST /request/book. Seats defaults to 1.
type BookRequest struct {
	RideID    string `json:"rideId"`
	UserEmail string `json:"userEmail"`
	Seats     int    `json:"seats"`
}

// BookResponse is returned by a successful booking.
type BookResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// DecisionRequest is the body for PATCH /request/requests/{id}.
type DecisionRequest struct {
	Status model.RequestStatus `json:"status"`
}

// AddPassengersRequest is the body for PATCH /request/{id}/add-passenger.
// Seats defaults to 1.
type AddPassengersRequest struct {
	UserID string `json:"userId"`
	Seats  int    `json:"seats"`
}

// WithdrawRequest is the body for PATCH /request/{id}/withdraw.
type WithdrawRequest struct {
	UserEmail string `json:"userEmail"`
}

// ListParams filters GET /request/requests.
type ListParams struct {
	RideIDs   []string
	UserEmail string
	Status    model.RequestStatus
}
