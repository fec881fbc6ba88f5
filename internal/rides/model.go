package rides

// CreateRideRequest is the body for POST /rides.
type CreateRideRequest struct {
	Source       string  `json:"source"`
	Destination  string  `json:"destination"`
	Date         string  `json:"date"`
	Time         string  `json:"time"`
	MaxCapacity  int     `json:"maxCapacity"`
	TotalFare    float64 `json:"totalFare"`
	IsFemaleOnly bool    `json:"isFemaleOnly"`
	UserEmail    string  `json:"userEmail"`
}

// SearchParams are the query parameters of GET /rides/search.
type SearchParams struct {
	Source      string
	Destination string
	Date        string
	Seats       int
	FemaleOnly  *bool
	Limit       int
	ViewerEmail string
}
