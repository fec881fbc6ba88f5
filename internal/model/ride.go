package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of Ride.Date.
const DateLayout = "2006-01-02"

// Ride is a scheduled shared-cab trip. Passengers holds one entry per
// reserved seat, so a user booking two seats appears twice.
type Ride struct {
	ID           string    `json:"id" bson:"_id"`
	Source       string    `json:"source" bson:"source"`
	Destination  string    `json:"destination" bson:"destination"`
	Date         time.Time `json:"date" bson:"date"`
	Time         string    `json:"time" bson:"time"`
	MaxCapacity  int       `json:"maxCapacity" bson:"maxCapacity"`
	TotalFare    float64   `json:"totalFare" bson:"totalFare"`
	IsFemaleOnly bool      `json:"isFemaleOnly" bson:"isFemaleOnly"`
	CreatedBy    string    `json:"createdBy" bson:"createdBy"`
	Email        string    `json:"email" bson:"email"`
	Passengers   []string  `json:"passengers" bson:"passengers"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// HasPassenger reports whether userID holds at least one seat.
func (r *Ride) HasPassenger(userID string) bool {
	for _, p := range r.Passengers {
		if p == userID {
			return true
		}
	}
	return false
}

// RideView is a Ride annotated for the client that asked for it.
type RideView struct {
	Ride
	SeatsLeft            int  `json:"seatsLeft"`
	IsCurrentUserCreator bool `json:"isCurrentUserCreator"`
}

// RideFilter narrows SearchRides. Zero values match everything.
type RideFilter struct {
	Source      string
	Destination string
	Date        *time.Time
	MinSeats    int
	FemaleOnly  *bool
	Limit       int
}

// rideAlias drops Ride's methods so the JSON helpers can embed it.
type rideAlias Ride

// rideJSON renders Date as a calendar date instead of a timestamp.
type rideJSON struct {
	rideAlias
	Date string `json:"date"`
}

func toRideJSON(r Ride) rideJSON {
	return rideJSON{rideAlias: rideAlias(r), Date: r.Date.Format(DateLayout)}
}

func (j rideJSON) ride() (Ride, error) {
	r := Ride(j.rideAlias)
	if j.Date == "" {
		return r, nil
	}
	d, err := time.Parse(DateLayout, j.Date)
	if err != nil {
		return r, fmt.Errorf("ride date: %w", err)
	}
	r.Date = d
	return r, nil
}

func (r Ride) MarshalJSON() ([]byte, error) { return json.Marshal(toRideJSON(r)) }

func (r *Ride) UnmarshalJSON(b []byte) error {
	var j rideJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	v, err := j.ride()
	if err != nil {
		return err
	}
	*r = v
	return nil
}

type rideViewJSON struct {
	rideJSON
	SeatsLeft            int  `json:"seatsLeft"`
	IsCurrentUserCreator bool `json:"isCurrentUserCreator"`
}

// MarshalJSON is needed because Ride's would otherwise be promoted and
// drop the annotations.
func (v RideView) MarshalJSON() ([]byte, error) {
	return json.Marshal(rideViewJSON{toRideJSON(v.Ride), v.SeatsLeft, v.IsCurrentUserCreator})
}

func (v *RideView) UnmarshalJSON(b []byte) error {
	var j rideViewJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	r, err := j.ride()
	if err != nil {
		return err
	}
	*v = RideView{Ride: r, SeatsLeft: j.SeatsLeft, IsCurrentUserCreator: j.IsCurrentUserCreator}
	return nil
}
