package model

import "time"

// Message is one line of a ride's group chat. System messages have no sender.
type Message struct {
	ID         string    `json:"id" bson:"_id"`
	RideID     string    `json:"rideId" bson:"rideId"`
	SenderID   string    `json:"senderId,omitempty" bson:"senderId,omitempty"`
	SenderName string    `json:"senderName" bson:"senderName"`
	Body       string    `json:"body" bson:"body"`
	System     bool      `json:"system" bson:"system"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}
