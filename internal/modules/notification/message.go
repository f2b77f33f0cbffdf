// README: Wire messages published for ride transitions and payment requests.
package notification

import (
	"time"

	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

type StatusMessage struct {
	RideID    string    `json:"ride_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorRole string    `json:"actor_role"`
	ActorID   string    `json:"actor_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RiderID   string    `json:"rider_id"`
	DriverID  string    `json:"driver_id,omitempty"`
	At        time.Time `json:"at"`
}

func NewStatusMessage(e ride.Event) StatusMessage {
	return StatusMessage{
		RideID:    string(e.RideID),
		From:      string(e.From),
		To:        string(e.To),
		ActorRole: string(e.Actor.Role),
		ActorID:   string(e.Actor.ID),
		Reason:    e.Reason,
		RiderID:   string(e.RiderID),
		DriverID:  string(e.DriverID),
		At:        e.At,
	}
}

type PaymentMessage struct {
	RideID      string    `json:"ride_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewPaymentMessage(rideID types.ID, price types.Money, at time.Time) PaymentMessage {
	return PaymentMessage{
		RideID:      string(rideID),
		Amount:      price.Amount,
		Currency:    price.Currency,
		RequestedAt: at,
	}
}
