// README: Firebase Cloud Messaging pusher for ride status changes.
package notification

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes to per-user topics. Apps subscribe to UserTopic(uid).
type FCM struct {
	client messagingClient
}

func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

func UserTopic(userID types.ID) string {
	return "user_" + string(userID)
}

var pushTitles = map[ride.Status]string{
	ride.StatusRequested:  "Looking for a driver",
	ride.StatusAccepted:   "Driver on the way",
	ride.StatusInProgress: "Ride started",
	ride.StatusCompleted:  "Ride completed",
	ride.StatusCancelled:  "Ride cancelled",
}

func (f *FCM) RideTransition(ctx context.Context, e ride.Event) error {
	recipients := []types.ID{e.RiderID}
	// Drivers learn about assignment through the dispatch channel, not push.
	if e.DriverID != "" && e.To != ride.StatusAccepted {
		recipients = append(recipients, e.DriverID)
	}

	var errs []error
	for _, uid := range recipients {
		if uid == "" {
			continue
		}
		msg := &messaging.Message{
			Topic: UserTopic(uid),
			Data: map[string]string{
				"ride_id": string(e.RideID),
				"status":  string(e.To),
				"reason":  e.Reason,
			},
			Notification: &messaging.Notification{
				Title: pushTitles[e.To],
				Body:  fmt.Sprintf("Ride %s is now %s", e.RideID, e.To),
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		}
		if _, err := f.client.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("sending FCM to %s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}
