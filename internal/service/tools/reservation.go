package tools

import (
	"context"
	"fmt"

	"github.com/zhouzirui/library-chat/backend/internal/adapter/reservation"
)

// Canceller cancels a booking by id.
type Canceller interface {
	Cancel(ctx context.Context, bookingID string) (reservation.Result, error)
}

// CancelReservation cancels a room or seat booking.
type CancelReservation struct {
	Canceller Canceller
}

func (CancelReservation) Spec() Spec {
	return Spec{
		Name:        "cancel_reservation",
		Description: "Cancel a study room or seat booking. Only use with a booking id the patron gave you.",
		Parameters: map[string]string{
			"bookingId": "the booking id from the confirmation email",
		},
		Required: []string{"bookingId"},
	}
}

func (t CancelReservation) Run(ctx context.Context, args Args) (string, error) {
	bookingID, _ := args.String("bookingId")
	result, err := t.Canceller.Cancel(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if result.Cancelled {
		return fmt.Sprintf("Booking %s has been cancelled.", bookingID), nil
	}
	if result.Error != "" {
		return fmt.Sprintf("Booking %s could not be cancelled: %s", bookingID, result.Error), nil
	}
	return fmt.Sprintf("Booking %s could not be cancelled.", bookingID), nil
}
