// Package reservation cancels room and seat bookings.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrBookingIDRequired is returned for an empty booking id.
var ErrBookingIDRequired = errors.New("booking id is required")

// Result reports the outcome for one booking.
type Result struct {
	BookingID string `json:"booking_id"`
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

type Client struct {
	httpClient *resty.Client
}

// NewClient wraps an authenticated resty client (see springshare.NewClient).
func NewClient(httpClient *resty.Client) *Client {
	return &Client{httpClient: httpClient}
}

// Cancel cancels bookingID. A refusal by the booking system is reported in
// Result, not as an error.
func (c *Client) Cancel(ctx context.Context, bookingID string) (Result, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Result{}, ErrBookingIDRequired
	}

	var results []Result
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&results).
		Post("/1.1/space/cancel/" + url.PathEscape(bookingID))
	if err != nil {
		return Result{}, fmt.Errorf("reservation cancel request failed: %w", err)
	}
	if httpResp.IsError() {
		return Result{}, fmt.Errorf("reservation cancel error (%d): %s", httpResp.StatusCode(), httpResp.String())
	}

	for _, r := range results {
		if r.BookingID == bookingID {
			log.Info().Str("component", "reservation").Str("booking_id", bookingID).Bool("cancelled", r.Cancelled).Msg("cancel booking")
			return r, nil
		}
	}
	return Result{BookingID: bookingID, Error: "booking not found in cancellation response"}, nil
}
