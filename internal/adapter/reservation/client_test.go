package reservation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(resty.New().SetBaseURL(srv.URL))
}

func TestCancelSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/1.1/space/cancel/cs_ABC", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"booking_id":"cs_ABC","cancelled":true}]`))
	})

	result, err := client.Cancel(context.Background(), " cs_ABC ")
	require.NoError(t, err)
	require.Equal(t, Result{BookingID: "cs_ABC", Cancelled: true}, result)
}

func TestCancelRefused(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"booking_id":"cs_OLD","cancelled":false,"error":"Booking is in the past"}]`))
	})

	result, err := client.Cancel(context.Background(), "cs_OLD")
	require.NoError(t, err)
	require.False(t, result.Cancelled)
	require.Equal(t, "Booking is in the past", result.Error)
}

func TestCancelMissingFromResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	result, err := client.Cancel(context.Background(), "cs_X")
	require.NoError(t, err)
	require.False(t, result.Cancelled)
	require.NotEmpty(t, result.Error)
}

func TestCancelErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := client.Cancel(context.Background(), "")
	require.ErrorIs(t, err, ErrBookingIDRequired)

	_, err = client.Cancel(context.Background(), "cs_X")
	require.ErrorContains(t, err, "403")
}
