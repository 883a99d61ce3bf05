package springshare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/library-chat/backend/internal/config"
)

func TestClientReusesTokenUntilExpiry(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/1.1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		require.Equal(t, "id", r.Form.Get("client_id"))
		require.Equal(t, "secret", r.Form.Get("client_secret"))
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/1.1/ping", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	creds := config.OAuthClient{TokenURL: srv.URL + "/1.1/oauth/token", ClientID: "id", ClientSecret: "secret"}
	client := NewClient(context.Background(), srv.URL, creds, time.Second, "test")

	for i := 0; i < 3; i++ {
		resp, err := client.R().Get("/1.1/ping")
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode())
	}
	require.Equal(t, int32(1), tokenCalls.Load())
}

func TestClientSurfacesTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := config.OAuthClient{TokenURL: srv.URL + "/token", ClientID: "id", ClientSecret: "bad"}
	_, err := NewClient(context.Background(), srv.URL, creds, time.Second, "test").R().Get("/anything")
	require.Error(t, err)
}
