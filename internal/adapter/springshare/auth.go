// Package springshare authenticates against the booking and ticketing
// APIs, which share the same client-credentials flow.
package springshare

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zhouzirui/library-chat/backend/internal/config"
)

// TokenSource returns a bearer token source that fetches a new token only
// when the cached one has expired.
func TokenSource(ctx context.Context, creds config.OAuthClient) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return oauth2.ReuseTokenSource(nil, &fetchLogger{src: cc.TokenSource(ctx), tokenURL: creds.TokenURL})
}

// NewClient returns a resty client whose requests carry the bearer token.
func NewClient(ctx context.Context, baseURL string, creds config.OAuthClient, timeout time.Duration, userAgent string) *resty.Client {
	return NewClientWithTokenSource(ctx, baseURL, TokenSource(ctx, creds), timeout, userAgent)
}

// NewClientWithTokenSource is NewClient with an explicit token source.
func NewClientWithTokenSource(ctx context.Context, baseURL string, ts oauth2.TokenSource, timeout time.Duration, userAgent string) *resty.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = timeout

	return resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
}

type fetchLogger struct {
	src      oauth2.TokenSource
	tokenURL string
}

func (f *fetchLogger) Token() (*oauth2.Token, error) {
	token, err := f.src.Token()
	if err != nil {
		log.Error().Err(err).Str("component", "springshare").Str("token_url", f.tokenURL).Msg("token request failed")
		return nil, err
	}
	log.Debug().Str("component", "springshare").Str("token_url", f.tokenURL).Time("expiry", token.Expiry).Msg("token refreshed")
	return token, nil
}
