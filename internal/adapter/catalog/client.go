// Package catalog searches the library discovery API and normalizes its
// records for display in the chat.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrNoResults is returned when a search matched nothing. An empty result is
// never reported as success.
var ErrNoResults = errors.New("no catalogue results")

const (
	DefaultLimit = 3
	MaxLimit     = 20
)

// Record is one normalized catalogue entry.
type Record struct {
	Title               string   `json:"title"`
	Author              string   `json:"author"`
	PublicationYear     string   `json:"publicationYear"`
	BookType            string   `json:"bookType"`
	Subjects            []string `json:"subjects"`
	LocationInformation string   `json:"locationInformation"`
}

// Options configures the client.
type Options struct {
	BaseURL string
	APIKey  string
	View    string
	Tab     string
	Scope   string
	Timeout time.Duration
}

type Client struct {
	opts       Options
	httpClient *resty.Client
}

func NewClient(opts Options) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "LibraryChat-Catalog/1.0").
		SetTimeout(opts.Timeout)

	return &Client{opts: opts, httpClient: httpClient}
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.opts.BaseURL != "" && c.opts.APIKey != ""
}

// Search runs a keyword query and returns at most limit records.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	if !c.IsEnabled() {
		return nil, fmt.Errorf("catalog client is not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("catalog query is empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	params := map[string]string{
		"q":      "any,contains," + query,
		"limit":  fmt.Sprintf("%d", limit),
		"offset": "0",
		"apikey": c.opts.APIKey,
	}
	if c.opts.View != "" {
		params["vid"] = c.opts.View
	}
	if c.opts.Tab != "" {
		params["tab"] = c.opts.Tab
	}
	if c.opts.Scope != "" {
		params["scope"] = c.opts.Scope
	}

	var resp searchResponse
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&resp).
		Get("/primo/v1/search")
	if err != nil {
		return nil, fmt.Errorf("catalog search request failed: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("catalog search error (%d): %s", httpResp.StatusCode(), httpResp.String())
	}
	if len(resp.Docs) == 0 {
		return nil, ErrNoResults
	}

	records := make([]Record, 0, len(resp.Docs))
	for _, doc := range resp.Docs {
		records = append(records, doc.record())
	}
	if len(records) > limit {
		records = records[:limit]
	}

	log.Debug().Str("component", "catalog").Str("query", query).Int("results", len(records)).Msg("catalog search")
	return records, nil
}
