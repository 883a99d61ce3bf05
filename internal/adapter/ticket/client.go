// Package ticket files escalation tickets with the library's help desk.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmailRequired   = errors.New("email is required")
	ErrSubjectRequired = errors.New("subject is required")
)

// Request is a ticket to file.
type Request struct {
	Name     string
	Email    string
	Subject  string
	Details  string
	Metadata map[string]string
}

type createResponse struct {
	TicketURL string `json:"ticketUrl"`
	ID        any    `json:"id"`
	Error     string `json:"error"`
}

type Client struct {
	httpClient *resty.Client
	queueID    string
}

// NewClient wraps an authenticated resty client (see springshare.NewClient).
func NewClient(httpClient *resty.Client, queueID string) *Client {
	return &Client{httpClient: httpClient, queueID: queueID}
}

// Create files the ticket and returns its id.
func (c *Client) Create(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Email) == "" {
		return "", ErrEmailRequired
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return "", ErrSubjectRequired
	}

	form := map[string]string{
		"quid":      c.queueID,
		"pquestion": subject,
		"pdetails":  req.Details,
		"pname":     req.Name,
		"pemail":    req.Email,
	}
	for k, v := range req.Metadata {
		form["val_"+k] = v
	}

	var resp createResponse
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&resp).
		Post("/1.1/ticket/create")
	if err != nil {
		return "", fmt.Errorf("ticket create request failed: %w", err)
	}
	if httpResp.IsError() {
		return "", fmt.Errorf("ticket create error (%d): %s", httpResp.StatusCode(), httpResp.String())
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ticket create rejected: %s", resp.Error)
	}

	id := ticketID(resp)
	if id == "" {
		return "", fmt.Errorf("ticket create: response carried no ticket id")
	}
	log.Info().Str("component", "ticket").Str("ticket_id", id).Msg("ticket created")
	return id, nil
}

func ticketID(resp createResponse) string {
	switch v := resp.ID.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	if resp.TicketURL != "" {
		parts := strings.Split(strings.TrimRight(resp.TicketURL, "/"), "/")
		return parts[len(parts)-1]
	}
	return ""
}
