// Package email implements the templated email transport and the persistent
// delivery queue with retry and dead-letter handling.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coinspree/ath-notifier/internal/config"
	"github.com/coinspree/ath-notifier/internal/models"

	pipelineerrors "github.com/coinspree/ath-notifier/internal/errors"
)

// ErrAdminRecipient marks a send blocked by the admin guard. The recipient
// resolver already excludes admins; this second check at the transport
// boundary keeps the invariant hard even if a job was enqueued by other
// means. Jobs failing this guard are dropped, never retried.
var ErrAdminRecipient = errors.New("refusing to send ath notification to admin recipient")

// SendRequest is one provider send call.
type SendRequest struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Sender delivers one email through the provider, returning the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, req *SendRequest) (string, error)
}

// ProviderClient sends email through the hosted provider's HTTP API.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewProviderClient creates a provider client from config.
func NewProviderClient(cfg *config.EmailConfig) *ProviderClient {
	return &ProviderClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send posts the message to the provider. Any non-success response becomes a
// ProviderSendError; the queue's backoff policy decides what happens next.
func (c *ProviderClient) Send(ctx context.Context, sendReq *SendRequest) (string, error) {
	body, err := json.Marshal(sendReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pipelineerrors.NewProviderSendError(0, "provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipelineerrors.NewProviderSendError(0, "failed to read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(respBody))
		if len(message) > 200 {
			message = message[:200]
		}
		return "", pipelineerrors.NewProviderSendError(resp.StatusCode, message, nil)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", pipelineerrors.NewProviderSendError(0, "malformed provider response", err)
	}
	return parsed.ID, nil
}

// guardRecipient enforces the send-time admin exclusion for ATH mail.
func guardRecipient(jobType models.EmailJobType, recipient *models.User) error {
	if jobType == models.JobATHNotification && recipient.IsAdmin() {
		return ErrAdminRecipient
	}
	return nil
}
