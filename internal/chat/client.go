// Package chat provides the HTTP client used to submit chat messages.
// Sending is an ordinary request/response operation, separate from the
// realtime push channel; failures are tagged with a retry category so the
// retry queue can decide whether to reschedule them.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calyptra/tether/internal/retry"
)

// DefaultTimeout bounds one send request.
const DefaultTimeout = 15 * time.Second

// Message is one outbound chat message.
type Message struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	// ClientMessageID is generated by the client and stays stable across
	// retries of the same message, letting the backend deduplicate.
	ClientMessageID string `json:"client_message_id"`
}

// Client posts chat messages to the backend message endpoint.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a Client for the given message endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// Send posts the message. Errors are classified for the retry queue:
// transport failures and timeouts keep their native types (the queue's
// classifier recognizes them), while HTTP statuses are mapped explicitly —
// 5xx to server_error, 429 to rate_limit_error, 408 to timeout_error, and
// any other non-2xx status to a permanent error.
func (c *Client) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.NewError(retry.CategoryRateLimit,
			fmt.Errorf("server returned %s", resp.Status))
	case resp.StatusCode == http.StatusRequestTimeout:
		return retry.NewError(retry.CategoryTimeout,
			fmt.Errorf("server returned %s", resp.Status))
	case resp.StatusCode >= 500:
		return retry.NewError(retry.CategoryServer,
			fmt.Errorf("server returned %s", resp.Status))
	default:
		return errors.New("server rejected message: " + resp.Status)
	}
}
