package calling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatflow/signaling/models"
)

// Client is the HTTP transport to the signaling relay. It is deliberately
// thin: deposit, drain, heartbeat, plus the two collaborator calls the call
// flow needs (user lookup, conversation marker).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a relay client. baseURL is the relay root, e.g.
// "http://localhost:8082"; token is the bearer token minted by the auth
// service.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deposit queues one signaling event for recipientID. The payload is
// marshalled once here and travels opaque from then on.
func (c *Client) Deposit(ctx context.Context, recipientID string, kind models.SignalKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	req := models.SendSignalRequest{
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     raw,
	}
	return c.do(ctx, http.MethodPost, "/api/signal/send", req, nil)
}

// Drain fetches and clears the caller's mailbox. Events come back in deposit
// order; an empty mailbox is an empty slice.
func (c *Client) Drain(ctx context.Context) ([]models.SignalEvent, error) {
	var events []models.SignalEvent
	if err := c.do(ctx, http.MethodGet, "/api/signal/poll", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Heartbeat reports liveness. Idempotent.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/presence/heartbeat", nil, nil)
}

// IsOnline asks the relay whether userID heartbeaten recently. Used to gate
// whether a call attempt is worth making.
func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	var status models.PresenceStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/presence/status?user_id="+userID, nil, &status); err != nil {
		return false, err
	}
	return status.IsOnline, nil
}

// UsersByIDs resolves user IDs to profiles for rendering caller identity.
func (c *Client) UsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	req := models.BatchUsersRequest{UserIDs: ids}
	var users []models.User
	if err := c.do(ctx, http.MethodPost, "/api/users/batch", req, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// PostCallMarker appends the synthetic "call started" message to a
// conversation. One-way notification to the conversation service; the call
// does not depend on it.
func (c *Client) PostCallMarker(ctx context.Context, chatID string, kind models.CallKind) error {
	content := "Voice call started"
	if kind == models.CallVideo {
		content = "Video call started"
	}

	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}
