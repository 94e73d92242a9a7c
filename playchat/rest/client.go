package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides access to the storefront messaging API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL is the API root, e.g. "http://localhost:8098".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetTimeout overrides the per-request timeout. 0 disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// SetToken sets the JWT token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Directory

// ListUsers returns the user directory.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp []User
	if err := c.get(ctx, "/users/allusers", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Messages

// GetHistory returns the conversation between currentUserID and peerID,
// oldest first.
func (c *Client) GetHistory(ctx context.Context, peerID, currentUserID string) ([]Message, error) {
	path := "/api/messages/" + url.PathEscape(peerID) + "?currentUserId=" + url.QueryEscape(currentUserID)
	var resp []Message
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateMessage stores a message and returns the server copy.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Message, error) {
	var resp Message
	if err := c.post(ctx, "/api/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks every message from senderID to currentUserID as read.
func (c *Client) MarkRead(ctx context.Context, senderID, currentUserID string) error {
	path := "/api/messages/mark-read?currentUserId=" + url.QueryEscape(currentUserID)
	return c.post(ctx, path, MarkReadRequest{SenderID: senderID}, nil)
}

// UnreadCounts returns per-peer unread counters for userID.
func (c *Client) UnreadCounts(ctx context.Context, userID string) ([]UnreadCount, error) {
	var resp []UnreadCount
	if err := c.get(ctx, "/api/messages/unread/"+url.PathEscape(userID), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	return c.do(req, dest)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			if errResp.Error != "" {
				return &APIError{Status: resp.StatusCode, Message: errResp.Error}
			}
			if errResp.Message != "" {
				return &APIError{Status: resp.StatusCode, Message: errResp.Message}
			}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if dest != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
