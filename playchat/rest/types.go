package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// User is an entry of the user directory.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// UserRef references a user in message payloads. It decodes from either a
// bare id string or a populated user object.
type UserRef struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = UserRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = UserRef{ID: id}
		return nil
	}
	type plain UserRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = UserRef(p)
	return nil
}

// CreateMessageRequest is the request body for POST /api/messages.
type CreateMessageRequest struct {
	Content     string `json:"content"`
	RecipientID string `json:"recipientId"`
	MessageUser string `json:"messageUser"` // sender id
}

// MarkReadRequest is the request body for POST /api/messages/mark-read.
type MarkReadRequest struct {
	SenderID string `json:"senderId"`
}

// UnreadCount is one row of GET /api/messages/unread/:userId.
type UnreadCount struct {
	PeerID string `json:"_id"`
	Count  int    `json:"count"`
}

// Message is a message as stored by the API and relayed over the socket.
type Message struct {
	ID        string     `json:"_id"`
	Sender    UserRef    `json:"sender"`
	Recipient UserRef    `json:"recipient"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Timestamp *time.Time `json:"timestamp,omitempty"` // legacy name for createdAt
	Read      bool       `json:"read,omitempty"`
}

// Created returns CreatedAt, falling back to the legacy timestamp field.
func (m Message) Created() time.Time {
	if m.CreatedAt.IsZero() && m.Timestamp != nil {
		return *m.Timestamp
	}
	return m.CreatedAt
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is returned for responses with status >= 400.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}
