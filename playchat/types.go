package playchat

import "encoding/json"

// Relay event names. Client -> relay.
const (
	eventJoin        = "join"
	eventSendMessage = "sendMessage"
	eventTyping      = "typing"
)

// Relay event names. Relay -> client.
const (
	eventNewMessage        = "newMessage"
	eventMessageConfirmed  = "messageConfirmed"
	eventUserTyping        = "userTyping"
	eventUserOnline        = "userOnline"
	eventUserOffline       = "userOffline"
	eventUpdateUnreadCount = "updateUnreadCount"
	eventMessagesRead      = "messagesRead"
	eventError             = "error"
)

// Envelope is the frame exchanged over the duplex channel in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// outbound is the client -> relay frame before its payload is encoded.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// TypingPayload announces the local composing state.
type TypingPayload struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

// UserTypingPayload relays a peer's composing state.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UnreadCountPayload adjusts the unread counter of one sender.
type UnreadCountPayload struct {
	SenderID  string `json:"senderId"`
	Increment bool   `json:"increment"`
}

// MessagesReadPayload is a read receipt.
type MessagesReadPayload struct {
	ReadBy string `json:"readBy"`
}

// Error describes a protocol error.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
