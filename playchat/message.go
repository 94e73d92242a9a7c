package playchat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

// TempIDPrefix marks identifiers generated locally for unconfirmed messages.
const TempIDPrefix = "tmp-"

// Status is the delivery state of a message.
// Messages received from history or the relay are always StatusConfirmed.
type Status int

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// User is an entry of the external user directory.
type User struct {
	ID    string
	Name  string
	Email string
}

// Message is a single direct message between two users.
type Message struct {
	ID          string
	SenderID    string
	SenderName  string
	RecipientID string
	Content     string
	CreatedAt   time.Time
	Read        bool
	Status      Status
}

// Pending reports whether the message is still awaiting server confirmation.
func (m Message) Pending() bool { return m.Status == StatusPending }

// Between reports whether m belongs to the conversation of a and b.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// NewTempID returns a locally unique identifier for an optimistic message.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// MarshalJSON encodes the message in the relay wire format.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// UnmarshalJSON accepts sender and recipient either as plain ids or as
// populated user objects.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w rest.Message
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = messageFromWire(w)
	return nil
}

func (m Message) wire() rest.Message {
	return rest.Message{
		ID:        m.ID,
		Sender:    rest.UserRef{ID: m.SenderID, Name: m.SenderName},
		Recipient: rest.UserRef{ID: m.RecipientID},
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Read:      m.Read,
	}
}

func messageFromWire(w rest.Message) Message {
	return Message{
		ID:          w.ID,
		SenderID:    w.Sender.ID,
		SenderName:  w.Sender.Name,
		RecipientID: w.Recipient.ID,
		Content:     w.Content,
		CreatedAt:   w.Created(),
		Read:        w.Read,
		Status:      StatusConfirmed,
	}
}

func messagesFromWire(ws []rest.Message) []Message {
	out := make([]Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, messageFromWire(w))
	}
	return out
}

func userFromWire(u rest.User) User {
	return User{ID: u.ID, Name: u.Name, Email: u.Email}
}
