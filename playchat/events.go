package playchat

// Event is a decoded relay or connection event. The set of implementations
// is closed; switch on the concrete type.
type Event interface {
	isEvent()
}

// NewMessage is delivered when a message addressed to (or sent by) the local
// user reaches the relay.
type NewMessage struct{ Message Message }

// MessageConfirmed acknowledges a message broadcast by this client.
type MessageConfirmed struct{ Message Message }

// UserTyping relays a peer's composing state.
type UserTyping struct {
	UserID   string
	IsTyping bool
}

// UserOnline is emitted when a user connects.
type UserOnline struct{ UserID string }

// UserOffline is emitted when a user's last connection goes away.
type UserOffline struct{ UserID string }

// UnreadUpdate adjusts the unread counter for SenderID.
type UnreadUpdate struct {
	SenderID  string
	Increment bool
}

// MessagesRead is a read receipt: ReadBy has read the local user's messages.
type MessagesRead struct{ ReadBy string }

// Connected is emitted once the channel is open and join was announced.
type Connected struct{}

// Disconnected is emitted when the channel goes away. Err is nil for an
// orderly close.
type Disconnected struct{ Err error }

// ConnectError is emitted when dialing the relay fails.
type ConnectError struct{ Err error }

// ProtocolError is an error envelope received from the relay, or a frame
// that could not be decoded.
type ProtocolError struct{ Err error }

func (NewMessage) isEvent()       {}
func (MessageConfirmed) isEvent() {}
func (UserTyping) isEvent()       {}
func (UserOnline) isEvent()       {}
func (UserOffline) isEvent()      {}
func (UnreadUpdate) isEvent()     {}
func (MessagesRead) isEvent()     {}
func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (ConnectError) isEvent()     {}
func (ProtocolError) isEvent()    {}
