package playchat

import (
	"maps"
	"strings"
	"sync"
	"time"
)

// ReceiveResult describes what Conversation.Receive did with a message.
type ReceiveResult int

const (
	// Duplicate: a message with the same id is already displayed.
	Duplicate ReceiveResult = iota
	// Appended to the active conversation.
	Appended
	// CountedUnread: belongs to another peer; that peer's unread counter was bumped.
	CountedUnread
	// Ignored: neither displayed nor counted (e.g. own message to another peer).
	Ignored
)

func (r ReceiveResult) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case Appended:
		return "appended"
	case CountedUnread:
		return "counted_unread"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Conversation holds the message list of the active peer, the compose draft
// and the per-peer unread counters for one local user.
type Conversation struct {
	mu   sync.Mutex
	self string
	now  func() time.Time

	peer     string
	gen      uint64
	messages []Message
	live     map[string]struct{} // ids appended since the last Select
	unread   map[string]int
	draft    string
	sending  bool
}

func NewConversation(self string) *Conversation {
	return &Conversation{
		self:   self,
		now:    time.Now,
		live:   make(map[string]struct{}),
		unread: make(map[string]int),
	}
}

// Select makes peerID the active conversation partner. The displayed list
// and draft are cleared and the peer's unread counter drops to zero. The
// returned generation must be passed to ApplyHistory.
func (c *Conversation) Select(peerID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peer = peerID
	c.gen++
	c.messages = nil
	clear(c.live)
	c.draft = ""
	delete(c.unread, peerID)
	return c.gen
}

// ApplyHistory replaces the displayed list with the fetched history of the
// peer selected at generation gen. It returns false and changes nothing when
// another peer has been selected since. Live messages that arrived between
// Select and the response and are missing from history are kept after it.
func (c *Conversation) ApplyHistory(gen uint64, history []Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.peer == "" {
		return false
	}

	list := make([]Message, 0, len(history)+len(c.messages))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if !m.Between(c.self, c.peer) {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		list = append(list, m)
	}
	for _, m := range c.messages {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		if _, ok := c.live[m.ID]; !ok {
			continue
		}
		list = append(list, m)
	}
	c.messages = list
	return true
}

// Receive applies a message delivered by the relay.
func (c *Conversation) Receive(m Message) ReceiveResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(m.ID) >= 0 {
		return Duplicate
	}
	if c.peer != "" && m.Between(c.self, c.peer) {
		m.Status = StatusConfirmed
		c.messages = append(c.messages, m)
		c.live[m.ID] = struct{}{}
		return Appended
	}
	if m.SenderID != "" && m.SenderID != c.self && m.RecipientID == c.self {
		c.unread[m.SenderID]++
		return CountedUnread
	}
	return Ignored
}

// BeginSend validates text and appends a pending message addressed to the
// active peer. Only one send may be in flight at a time.
func (c *Conversation) BeginSend(text string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return Message{}, NewError(ErrorEmptyMessage, "message is empty")
	}
	if c.peer == "" {
		return Message{}, NewError(ErrorNoPeer, "no conversation selected")
	}
	if c.sending {
		return Message{}, NewError(ErrorSendInFlight, "a message is already being sent")
	}
	m := Message{
		ID:          NewTempID(),
		SenderID:    c.self,
		RecipientID: c.peer,
		Content:     text,
		CreatedAt:   c.now(),
		Status:      StatusPending,
	}
	c.messages = append(c.messages, m)
	c.live[m.ID] = struct{}{}
	c.sending = true
	c.draft = ""
	return m, nil
}

// ConfirmSend replaces the pending message tempID with the server copy,
// keeping its position. Content and creation time stay as displayed.
func (c *Conversation) ConfirmSend(tempID string, confirmed Message) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false

	i := c.indexLocked(tempID)
	if i < 0 {
		// the peer was switched away while the request was in flight
		return Message{}, NewError(ErrorUnknownMessage, "pending message "+tempID+" is no longer displayed")
	}
	temp := c.messages[i]
	out := temp
	out.ID = confirmed.ID
	out.Status = StatusConfirmed
	if confirmed.SenderName != "" {
		out.SenderName = confirmed.SenderName
	}
	if out.ID == "" {
		out.ID = tempID
	}
	c.messages[i] = out
	delete(c.live, tempID)
	c.live[out.ID] = struct{}{}

	// the relay may have echoed the message before the REST call returned
	for j := len(c.messages) - 1; j >= 0; j-- {
		if j != i && c.messages[j].ID == out.ID {
			c.messages = append(c.messages[:j], c.messages[j+1:]...)
		}
	}
	return out, nil
}

// FailSend removes the pending message tempID and restores text into the
// draft. The returned message carries StatusFailed.
func (c *Conversation) FailSend(tempID, text string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	c.draft = text

	var failed Message
	if i := c.indexLocked(tempID); i >= 0 {
		failed = c.messages[i]
		c.messages = append(c.messages[:i], c.messages[i+1:]...)
		delete(c.live, tempID)
	} else {
		failed = Message{ID: tempID, SenderID: c.self, Content: text}
	}
	failed.Status = StatusFailed
	return failed
}

// SetUnreadCounts replaces all counters, e.g. after fetching them from the
// API. The active peer always stays at zero.
func (c *Conversation) SetUnreadCounts(counts map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.unread)
	for peer, n := range counts {
		if n > 0 && peer != c.peer {
			c.unread[peer] = n
		}
	}
}

// AdjustUnread applies an updateUnreadCount relay event. Increments are
// already accounted for by Receive, so only resets change the counter.
func (c *Conversation) AdjustUnread(senderID string, increment bool) {
	if increment {
		return
	}
	c.mu.Lock()
	delete(c.unread, senderID)
	c.mu.Unlock()
}

// MarkReadBy flags every displayed message from the local user to readerID
// as read.
func (c *Conversation) MarkReadBy(readerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.messages {
		m := &c.messages[i]
		if m.SenderID == c.self && m.RecipientID == readerID && !m.Read && m.Status == StatusConfirmed {
			m.Read = true
			n++
		}
	}
	return n
}

func (c *Conversation) Unread(peerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[peerID]
}

// UnreadCounts returns a copy of the non-zero counters.
func (c *Conversation) UnreadCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.unread)
}

// Messages returns a copy of the displayed list in display order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) ActivePeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Generation returns the current selection generation.
func (c *Conversation) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Sending reports whether a send is in flight.
func (c *Conversation) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Reset drops all state, as on logout.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peer = ""
	c.gen++
	c.messages = nil
	clear(c.live)
	clear(c.unread)
	c.draft = ""
	c.sending = false
}

func (c *Conversation) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}
