package playchat

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

// Session is the messaging context of one logged-in user. It owns the relay
// client, the REST client and all chat state, and must be closed when the
// user leaves the chat view or logs out.
type Session struct {
	cfg  Config
	self string

	client   *Client
	api      *rest.Client
	presence *Presence
	convo    *Conversation
	typing   *TypingNotifier

	mu      sync.RWMutex
	logger  Logger
	users   []User
	onEvent func(Event)
}

// NewSession builds a session from cfg. When cfg.UserID is empty the user
// id is taken from the sub (or user_id) claim of cfg.Token.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		if cfg.Token == "" {
			return nil, NewError(ErrorInvalidConfig, "either user id or token is required")
		}
		id, err := UserIDFromToken(cfg.Token)
		if err != nil {
			return nil, err
		}
		cfg.UserID = id
	}

	s := &Session{
		cfg:      cfg,
		self:     cfg.UserID,
		logger:   noopLogger{},
		api:      rest.NewClient(cfg.RESTBaseURL),
		presence: NewPresence(cfg.UserID, cfg.TypingTTL),
		convo:    NewConversation(cfg.UserID),
	}
	s.client = NewClient(&s.cfg)
	s.api.SetToken(cfg.Token)
	s.api.SetTimeout(cfg.RequestTimeout)
	s.typing = NewTypingNotifier(cfg.TypingDebounce, s.announceTyping)
	s.client.OnEvent(s.apply)
	return s, nil
}

// UserIDFromToken extracts the user id from a JWT without verifying its
// signature; the relay and API verify it.
func UserIDFromToken(token string) (string, error) {
	tok, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", WrapError(ErrorInvalidConfig, "malformed token", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", NewError(ErrorInvalidConfig, "unexpected token claims")
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", NewError(ErrorInvalidConfig, "token carries no user id")
}

// SetLogger overrides logger for the session and its client. It is safe to
// call after Open.
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
	s.client.SetLogger(l)
}

func (s *Session) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// SetHTTPClient replaces the HTTP client used for API calls.
func (s *Session) SetHTTPClient(hc *http.Client) {
	s.api.SetHTTPClient(hc)
}

// OnEvent registers a callback invoked after each event has been applied to
// the session state.
func (s *Session) OnEvent(fn func(Event)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// OnStateChanged registers a callback for connection state transitions.
func (s *Session) OnStateChanged(fn func(StateEvent)) {
	s.client.OnStateChanged(fn)
}

// Open connects to the relay and loads the user directory and unread
// counters. Load failures are logged and leave the collections empty.
func (s *Session) Open(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return s.RefreshUsers(ctx) })
	g.Go(func() error { return s.RefreshUnread(ctx) })
	if err := g.Wait(); err != nil {
		s.log().Warn("initial load failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// RefreshUsers reloads the user directory, excluding the local user.
func (s *Session) RefreshUsers(ctx context.Context) error {
	list, err := s.api.ListUsers(ctx)
	if err != nil {
		s.mu.Lock()
		s.users = nil
		s.mu.Unlock()
		return WrapError(ErrorRequestFailed, "fetch users", err)
	}
	users := make([]User, 0, len(list))
	for _, u := range list {
		if u.ID == s.self {
			continue
		}
		users = append(users, userFromWire(u))
	}
	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// RefreshUnread reloads the unread counters.
func (s *Session) RefreshUnread(ctx context.Context) error {
	rows, err := s.api.UnreadCounts(ctx, s.self)
	if err != nil {
		s.convo.SetUnreadCounts(nil)
		return WrapError(ErrorRequestFailed, "fetch unread counts", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.PeerID] += r.Count
	}
	s.convo.SetUnreadCounts(counts)
	return nil
}

// SelectPeer opens the conversation with peerID: the displayed list is
// cleared, the peer's unread counter reset, messages marked read and history
// fetched. A response arriving after another peer was selected is dropped.
func (s *Session) SelectPeer(ctx context.Context, peerID string) error {
	if peerID == "" {
		return NewError(ErrorNoPeer, "empty peer id")
	}
	s.typing.Stop()
	gen := s.convo.Select(peerID)

	var (
		g       errgroup.Group
		history []rest.Message
	)
	g.Go(func() error {
		if err := s.api.MarkRead(ctx, peerID, s.self); err != nil {
			s.log().Warn("mark read failed", map[string]any{"peer": peerID, "error": err.Error()})
		}
		return nil
	})
	g.Go(func() error {
		h, err := s.api.GetHistory(ctx, peerID, s.self)
		if err != nil {
			return err
		}
		history = h
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log().Error("fetch history failed", map[string]any{"peer": peerID, "error": err.Error()})
		return WrapError(ErrorRequestFailed, "fetch history", err)
	}

	if !s.convo.ApplyHistory(gen, messagesFromWire(history)) {
		s.log().Debug("stale history discarded", map[string]any{"peer": peerID})
	}
	return nil
}

// Compose updates the draft and announces typing to the active peer.
func (s *Session) Compose(text string) {
	s.convo.SetDraft(text)
	s.Keystroke()
}

// Keystroke announces typing to the active peer, debounced.
func (s *Session) Keystroke() {
	if peer := s.convo.ActivePeer(); peer != "" {
		s.typing.Keystroke(peer)
	}
}

// SendMessage sends text to the active peer. The message is displayed as
// pending at once and replaced in place by the server copy on success; on
// failure it is removed and text is restored into the draft. Empty text, no
// active peer or a send already in flight are rejected without a request.
func (s *Session) SendMessage(ctx context.Context, text string) (Message, error) {
	pending, err := s.convo.BeginSend(text)
	if err != nil {
		return Message{}, err
	}
	s.typing.Stop()

	resp, err := s.api.CreateMessage(ctx, rest.CreateMessageRequest{
		Content:     text,
		RecipientID: pending.RecipientID,
		MessageUser: s.self,
	})
	if err != nil {
		failed := s.convo.FailSend(pending.ID, text)
		s.log().Error("send failed", map[string]any{"peer": pending.RecipientID, "error": err.Error()})
		return failed, WrapError(ErrorSendFailed, "message not sent", err)
	}

	server := messageFromWire(*resp)
	if server.RecipientID == "" {
		server.RecipientID = pending.RecipientID
	}
	if server.SenderID == "" {
		server.SenderID = s.self
	}
	confirmed, err := s.convo.ConfirmSend(pending.ID, server)
	if err != nil {
		s.log().Debug("confirmed message no longer displayed", map[string]any{"id": server.ID})
		confirmed = server
	}

	if err := s.client.BroadcastMessage(ctx, confirmed); err != nil {
		s.log().Warn("broadcast failed", map[string]any{"id": confirmed.ID, "error": err.Error()})
	}
	return confirmed, nil
}

// apply is the single reducer for relay and connection events.
func (s *Session) apply(ev Event) {
	switch e := ev.(type) {
	case NewMessage:
		s.receive(e.Message)
	case MessageConfirmed:
		s.receive(e.Message)
	case UserTyping:
		s.presence.SetTyping(e.UserID, e.IsTyping)
	case UserOnline:
		s.presence.SetOnline(e.UserID)
	case UserOffline:
		s.presence.SetOffline(e.UserID)
	case UnreadUpdate:
		s.convo.AdjustUnread(e.SenderID, e.Increment)
	case MessagesRead:
		s.convo.MarkReadBy(e.ReadBy)
	case Connected:
		s.log().Debug("relay connected", map[string]any{"user": s.self})
	case Disconnected:
		if e.Err != nil {
			s.log().Warn("relay disconnected", map[string]any{"error": e.Err.Error()})
		}
	case ConnectError:
		s.log().Error("relay connect error", map[string]any{"error": e.Err.Error()})
	case ProtocolError:
		s.log().Warn("relay error", map[string]any{"error": e.Err.Error()})
	}

	s.mu.RLock()
	fn := s.onEvent
	s.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Session) receive(m Message) {
	res := s.convo.Receive(m)
	if res == Appended && m.SenderID != s.self {
		s.presence.SetTyping(m.SenderID, false)
	}
	s.log().Debug("message received", map[string]any{"id": m.ID, "from": m.SenderID, "result": res.String()})
}

func (s *Session) announceTyping(recipientID string, isTyping bool) {
	ctx := context.Background()
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}
	if err := s.client.SendTyping(ctx, recipientID, isTyping); err != nil {
		s.log().Debug("typing not sent", map[string]any{"peer": recipientID, "error": err.Error()})
	}
}

// Close stops typing announcements, closes the relay channel and drops all
// chat state.
func (s *Session) Close() error {
	s.typing.Stop()
	err := s.client.Close()
	s.presence.Reset()
	s.convo.Reset()
	s.mu.Lock()
	s.users = nil
	s.onEvent = nil
	s.mu.Unlock()
	return err
}

// Self returns the local user id.
func (s *Session) Self() string { return s.self }

// State returns the relay connection state.
func (s *Session) State() ConnectionState { return s.client.State() }

// Users returns the directory without the local user.
func (s *Session) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, len(s.users))
	copy(out, s.users)
	return out
}

func (s *Session) Messages() []Message         { return s.convo.Messages() }
func (s *Session) UnreadCounts() map[string]int { return s.convo.UnreadCounts() }
func (s *Session) Unread(peerID string) int     { return s.convo.Unread(peerID) }
func (s *Session) ActivePeer() string           { return s.convo.ActivePeer() }
func (s *Session) Draft() string                { return s.convo.Draft() }
func (s *Session) Sending() bool                { return s.convo.Sending() }
func (s *Session) Online() []string             { return s.presence.Online() }
func (s *Session) IsOnline(id string) bool      { return s.presence.IsOnline(id) }
func (s *Session) Typing() []string             { return s.presence.Typing() }
func (s *Session) IsTyping(id string) bool      { return s.presence.IsTyping(id) }
