package relay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmptyContent = errors.New("content is empty")
)

// Store persists the user directory and direct messages.
type Store interface {
	ListUsers(ctx context.Context) ([]rest.User, error)
	History(ctx context.Context, userID, peerID string) ([]rest.Message, error)
	CreateMessage(ctx context.Context, senderID, recipientID, content string) (rest.Message, error)
	MarkRead(ctx context.Context, readerID, senderID string) (int, error)
	UnreadCounts(ctx context.Context, userID string) ([]rest.UnreadCount, error)
	Close() error
}

type storedMessage struct {
	msg    rest.Message
	readAt *time.Time
}

// MemoryStore keeps everything in process memory. An empty directory
// accepts any user id.
type MemoryStore struct {
	mu       sync.RWMutex
	users    []rest.User
	byID     map[string]rest.User
	messages []storedMessage
	now      func() time.Time
}

func NewMemoryStore(users []rest.User) *MemoryStore {
	s := &MemoryStore{
		byID: make(map[string]rest.User, len(users)),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, u := range users {
		s.users = append(s.users, u)
		s.byID[u.ID] = u
	}
	return s
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]rest.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rest.User, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, userID, peerID string) ([]rest.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rest.Message
	for _, m := range s.messages {
		a, b := m.msg.Sender.ID, m.msg.Recipient.ID
		if (a == userID && b == peerID) || (a == peerID && b == userID) {
			out = append(out, m.msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, senderID, recipientID, content string) (rest.Message, error) {
	if strings.TrimSpace(content) == "" {
		return rest.Message{}, ErrEmptyContent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, err := s.lookupLocked(senderID)
	if err != nil {
		return rest.Message{}, err
	}
	if _, err := s.lookupLocked(recipientID); err != nil {
		return rest.Message{}, err
	}
	m := rest.Message{
		ID:        uuid.NewString(),
		Sender:    rest.UserRef{ID: sender.ID, Name: sender.Name},
		Recipient: rest.UserRef{ID: recipientID},
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages = append(s.messages, storedMessage{msg: m})
	return m, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, readerID, senderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.msg.Sender.ID == senderID && m.msg.Recipient.ID == readerID && m.readAt == nil {
			m.readAt = &now
			m.msg.Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCounts(ctx context.Context, userID string) ([]rest.UnreadCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, m := range s.messages {
		if m.msg.Recipient.ID == userID && m.readAt == nil {
			counts[m.msg.Sender.ID]++
		}
	}
	out := make([]rest.UnreadCount, 0, len(counts))
	for peer, n := range counts {
		out = append(out, rest.UnreadCount{PeerID: peer, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lookupLocked(id string) (rest.User, error) {
	if id == "" {
		return rest.User{}, ErrUserNotFound
	}
	if len(s.byID) == 0 {
		return rest.User{ID: id}, nil
	}
	u, ok := s.byID[id]
	if !ok {
		return rest.User{}, ErrUserNotFound
	}
	return u, nil
}
