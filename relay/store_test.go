package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore([]rest.User{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}, {ID: "u3", Name: "Carol"}})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestMemoryStoreHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	mustCreate(t, s, "u1", "u2", "one")
	mustCreate(t, s, "u3", "u1", "other")
	mustCreate(t, s, "u2", "u1", "two")

	hist, err := s.History(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Content != "one" || hist[1].Content != "two" {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].Sender.Name != "Alice" {
		t.Fatalf("sender name not populated: %+v", hist[0].Sender)
	}
}

func TestMemoryStoreValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.CreateMessage(ctx, "u1", "ghost", "hi"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown recipient: %v", err)
	}
	if _, err := s.CreateMessage(ctx, "u1", "u2", "  "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank content: %v", err)
	}

	open := NewMemoryStore(nil)
	if _, err := open.CreateMessage(ctx, "a", "b", "hi"); err != nil {
		t.Fatalf("empty directory should accept any id: %v", err)
	}
}

func TestMemoryStoreUnreadAndMarkRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	mustCreate(t, s, "u2", "u1", "a")
	mustCreate(t, s, "u2", "u1", "b")
	mustCreate(t, s, "u3", "u1", "c")
	mustCreate(t, s, "u1", "u2", "mine")

	counts, err := s.UnreadCounts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := []rest.UnreadCount{{PeerID: "u2", Count: 2}, {PeerID: "u3", Count: 1}}
	if len(counts) != len(want) || counts[0] != want[0] || counts[1] != want[1] {
		t.Fatalf("counts = %+v", counts)
	}

	n, err := s.MarkRead(ctx, "u1", "u2")
	if err != nil || n != 2 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}
	if n, _ := s.MarkRead(ctx, "u1", "u2"); n != 0 {
		t.Fatalf("second mark read updated %d", n)
	}
	counts, _ = s.UnreadCounts(ctx, "u1")
	if len(counts) != 1 || counts[0].PeerID != "u3" {
		t.Fatalf("counts after read = %+v", counts)
	}

	hist, _ := s.History(ctx, "u1", "u2")
	for _, m := range hist {
		if m.Sender.ID == "u2" && !m.Read {
			t.Fatalf("message %s not flagged read", m.ID)
		}
		if m.Sender.ID == "u1" && m.Read {
			t.Fatalf("own message flagged read")
		}
	}
}

func mustCreate(t *testing.T, s Store, from, to, text string) rest.Message {
	t.Helper()
	m, err := s.CreateMessage(context.Background(), from, to, text)
	if err != nil {
		t.Fatalf("create %s->%s: %v", from, to, err)
	}
	return m
}
