package playchat

import (
	"testing"
	"time"
)

func msg(id, from, to, text string) Message {
	return Message{ID: id, SenderID: from, RecipientID: to, Content: text, CreatedAt: time.Unix(1700000000, 0)}
}

func ids(ms []Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func equalIDs(got []Message, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSelectResetsUnreadAndLoadsHistory(t *testing.T) {
	c := NewConversation("u1")
	c.SetUnreadCounts(map[string]int{"u2": 3, "u3": 1})

	gen := c.Select("u2")
	if n := c.Unread("u2"); n != 0 {
		t.Fatalf("unread for selected peer = %d, want 0", n)
	}
	if n := c.Unread("u3"); n != 1 {
		t.Fatalf("unread for other peer = %d, want 1", n)
	}

	history := []Message{
		msg("a", "u2", "u1", "hi"),
		msg("b", "u1", "u2", "hey"),
		msg("x", "u3", "u1", "wrong pair"),
		msg("a", "u2", "u1", "hi"),
	}
	if !c.ApplyHistory(gen, history) {
		t.Fatalf("history for current selection rejected")
	}
	if got := c.Messages(); !equalIDs(got, "a", "b") {
		t.Fatalf("messages = %v, want [a b]", ids(got))
	}
}

func TestStaleHistoryDiscarded(t *testing.T) {
	c := NewConversation("u1")
	first := c.Select("u2")
	second := c.Select("u3")

	if c.ApplyHistory(first, []Message{msg("a", "u2", "u1", "late")}) {
		t.Fatalf("stale history applied")
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("stale history changed the list: %v", ids(c.Messages()))
	}
	if !c.ApplyHistory(second, []Message{msg("b", "u3", "u1", "current")}) {
		t.Fatalf("current history rejected")
	}
	if got := c.Messages(); !equalIDs(got, "b") {
		t.Fatalf("messages = %v, want [b]", ids(got))
	}
}

func TestLiveMessageBeforeHistoryKept(t *testing.T) {
	c := NewConversation("u1")
	gen := c.Select("u2")

	if res := c.Receive(msg("live", "u2", "u1", "just now")); res != Appended {
		t.Fatalf("receive = %s, want appended", res)
	}
	c.ApplyHistory(gen, []Message{msg("old", "u2", "u1", "before")})
	if got := c.Messages(); !equalIDs(got, "old", "live") {
		t.Fatalf("messages = %v, want [old live]", ids(got))
	}

	// a live message that history already contains is not duplicated
	gen = c.Select("u2")
	c.Receive(msg("m1", "u2", "u1", "x"))
	c.ApplyHistory(gen, []Message{msg("m1", "u2", "u1", "x")})
	if got := c.Messages(); !equalIDs(got, "m1") {
		t.Fatalf("messages = %v, want [m1]", ids(got))
	}
}

func TestReceive(t *testing.T) {
	c := NewConversation("u1")
	c.Select("u2")

	if res := c.Receive(msg("m1", "u2", "u1", "hi")); res != Appended {
		t.Fatalf("active peer message: %s", res)
	}
	if res := c.Receive(msg("m1", "u2", "u1", "hi")); res != Duplicate {
		t.Fatalf("repeat delivery: %s", res)
	}
	if res := c.Receive(msg("m2", "u3", "u1", "hello")); res != CountedUnread {
		t.Fatalf("other peer message: %s", res)
	}
	if res := c.Receive(msg("m3", "u1", "u3", "mine")); res != Ignored {
		t.Fatalf("own message to other peer: %s", res)
	}
	if n := c.Unread("u3"); n != 1 {
		t.Fatalf("unread u3 = %d, want 1", n)
	}
	if got := c.Messages(); !equalIDs(got, "m1") {
		t.Fatalf("messages = %v, want [m1]", ids(got))
	}
}

func TestReceiveWithoutPeerCountsUnread(t *testing.T) {
	c := NewConversation("u1")
	c.Receive(msg("m1", "u2", "u1", "hi"))
	c.Receive(msg("m2", "u2", "u1", "there"))
	if n := c.Unread("u2"); n != 2 {
		t.Fatalf("unread = %d, want 2", n)
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("nothing should be displayed without a peer")
	}
}

func TestSendConfirmedInPlace(t *testing.T) {
	c := NewConversation("u1")
	c.Select("u2")
	c.Receive(msg("m0", "u2", "u1", "ping"))
	c.SetDraft("hello")

	pending, err := c.BeginSend("hello")
	if err != nil {
		t.Fatalf("begin send: %v", err)
	}
	if !IsTempID(pending.ID) || !pending.Pending() {
		t.Fatalf("expected pending temp message, got %+v", pending)
	}
	if c.Draft() != "" || !c.Sending() {
		t.Fatalf("draft %q sending %v after begin", c.Draft(), c.Sending())
	}

	// follow-up message before the confirmation keeps its place after the temp
	c.Receive(msg("m1", "u2", "u1", "pong"))

	confirmed, err := c.ConfirmSend(pending.ID, msg("srv1", "u1", "u2", "hello"))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.ID != "srv1" || confirmed.Status != StatusConfirmed {
		t.Fatalf("unexpected confirmed message %+v", confirmed)
	}
	if !confirmed.CreatedAt.Equal(pending.CreatedAt) {
		t.Fatalf("creation time changed on confirm")
	}
	if got := c.Messages(); !equalIDs(got, "m0", "srv1", "m1") {
		t.Fatalf("messages = %v, want [m0 srv1 m1]", ids(got))
	}
	if c.Sending() {
		t.Fatalf("still sending after confirm")
	}
}

func TestConfirmRemovesEarlyEcho(t *testing.T) {
	c := NewConversation("u1")
	c.Select("u2")
	pending, _ := c.BeginSend("hello")

	if res := c.Receive(msg("srv1", "u1", "u2", "hello")); res != Appended {
		t.Fatalf("echo: %s", res)
	}
	if _, err := c.ConfirmSend(pending.ID, msg("srv1", "u1", "u2", "hello")); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := c.Messages(); !equalIDs(got, "srv1") {
		t.Fatalf("messages = %v, want [srv1]", ids(got))
	}
	if res := c.Receive(msg("srv1", "u1", "u2", "hello")); res != Duplicate {
		t.Fatalf("late echo: %s", res)
	}
}

func TestSendFailureRestoresDraft(t *testing.T) {
	c := NewConversation("u1")
	c.Select("u2")

	pending, err := c.BeginSend("hello")
	if err != nil {
		t.Fatalf("begin send: %v", err)
	}
	failed := c.FailSend(pending.ID, "hello")
	if failed.Status != StatusFailed || failed.ID != pending.ID {
		t.Fatalf("unexpected failed message %+v", failed)
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("temp message not removed: %v", ids(c.Messages()))
	}
	if c.Draft() != "hello" {
		t.Fatalf("draft = %q, want hello", c.Draft())
	}
	if c.Sending() {
		t.Fatalf("still sending after failure")
	}
}

func TestBeginSendRejections(t *testing.T) {
	c := NewConversation("u1")
	if _, err := c.BeginSend("hi"); !HasCode(err, ErrorNoPeer) {
		t.Fatalf("no peer: got %v", err)
	}

	c.Select("u2")
	if _, err := c.BeginSend("   "); !HasCode(err, ErrorEmptyMessage) {
		t.Fatalf("blank text: got %v", err)
	}
	if _, err := c.BeginSend("first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := c.BeginSend("second")
	if !HasCode(err, ErrorSendInFlight) || !IsRejected(err) {
		t.Fatalf("in flight: got %v", err)
	}
	if n := len(c.Messages()); n != 1 {
		t.Fatalf("rejected send changed the list: %d messages", n)
	}
}

func TestConfirmAfterPeerSwitch(t *testing.T) {
	c := NewConversation("u1")
	c.Select("u2")
	pending, _ := c.BeginSend("hello")
	c.Select("u3")

	if _, err := c.ConfirmSend(pending.ID, msg("srv1", "u1", "u2", "hello")); !HasCode(err, ErrorUnknownMessage) {
		t.Fatalf("expected unknown message, got %v", err)
	}
	if c.Sending() {
		t.Fatalf("sending flag not cleared")
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("message for old peer displayed")
	}
}

func TestAdjustUnreadAndReadReceipts(t *testing.T) {
	c := NewConversation("u1")
	c.SetUnreadCounts(map[string]int{"u2": 2})

	c.AdjustUnread("u2", true)
	if n := c.Unread("u2"); n != 2 {
		t.Fatalf("increment event changed counter to %d", n)
	}
	c.AdjustUnread("u2", false)
	if n := c.Unread("u2"); n != 0 {
		t.Fatalf("reset event left counter at %d", n)
	}

	c.Select("u2")
	c.Receive(msg("a", "u1", "u2", "one"))
	c.Receive(msg("b", "u2", "u1", "two"))
	if _, err := c.BeginSend("three"); err != nil {
		t.Fatal(err)
	}
	if n := c.MarkReadBy("u2"); n != 1 {
		t.Fatalf("marked %d, want 1", n)
	}
	for _, m := range c.Messages() {
		if m.ID == "a" && !m.Read {
			t.Fatalf("own confirmed message not marked read")
		}
		if m.ID != "a" && m.Read {
			t.Fatalf("message %s marked read", m.ID)
		}
	}
}

func TestConversationReset(t *testing.T) {
	c := NewConversation("u1")
	gen := c.Select("u2")
	c.SetUnreadCounts(map[string]int{"u3": 4})
	c.BeginSend("x")
	c.Reset()

	if c.ActivePeer() != "" || len(c.Messages()) != 0 || len(c.UnreadCounts()) != 0 || c.Sending() {
		t.Fatalf("state survived reset")
	}
	if c.ApplyHistory(gen, []Message{msg("a", "u2", "u1", "late")}) {
		t.Fatalf("history applied after reset")
	}
}
