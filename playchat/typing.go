package playchat

import (
	"sync"
	"time"
)

// stopper is the part of *time.Timer the notifier needs.
type stopper interface {
	Stop() bool
}

// TypingNotifier debounces local keystrokes into typing announcements:
// one typing=true per burst and exactly one trailing typing=false once
// the compose box has been idle for the debounce delay.
type TypingNotifier struct {
	// emitMu orders announcements; it is taken before mu and held until
	// the emit calls of a state change have returned.
	emitMu sync.Mutex

	mu        sync.Mutex
	delay     time.Duration
	emit      func(recipientID string, isTyping bool)
	afterFunc func(time.Duration, func()) stopper

	recipient string
	typing    bool
	timer     stopper
	seq       uint64
}

// NewTypingNotifier calls emit for every announcement. Announcements are
// delivered one at a time in state order; emit must not call back into the
// notifier.
func NewTypingNotifier(delay time.Duration, emit func(recipientID string, isTyping bool)) *TypingNotifier {
	return &TypingNotifier{
		delay: delay,
		emit:  emit,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Keystroke records activity in the compose box addressed to recipientID.
func (n *TypingNotifier) Keystroke(recipientID string) {
	if recipientID == "" {
		return
	}
	var announce []func()

	n.emitMu.Lock()
	defer n.emitMu.Unlock()
	n.mu.Lock()
	if n.typing && n.recipient != recipientID {
		prev := n.recipient
		announce = append(announce, func() { n.emit(prev, false) })
		n.typing = false
	}
	if !n.typing {
		n.typing = true
		n.recipient = recipientID
		announce = append(announce, func() { n.emit(recipientID, true) })
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.seq++
	seq := n.seq
	n.timer = n.afterFunc(n.delay, func() { n.expire(seq) })
	n.mu.Unlock()

	for _, fn := range announce {
		fn()
	}
}

// Stop cancels the pending timer and sends the trailing typing=false if a
// burst was in progress.
func (n *TypingNotifier) Stop() {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.seq++
	wasTyping, recipient := n.typing, n.recipient
	n.typing = false
	n.recipient = ""
	n.mu.Unlock()

	if wasTyping {
		n.emit(recipient, false)
	}
}

// Typing reports whether a burst is in progress.
func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}

func (n *TypingNotifier) expire(seq uint64) {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()
	n.mu.Lock()
	// a newer keystroke or Stop superseded this timer
	if seq != n.seq || !n.typing {
		n.mu.Unlock()
		return
	}
	recipient := n.recipient
	n.typing = false
	n.recipient = ""
	n.timer = nil
	n.mu.Unlock()

	n.emit(recipient, false)
}
