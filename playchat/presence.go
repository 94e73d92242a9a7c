package playchat

import (
	"sort"
	"sync"
	"time"
)

// Presence tracks which users are online and which are composing a message
// to the local user.
type Presence struct {
	mu     sync.Mutex
	self   string
	ttl    time.Duration
	now    func() time.Time
	online map[string]struct{}
	typing map[string]time.Time // user -> expiry
}

// NewPresence creates a tracker for the local user self. Typing entries
// expire after ttl unless refreshed; ttl 0 keeps them until typing=false.
func NewPresence(self string, ttl time.Duration) *Presence {
	return &Presence{
		self:   self,
		ttl:    ttl,
		now:    time.Now,
		online: make(map[string]struct{}),
		typing: make(map[string]time.Time),
	}
}

func (p *Presence) SetOnline(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.online[id] = struct{}{}
	p.mu.Unlock()
}

// SetOffline removes id from the online set. A user going offline also
// stops typing.
func (p *Presence) SetOffline(id string) {
	p.mu.Lock()
	delete(p.online, id)
	delete(p.typing, id)
	p.mu.Unlock()
}

func (p *Presence) IsOnline(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[id]
	return ok
}

// Online returns the online user ids in ascending order.
func (p *Presence) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetTyping applies a relayed typing event. Events about the local user are
// ignored.
func (p *Presence) SetTyping(senderID string, isTyping bool) {
	if senderID == "" || senderID == p.self {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !isTyping {
		delete(p.typing, senderID)
		return
	}
	var expiry time.Time
	if p.ttl > 0 {
		expiry = p.now().Add(p.ttl)
	}
	p.typing[senderID] = expiry
}

func (p *Presence) IsTyping(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	_, ok := p.typing[id]
	return ok
}

// Typing returns the ids currently composing, in ascending order.
func (p *Presence) Typing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	out := make([]string, 0, len(p.typing))
	for id := range p.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset empties both sets.
func (p *Presence) Reset() {
	p.mu.Lock()
	clear(p.online)
	clear(p.typing)
	p.mu.Unlock()
}

func (p *Presence) pruneLocked() {
	now := p.now()
	for id, expiry := range p.typing {
		if !expiry.IsZero() && !now.Before(expiry) {
			delete(p.typing, id)
		}
	}
}
