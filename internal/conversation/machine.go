// Package conversation tracks what each sender's next message means.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/anonrelay/internal/domain"
)

const (
	shardCount    = 32
	DefaultTTL    = 30 * time.Minute
	sweepInterval = 1 * time.Minute
)

type entry struct {
	state   domain.ConversationState
	touched time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[domain.UserID]entry
}

// Machine holds one pending state per sender in memory. It is safe for
// concurrent use; operations on one sender are atomic. States idle for
// longer than the TTL read as Idle.
type Machine struct {
	shards [shardCount]*shard
	ttl    time.Duration
	now    func() time.Time
}

// New creates a machine whose states expire after ttl. A ttl <= 0 selects
// DefaultTTL.
func New(ttl time.Duration) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Machine{ttl: ttl, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[domain.UserID]entry)}
	}
	return m
}

func (m *Machine) shardFor(id domain.UserID) *shard {
	h := uint64(id) * 0x9E3779B97F4A7C15
	return m.shards[(h>>59)%shardCount]
}

// EnterAwaitingNewMessage makes sender's next content a new message to recipient.
func (m *Machine) EnterAwaitingNewMessage(sender, recipient domain.UserID) {
	m.set(sender, domain.AwaitingNewMessage(recipient))
}

// EnterAwaitingReply makes sender's next content a reply to msgID, addressed to owner.
func (m *Machine) EnterAwaitingReply(sender domain.UserID, msgID domain.MessageID, owner domain.UserID) {
	m.set(sender, domain.AwaitingReply(msgID, owner))
}

func (m *Machine) set(sender domain.UserID, st domain.ConversationState) {
	s := m.shardFor(sender)
	s.mu.Lock()
	s.entries[sender] = entry{state: st, touched: m.now()}
	s.mu.Unlock()
}

// Take returns sender's state and resets it to Idle in one step.
func (m *Machine) Take(sender domain.UserID) domain.ConversationState {
	s := m.shardFor(sender)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sender]
	if !ok {
		return domain.Idle()
	}
	delete(s.entries, sender)
	if m.expired(e) {
		return domain.Idle()
	}
	return e.state
}

// Peek returns sender's state without changing it.
func (m *Machine) Peek(sender domain.UserID) domain.ConversationState {
	s := m.shardFor(sender)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sender]
	if !ok || m.expired(e) {
		return domain.Idle()
	}
	return e.state
}

// Len returns the number of senders with a pending state, expired or not.
func (m *Machine) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (m *Machine) expired(e entry) bool {
	return m.now().Sub(e.touched) > m.ttl
}

// Sweep drops expired states and returns how many were removed.
func (m *Machine) Sweep() int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if m.expired(e) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps expired states every minute until ctx is done.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
