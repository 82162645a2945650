package app

import (
	"sort"
	"sync"

	"quiz-orchestrator/internal/domain"
)

// Subscription delivers one member's room events in emission order.
// The channel is closed when the member leaves, is replaced by a newer
// connection, falls too far behind, or the room is destroyed.
type Subscription struct {
	PlayerID string
	RoomID   string

	ch      chan domain.Event
	fanout  *Fanout
	closed  bool // guarded by fanout.mu
	dropped bool // guarded by fanout.mu
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Dropped reports whether the subscription was closed for falling behind.
func (s *Subscription) Dropped() bool {
	s.fanout.mu.Lock()
	defer s.fanout.mu.Unlock()
	return s.dropped
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.fanout.release(s)
}

// Fanout delivers a room's events to every attached member, at most one
// subscription per player.
type Fanout struct {
	roomID string
	buffer int

	mu   sync.Mutex
	subs map[string]*Subscription
	done bool
}

func NewFanout(roomID string, buffer int) *Fanout {
	if buffer <= 0 {
		buffer = 64
	}
	return &Fanout{
		roomID: roomID,
		buffer: buffer,
		subs:   make(map[string]*Subscription),
	}
}

// newSubscription prepares a subscription that only receives events once attached.
func (f *Fanout) newSubscription(playerID string) *Subscription {
	return &Subscription{
		PlayerID: playerID,
		RoomID:   f.roomID,
		ch:       make(chan domain.Event, f.buffer),
		fanout:   f,
	}
}

// attach makes sub the player's current subscription, closing any previous one.
func (f *Fanout) attach(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done || sub.closed {
		f.closeLocked(sub)
		return
	}
	if prev, ok := f.subs[sub.PlayerID]; ok && prev != sub {
		f.closeLocked(prev)
	}
	f.subs[sub.PlayerID] = sub
}

func (f *Fanout) detach(playerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[playerID]; ok {
		delete(f.subs, playerID)
		f.closeLocked(sub)
	}
}

// isCurrent reports whether sub is still the live subscription for its player.
func (f *Fanout) isCurrent(sub *Subscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[sub.PlayerID] == sub
}

func (f *Fanout) release(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[sub.PlayerID] == sub {
		delete(f.subs, sub.PlayerID)
	}
	f.closeLocked(sub)
}

// Publish delivers events to every member. A member whose buffer is full is
// dropped instead of skipping events, so no member ever sees a gap; the
// dropped player IDs are returned.
func (f *Fanout) Publish(events []domain.Event) []string {
	if len(events) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var dropped []string
	for id, sub := range f.subs {
		for _, ev := range events {
			select {
			case sub.ch <- ev:
				continue
			default:
			}
			delete(f.subs, id)
			sub.dropped = true
			f.closeLocked(sub)
			dropped = append(dropped, id)
			break
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Members reports how many subscriptions are attached.
func (f *Fanout) Members() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		f.closeLocked(sub)
	}
}

func (f *Fanout) closeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
