// Package auth provides the identity source the conversation store binds to.
package auth

import (
	"sync"
)

// Identity is the authenticated workspace owner. A nil *Identity means
// signed out.
type Identity struct {
	UserID string `json:"user_id"`
}

// Provider delivers identity changes to subscribers. The current identity is
// delivered immediately on subscribe, then once per change. The returned
// cancel func releases the subscription.
type Provider interface {
	OnIdentityChange(fn func(*Identity)) (cancel func())
}

// Notifier is a Provider that broadcasts identity changes set through Set.
type Notifier struct {
	mu      sync.Mutex
	current *Identity
	subs    map[int]func(*Identity)
	nextID  int
}

// NewNotifier creates a Notifier with no identity bound.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(*Identity))}
}

// OnIdentityChange registers fn and invokes it with the current identity.
func (n *Notifier) OnIdentityChange(fn func(*Identity)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	current := n.current
	n.mu.Unlock()

	fn(current)

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Set replaces the current identity and notifies all subscribers.
func (n *Notifier) Set(identity *Identity) {
	n.mu.Lock()
	n.current = identity
	subs := make([]func(*Identity), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(identity)
	}
}

// Current returns the identity bound right now, or nil.
func (n *Notifier) Current() *Identity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}
