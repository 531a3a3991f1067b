package authclient

import (
	"sync"
)

// IdentityListeners fans identity transitions out to subscribers. It is the
// shared plumbing behind the IdentitySource implementations.
//
// Notifications are serialized: a listener never sees two transitions at
// once, and every listener sees them in emission order. A new subscriber is
// called immediately with the current identity.
type IdentityListeners struct {
	mu        sync.Mutex
	listeners map[uint64]IdentityListener
	nextID    uint64
	current   Identity

	notifyMu sync.Mutex
}

// Current returns the last emitted identity.
func (l *IdentityListeners) Current() Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Subscribe registers listener and replays the current identity to it.
func (l *IdentityListeners) Subscribe(listener IdentityListener) func() {
	if listener == nil {
		return func() {}
	}

	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.listeners == nil {
		l.listeners = make(map[uint64]IdentityListener)
	}
	id := l.nextID
	l.nextID++
	l.listeners[id] = listener
	current := l.current
	l.mu.Unlock()

	listener(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners, id)
			l.mu.Unlock()
		})
	}
}

// Emit records identity as current and notifies every listener. Pass a
// literal nil for sign out, never a typed nil pointer.
func (l *IdentityListeners) Emit(identity Identity) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	l.current = identity
	listeners := make([]IdentityListener, 0, len(l.listeners))
	for i := uint64(0); i < l.nextID; i++ {
		if listener, ok := l.listeners[i]; ok {
			listeners = append(listeners, listener)
		}
	}
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(identity)
	}
}
