package authclient

import (
	"encoding/json"
	"slices"
	"sync"
)

// Phase is the derived lifecycle position of the session.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseResolving    Phase = "resolving"
	PhaseReady        Phase = "ready"
	PhaseLoggedOut    Phase = "logged_out"
)

// IsStable reports whether the phase waits for no background work.
func (p Phase) IsStable() bool {
	return p == PhaseReady || p == PhaseLoggedOut
}

// State is an immutable snapshot of the reconciled session. Version grows by
// one on every published change.
type State struct {
	Identity Identity
	Profile  *Profile
	Loading  bool
	Version  uint64
}

// Phase derives the lifecycle position from the snapshot.
func (s State) Phase() Phase {
	switch {
	case s.Loading && s.Identity == nil:
		return PhaseInitializing
	case s.Loading:
		return PhaseResolving
	case s.Identity != nil:
		return PhaseReady
	default:
		return PhaseLoggedOut
	}
}

// SubjectID returns the identity's subject id, "" when signed out.
func (s State) SubjectID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.SubjectID()
}

type stateIdentityJSON struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email,omitempty"`
}

type stateJSON struct {
	Phase    Phase              `json:"phase"`
	Identity *stateIdentityJSON `json:"identity"`
	Profile  *Profile           `json:"profile"`
	Loading  bool               `json:"loading"`
	Version  uint64             `json:"version"`
}

// MarshalJSON renders the snapshot without exposing credentials.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		Phase:   s.Phase(),
		Profile: s.Profile,
		Loading: s.Loading,
		Version: s.Version,
	}
	if s.Identity != nil {
		out.Identity = &stateIdentityJSON{
			SubjectID: s.Identity.SubjectID(),
			Email:     s.Identity.Email(),
		}
	}
	return json.Marshal(out)
}

// StateListener receives published snapshots.
type StateListener func(State)

// stateBroadcaster delivers snapshots synchronously. A snapshot older than
// one already delivered is dropped, so listeners observe versions in
// increasing order.
type stateBroadcaster struct {
	listenersMu sync.Mutex
	listeners   map[uint64]StateListener
	nextID      uint64

	deliverMu sync.Mutex
	delivered uint64
}

func newStateBroadcaster() *stateBroadcaster {
	return &stateBroadcaster{listeners: make(map[uint64]StateListener)}
}

func (b *stateBroadcaster) subscribe(listener StateListener) func() {
	if listener == nil {
		return func() {}
	}

	b.listenersMu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.listenersMu.Lock()
			delete(b.listeners, id)
			b.listenersMu.Unlock()
		})
	}
}

func (b *stateBroadcaster) publish(state State) bool {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	if state.Version <= b.delivered {
		return false
	}
	b.delivered = state.Version

	b.listenersMu.Lock()
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	b.listenersMu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		b.listenersMu.Lock()
		listener, ok := b.listeners[id]
		b.listenersMu.Unlock()
		if ok {
			listener(state)
		}
	}
	return true
}

func (b *stateBroadcaster) clear() {
	b.listenersMu.Lock()
	b.listeners = make(map[uint64]StateListener)
	b.listenersMu.Unlock()
}
