package authclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubIdentity struct{ subject string }

func (s stubIdentity) SubjectID() string { return s.subject }
func (s stubIdentity) Email() string     { return s.subject + "@example.com" }
func (s stubIdentity) Credential(_ context.Context, _ bool) (string, error) {
	return "tok-" + s.subject, nil
}

func TestStatePhase(t *testing.T) {
	alice := stubIdentity{subject: "alice"}

	tests := []struct {
		name   string
		state  State
		phase  Phase
		stable bool
	}{
		{name: "initial", state: State{Loading: true}, phase: PhaseInitializing},
		{name: "resolving", state: State{Identity: alice, Loading: true}, phase: PhaseResolving},
		{name: "ready with profile", state: State{Identity: alice, Profile: &Profile{ID: "p1"}}, phase: PhaseReady, stable: true},
		{name: "ready without profile", state: State{Identity: alice}, phase: PhaseReady, stable: true},
		{name: "logged out", state: State{}, phase: PhaseLoggedOut, stable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.phase, tt.state.Phase())
			assert.Equal(t, tt.stable, tt.state.Phase().IsStable())
		})
	}
}

func TestStateBroadcasterDropsOlderVersions(t *testing.T) {
	b := newStateBroadcaster()

	var seen []uint64
	b.subscribe(func(s State) { seen = append(seen, s.Version) })

	assert.True(t, b.publish(State{Version: 1}))
	assert.True(t, b.publish(State{Version: 3}))
	assert.False(t, b.publish(State{Version: 2}))
	assert.False(t, b.publish(State{Version: 3}))
	assert.True(t, b.publish(State{Version: 4}))

	assert.Equal(t, []uint64{1, 3, 4}, seen)
}

func TestStateBroadcasterOrderAndUnsubscribe(t *testing.T) {
	b := newStateBroadcaster()

	var calls []string
	b.subscribe(func(State) { calls = append(calls, "first") })
	unsubscribe := b.subscribe(func(State) { calls = append(calls, "second") })
	b.subscribe(func(State) { calls = append(calls, "third") })

	b.publish(State{Version: 1})
	unsubscribe()
	unsubscribe()
	b.publish(State{Version: 2})

	assert.Equal(t, []string{"first", "second", "third", "first", "third"}, calls)

	b.clear()
	calls = nil
	b.publish(State{Version: 3})
	assert.Empty(t, calls)
}

func TestIdentityListenersReplayAndOrder(t *testing.T) {
	var l IdentityListeners

	var got []string
	record := func(prefix string) IdentityListener {
		return func(identity Identity) {
			if identity == nil {
				got = append(got, prefix+":nil")
				return
			}
			got = append(got, prefix+":"+identity.SubjectID())
		}
	}

	l.Subscribe(record("a"))
	l.Emit(stubIdentity{subject: "alice"})
	unsubscribe := l.Subscribe(record("b"))
	l.Emit(nil)
	unsubscribe()
	l.Emit(stubIdentity{subject: "bob"})

	assert.Equal(t, []string{
		"a:nil",
		"a:alice",
		"b:alice",
		"a:nil",
		"b:nil",
		"a:bob",
	}, got)
	assert.Equal(t, "bob", l.Current().SubjectID())
}
