package authclient_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	authclient "github.com/goliatone/go-auth-client"
)

// MockIdentity implements authclient.Identity
type MockIdentity struct {
	mock.Mock
	Subject string
	Mail    string
}

func newMockIdentity(subject string) *MockIdentity {
	return &MockIdentity{Subject: subject, Mail: subject + "@example.com"}
}

func (m *MockIdentity) SubjectID() string { return m.Subject }
func (m *MockIdentity) Email() string     { return m.Mail }
func (m *MockIdentity) String() string    { return "identity:" + m.Subject }

func (m *MockIdentity) Credential(ctx context.Context, forceRefresh bool) (string, error) {
	args := m.Called(ctx, forceRefresh)
	return args.String(0), args.Error(1)
}

// MockIdentitySource implements authclient.IdentitySource. Transitions are
// pushed with Emit.
type MockIdentitySource struct {
	mock.Mock
	listeners authclient.IdentityListeners
}

func (m *MockIdentitySource) SignUp(ctx context.Context, email, password string) (authclient.Identity, error) {
	args := m.Called(ctx, email, password)
	var identity authclient.Identity
	if v := args.Get(0); v != nil {
		identity = v.(authclient.Identity)
	}
	return identity, args.Error(1)
}

func (m *MockIdentitySource) SignIn(ctx context.Context, email, password string) error {
	args := m.Called(ctx, email, password)
	return args.Error(0)
}

func (m *MockIdentitySource) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentitySource) Subscribe(listener authclient.IdentityListener) func() {
	return m.listeners.Subscribe(listener)
}

func (m *MockIdentitySource) Emit(identity authclient.Identity) {
	m.listeners.Emit(identity)
}

// MockProfileBackend implements authclient.ProfileBackend
type MockProfileBackend struct {
	mock.Mock
}

func (m *MockProfileBackend) FetchProfile(ctx context.Context, credential string) (*authclient.Profile, error) {
	args := m.Called(ctx, credential)
	return profileArg(args, 0), args.Error(1)
}

func (m *MockProfileBackend) SyncProfile(ctx context.Context, identity authclient.Identity, role authclient.Role, fullName string) (*authclient.Profile, error) {
	args := m.Called(ctx, identity, role, fullName)
	return profileArg(args, 0), args.Error(1)
}

func (m *MockProfileBackend) UpdateProfile(ctx context.Context, credential string, patch authclient.ProfilePatch) (*authclient.ProfileUpdate, error) {
	args := m.Called(ctx, credential, patch)
	if v := args.Get(0); v != nil {
		return v.(*authclient.ProfileUpdate), args.Error(1)
	}
	return nil, args.Error(1)
}

func profileArg(args mock.Arguments, index int) *authclient.Profile {
	if v := args.Get(index); v != nil {
		return v.(*authclient.Profile)
	}
	return nil
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []authclient.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event authclient.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []authclient.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authclient.ActivityEventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

// recordingMetrics counts metric calls.
type recordingMetrics struct {
	mu          sync.Mutex
	requests    int
	failures    map[authclient.RequestErrorKind]int
	transitions []authclient.Phase
	stale       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: map[authclient.RequestErrorKind]int{}}
}

func (m *recordingMetrics) RecordRequest(string, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
}

func (m *recordingMetrics) RecordRequestFailure(_ string, kind authclient.RequestErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *recordingMetrics) RecordTransition(phase authclient.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, phase)
}

func (m *recordingMetrics) RecordStaleResult() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *recordingMetrics) staleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

func (m *recordingMetrics) failureCount(kind authclient.RequestErrorKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[kind]
}
