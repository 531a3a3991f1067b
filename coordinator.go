package authclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultSignUpCooldown is the wait enforced between sign up attempts.
	DefaultSignUpCooldown = 60 * time.Second
	// DefaultResolveTimeout bounds a background profile resolution.
	DefaultResolveTimeout = 15 * time.Second
)

// CoordinatorOption customizes Coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithLogger overrides the coordinator logger.
func WithLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoggerProvider sets the provider used to resolve the coordinator logger.
func WithLoggerProvider(provider LoggerProvider) CoordinatorOption {
	return func(c *Coordinator) {
		if provider != nil {
			c.loggerProvider = provider
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = normalizeMetrics(metrics)
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) CoordinatorOption {
	return func(c *Coordinator) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithResolveTimeout bounds each background profile resolution. Zero disables
// the bound.
func WithResolveTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout >= 0 {
			c.resolveTimeout = timeout
		}
	}
}

// WithSignUpCooldown sets the minimum interval between sign up attempts.
// Zero disables the cooldown.
func WithSignUpCooldown(cooldown time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if cooldown >= 0 {
			c.signUpCooldown = cooldown
		}
	}
}

// Coordinator reconciles the identity source with the backend profile and
// publishes the result as State snapshots.
//
// Listeners registered with Subscribe run synchronously on the goroutine that
// produced the change. They must not call Close or the write operations.
type Coordinator struct {
	source   IdentitySource
	profiles ProfileBackend

	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsCollector
	activity       ActivitySink
	now            func() time.Time

	resolveTimeout time.Duration
	signUpCooldown time.Duration
	signUpLimiter  *rate.Limiter

	mu          sync.Mutex
	state       State
	generation  uint64
	started     bool
	closed      bool
	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	inflight    sync.WaitGroup
	done        chan struct{}

	broadcaster *stateBroadcaster
}

// NewCoordinator wires a Coordinator. Call Start to begin observing source.
func NewCoordinator(source IdentitySource, profiles ProfileBackend, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		source:         source,
		profiles:       profiles,
		metrics:        noopMetrics{},
		activity:       noopActivitySink{},
		now:            time.Now,
		resolveTimeout: DefaultResolveTimeout,
		signUpCooldown: DefaultSignUpCooldown,
		state:          State{Loading: true},
		broadcaster:    newStateBroadcaster(),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.loggerProvider, c.logger = ResolveLogger("authclient.coordinator", c.loggerProvider, c.logger)

	if c.signUpCooldown > 0 {
		c.signUpLimiter = rate.NewLimiter(rate.Every(c.signUpCooldown), 1)
	}

	return c
}

// Start subscribes to the identity source. Background resolutions derive
// from ctx. Calling Start twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	// the source may deliver the current identity before Subscribe returns
	unsubscribe := c.source.Subscribe(c.handleIdentity)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrCoordinatorClosed
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.logger.Debug("session coordinator started")
	return nil
}

// Close unsubscribes from the source, stops notifications and waits for
// in-flight resolutions to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	cancel := c.cancel
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.broadcaster.clear()
	if cancel != nil {
		cancel()
	}
	c.inflight.Wait()

	c.logger.Debug("session coordinator closed")
	return nil
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers listener for every published snapshot.
func (c *Coordinator) Subscribe(listener StateListener) (unsubscribe func()) {
	return c.broadcaster.subscribe(listener)
}

// WaitReady blocks until the session reaches Ready or LoggedOut. It returns
// ErrCoordinatorClosed once Close runs.
func (c *Coordinator) WaitReady(ctx context.Context) (State, error) {
	c.mu.Lock()
	started, closed := c.started, c.closed
	c.mu.Unlock()
	if closed {
		return c.Snapshot(), ErrCoordinatorClosed
	}
	if !started {
		return c.Snapshot(), ErrCoordinatorNotStarted
	}

	settled := make(chan State, 1)
	unsubscribe := c.Subscribe(func(s State) {
		if !s.Phase().IsStable() {
			return
		}
		select {
		case settled <- s:
		default:
		}
	})
	defer unsubscribe()

	if current := c.Snapshot(); current.Phase().IsStable() {
		return current, nil
	}

	select {
	case s := <-settled:
		return s, nil
	case <-c.done:
		return c.Snapshot(), ErrCoordinatorClosed
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// GetToken returns a credential for the current identity, "" when signed out
// or when the credential cannot be minted.
func (c *Coordinator) GetToken(ctx context.Context) string {
	c.mu.Lock()
	identity := c.state.Identity
	c.mu.Unlock()

	if identity == nil {
		return ""
	}

	token, err := identity.Credential(ctx, false)
	if err != nil {
		c.logger.Warn("credential refresh failed", "subject_id", identity.SubjectID(), "error", err)
		return ""
	}
	return token
}

// SignUp creates an identity and its backend profile. When the identity is
// created but the profile sync fails the returned error wraps both
// ErrProfileSyncFailed and the cause, and the identity stays signed in.
func (c *Coordinator) SignUp(ctx context.Context, input SignUpInput) (*Profile, error) {
	if err := input.Validate(); err != nil {
		return nil, wrapSentinel(ErrInvalidSignUp, err)
	}

	if c.signUpLimiter != nil && !c.signUpLimiter.AllowN(c.now(), 1) {
		return nil, ErrSignUpCooldown
	}

	identity, err := c.source.SignUp(ctx, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	profile, err := c.profiles.SyncProfile(ctx, identity, input.Role, input.FullName)
	switch {
	case err != nil:
	case profile == nil:
		err = ErrEmptyProfileResponse
	case profile.SubjectID != "" && profile.SubjectID != identity.SubjectID():
		err = ErrProfileSubjectMismatch
	}
	if err != nil {
		c.logger.Error("profile sync failed after identity creation",
			"subject_id", identity.SubjectID(),
			"error", err,
		)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventSignUpSyncFailed,
			SubjectID: identity.SubjectID(),
			Metadata:  map[string]any{"error": err.Error(), "role": input.Role.String()},
		})
		return nil, wrapSentinel(ErrProfileSyncFailed, err)
	}

	if profile.SubjectID == "" {
		profile.SubjectID = identity.SubjectID()
	}

	c.mu.Lock()
	if !c.closed && c.state.SubjectID() == identity.SubjectID() {
		// supersede any resolution started by the sign up transition
		c.generation++
		c.state.Profile = profile.Clone()
		c.state.Loading = false
		snapshot := c.bumpLocked()
		c.mu.Unlock()
		c.publish(snapshot)
	} else {
		c.mu.Unlock()
	}

	c.logger.Info("signed up", "subject_id", identity.SubjectID(), "role", input.Role)
	return profile, nil
}

// SignIn authenticates through the identity source. State changes arrive
// through the source's transition.
func (c *Coordinator) SignIn(ctx context.Context, email, password string) error {
	return c.source.SignIn(ctx, email, password)
}

// SignOut signs out through the identity source. Local state is cleared by
// the resulting transition, not here.
func (c *Coordinator) SignOut(ctx context.Context) error {
	subjectID := c.Snapshot().SubjectID()

	if err := c.source.SignOut(ctx); err != nil {
		c.logger.Error("sign out failed", "subject_id", subjectID, "error", err)
		return err
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSignOut,
		SubjectID: subjectID,
	})
	return nil
}

// UpdateProfile patches the active profile and merges the server response
// into local state.
func (c *Coordinator) UpdateProfile(ctx context.Context, patch ProfilePatch) (*Profile, error) {
	c.mu.Lock()
	identity := c.state.Identity
	hasProfile := c.state.Profile != nil
	c.mu.Unlock()

	if identity == nil {
		return nil, ErrNotSignedIn
	}
	if !hasProfile {
		return nil, ErrProfileNotLoaded
	}

	if err := patch.Validate(); err != nil {
		return nil, wrapSentinel(ErrInvalidProfilePatch, err)
	}

	credential, err := identity.Credential(ctx, false)
	if err != nil {
		return nil, err
	}

	updated, err := c.profiles.UpdateProfile(ctx, credential, patch)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrEmptyProfileResponse
	}

	subjectID := identity.SubjectID()
	if updated.SubjectID != "" && updated.SubjectID != subjectID {
		return nil, ErrProfileSubjectMismatch
	}

	c.mu.Lock()
	if c.closed || c.state.SubjectID() != subjectID || c.state.Profile == nil {
		c.mu.Unlock()
		c.logger.Warn("identity changed during profile update, local merge skipped", "subject_id", subjectID)
		return updated.Profile.Clone(), nil
	}

	merged := c.state.Profile.Merge(updated)
	c.generation++
	c.state.Profile = merged
	c.state.Loading = false
	snapshot := c.bumpLocked()
	c.mu.Unlock()

	c.publish(snapshot)
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		SubjectID: subjectID,
		ProfileID: merged.ID,
	})

	return merged.Clone(), nil
}

func (c *Coordinator) handleIdentity(identity Identity) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.generation++
	generation := c.generation
	previous := c.state.SubjectID()

	c.state.Identity = identity
	if identity == nil {
		c.state.Profile = nil
		c.state.Loading = false
	} else {
		c.state.Loading = true
		if c.state.Profile != nil && c.state.Profile.SubjectID != identity.SubjectID() {
			c.state.Profile = nil
		}
		c.inflight.Add(1)
	}
	snapshot := c.bumpLocked()
	ctx := c.baseCtx
	c.mu.Unlock()

	c.publish(snapshot)

	subjectID := snapshot.SubjectID()
	c.logger.Debug("identity changed",
		"subject_id", subjectID,
		"previous_subject_id", previous,
		"generation", generation,
	)
	c.record(ctx, ActivityEvent{
		EventType:  ActivityEventIdentityChanged,
		SubjectID:  subjectID,
		Generation: generation,
		Metadata:   map[string]any{"previous_subject_id": previous},
	})

	if identity != nil {
		go c.resolve(ctx, generation, identity)
	}
}

func (c *Coordinator) resolve(ctx context.Context, generation uint64, identity Identity) {
	defer c.inflight.Done()

	subjectID := identity.SubjectID()
	profile, err := c.fetch(ctx, identity)
	if err == nil && profile != nil {
		if profile.SubjectID == "" {
			profile.SubjectID = subjectID
		} else if profile.SubjectID != subjectID {
			profile, err = nil, ErrProfileSubjectMismatch
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if generation != c.generation {
		c.mu.Unlock()
		c.metrics.RecordStaleResult()
		c.logger.Debug("discarding stale profile resolution", "subject_id", subjectID, "generation", generation)
		c.record(ctx, ActivityEvent{
			EventType:  ActivityEventProfileStaleDiscarded,
			SubjectID:  subjectID,
			Generation: generation,
		})
		return
	}

	if err != nil {
		profile = nil
	}
	c.state.Profile = profile
	c.state.Loading = false
	snapshot := c.bumpLocked()
	c.mu.Unlock()

	c.publish(snapshot)

	if err != nil {
		c.logger.Error("profile resolution failed", "subject_id", subjectID, "error", err)
		c.record(ctx, ActivityEvent{
			EventType:  ActivityEventProfileUnavailable,
			SubjectID:  subjectID,
			Generation: generation,
			Metadata:   map[string]any{"error": err.Error()},
		})
		return
	}

	event := ActivityEvent{
		EventType:  ActivityEventProfileResolved,
		SubjectID:  subjectID,
		Generation: generation,
		Metadata:   map[string]any{"found": profile != nil},
	}
	if profile != nil {
		event.ProfileID = profile.ID
	}
	c.record(ctx, event)
}

func (c *Coordinator) fetch(ctx context.Context, identity Identity) (profile *Profile, err error) {
	defer func() {
		if r := recover(); r != nil {
			profile, err = nil, fmt.Errorf("profile resolution panicked: %v", r)
		}
	}()

	var cancel context.CancelFunc
	if c.resolveTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.resolveTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	credential, err := identity.Credential(ctx, true)
	if err != nil {
		return nil, err
	}

	return c.profiles.FetchProfile(ctx, credential)
}

func (c *Coordinator) snapshotLocked() State {
	s := c.state
	s.Profile = c.state.Profile.Clone()
	return s
}

func (c *Coordinator) bumpLocked() State {
	c.state.Version++
	return c.snapshotLocked()
}

func (c *Coordinator) publish(snapshot State) {
	if c.broadcaster.publish(snapshot) {
		c.metrics.RecordTransition(snapshot.Phase())
	}
}

func (c *Coordinator) record(ctx context.Context, event ActivityEvent) {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	if err := c.activity.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
