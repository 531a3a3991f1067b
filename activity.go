package authclient

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventIdentityChanged       ActivityEventType = "session.identity.changed"
	ActivityEventProfileResolved       ActivityEventType = "session.profile.resolved"
	ActivityEventProfileUnavailable    ActivityEventType = "session.profile.unavailable"
	ActivityEventProfileStaleDiscarded ActivityEventType = "session.profile.stale_discarded"
	ActivityEventSignUpSyncFailed      ActivityEventType = "session.signup.sync_failed"
	ActivityEventProfileUpdated        ActivityEventType = "session.profile.updated"
	ActivityEventSignOut               ActivityEventType = "session.signout"
)

// ActivityEvent captures audit-friendly information about a session change.
type ActivityEvent struct {
	EventType  ActivityEventType
	SubjectID  string
	ProfileID  string
	Generation uint64
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks are best effort: errors are logged and never reach callers.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
