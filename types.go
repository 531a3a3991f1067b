package authclient

import (
	"context"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logging contract used by every component.
// Arguments after the message are key/value pairs.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Identity is the identity provider's handle for an authenticated principal.
// It is owned by the IdentitySource; holders keep a non-owning reference.
type Identity interface {
	// SubjectID is the stable identifier of the principal.
	SubjectID() string
	// Email may be empty.
	Email() string
	// Credential mints a short-lived bearer credential. When forceRefresh is
	// true a cached credential must not be reused.
	Credential(ctx context.Context, forceRefresh bool) (string, error)
}

// IdentityListener receives every sign-in/sign-out transition. A nil
// Identity means no principal is signed in.
type IdentityListener func(identity Identity)

// IdentitySource authenticates credentials and pushes identity transitions
// to its listeners, one at a time.
type IdentitySource interface {
	SignUp(ctx context.Context, email, password string) (Identity, error)
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	Subscribe(listener IdentityListener) (unsubscribe func())
}

// ProfileBackend is the set of profile operations the Coordinator drives.
// ProfileResolver is the HTTP implementation.
type ProfileBackend interface {
	FetchProfile(ctx context.Context, credential string) (*Profile, error)
	SyncProfile(ctx context.Context, identity Identity, role Role, fullName string) (*Profile, error)
	UpdateProfile(ctx context.Context, credential string, patch ProfilePatch) (*ProfileUpdate, error)
}

var _ ProfileBackend = (*ProfileResolver)(nil)
