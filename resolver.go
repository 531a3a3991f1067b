package authclient

import (
	"context"
	"net/http"
)

const (
	PathProfileMe     = "/users/profile/me"
	PathProfileSync   = "/users/sync"
	PathProfileUpdate = "/users/profile"
)

// ProfileResolver reads and writes profiles through a Gateway.
type ProfileResolver struct {
	gateway        *Gateway
	logger         Logger
	loggerProvider LoggerProvider
}

// ResolverOption configures a ProfileResolver.
type ResolverOption func(*ProfileResolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *ProfileResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverLoggerProvider sets the logger provider.
func WithResolverLoggerProvider(provider LoggerProvider) ResolverOption {
	return func(r *ProfileResolver) {
		if provider != nil {
			r.loggerProvider = provider
		}
	}
}

// NewProfileResolver creates a resolver on top of gateway.
func NewProfileResolver(gateway *Gateway, opts ...ResolverOption) *ProfileResolver {
	r := &ProfileResolver{gateway: gateway}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.loggerProvider, r.logger = ResolveLogger("authclient.resolver", r.loggerProvider, r.logger)
	return r
}

// FetchProfile loads the profile of the credential's subject. A 404 means the
// profile does not exist yet and returns nil, nil.
func (r *ProfileResolver) FetchProfile(ctx context.Context, credential string) (*Profile, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	profile, err := CallJSON[Profile](ctx, r.gateway, PathProfileMe, credential, RequestOptions{
		Method: http.MethodGet,
	})
	if err != nil {
		if IsNotFound(err) {
			r.logger.Warn("profile not found, user may need to complete signup")
			return nil, nil
		}
		return nil, err
	}

	return profile, nil
}

type syncRequest struct {
	Role     Role   `json:"role"`
	FullName string `json:"fullName"`
}

// SyncProfile creates or merges the backend profile for identity.
func (r *ProfileResolver) SyncProfile(ctx context.Context, identity Identity, role Role, fullName string) (*Profile, error) {
	if identity == nil {
		return nil, ErrNotSignedIn
	}

	credential, err := identity.Credential(ctx, false)
	if err != nil {
		return nil, err
	}
	if credential == "" {
		return nil, ErrMissingCredential
	}

	profile, err := CallJSON[Profile](ctx, r.gateway, PathProfileSync, credential, RequestOptions{
		Method: http.MethodPost,
		Body:   syncRequest{Role: role, FullName: fullName},
	})
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrEmptyProfileResponse
	}

	r.logger.Debug("profile synced", "subject_id", identity.SubjectID(), "profile_id", profile.ID)
	return profile, nil
}

// UpdateProfile applies patch and returns the server's resulting profile
// together with the keys it sent.
func (r *ProfileResolver) UpdateProfile(ctx context.Context, credential string, patch ProfilePatch) (*ProfileUpdate, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	profile, err := CallJSON[ProfileUpdate](ctx, r.gateway, PathProfileUpdate, credential, RequestOptions{
		Method: http.MethodPatch,
		Body:   patch,
	})
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrEmptyProfileResponse
	}

	return profile, nil
}
