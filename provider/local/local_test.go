package local_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/provider/local"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSource(t *testing.T, clock *fakeClock) *local.Source {
	t.Helper()
	source, err := local.New(local.Config{
		SigningKey: []byte("test-signing-key"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	},
		local.WithLogger(authclient.NopLogger()),
		local.WithClock(clock.Now),
	)
	require.NoError(t, err)
	return source
}

func TestNewRequiresSigningKey(t *testing.T) {
	_, err := local.New(local.Config{})
	assert.ErrorIs(t, err, local.ErrSigningKeyRequired)
}

func TestSignUpSignsInAndMintsCredential(t *testing.T) {
	source := newTestSource(t, newFakeClock())

	var seen []authclient.Identity
	source.Subscribe(func(identity authclient.Identity) { seen = append(seen, identity) })

	identity, err := source.SignUp(context.Background(), " Ada@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", identity.Email())
	assert.NotEmpty(t, identity.SubjectID())

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	assert.Equal(t, identity.SubjectID(), seen[1].SubjectID())
	assert.Equal(t, identity.SubjectID(), source.CurrentIdentity().SubjectID())

	token, err := identity.Credential(context.Background(), false)
	require.NoError(t, err)

	claims, err := source.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity.SubjectID(), claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestSignUpErrors(t *testing.T) {
	source := newTestSource(t, newFakeClock())
	_, err := source.SignUp(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{name: "duplicate email", email: "ADA@example.com", password: "secret1", code: authclient.CodeEmailAlreadyInUse},
		{name: "weak password", email: "bob@example.com", password: "12345", code: authclient.CodeWeakPassword},
		{name: "invalid email", email: "bob", password: "secret1", code: authclient.CodeInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.SignUp(context.Background(), tt.email, tt.password)
			require.Error(t, err)
			assert.Equal(t, tt.code, authclient.IdentityErrorCode(err))
		})
	}
}

func TestRegisterDoesNotSignIn(t *testing.T) {
	source := newTestSource(t, newFakeClock())
	ctx := context.Background()

	var transitions int
	source.Subscribe(func(authclient.Identity) { transitions++ })
	transitions = 0

	subjectID, err := source.Register(ctx, "Ada@Example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, local.SubjectID("ada@example.com"), subjectID)
	assert.Nil(t, source.CurrentIdentity())
	assert.Equal(t, 0, transitions)

	_, err = source.Register(ctx, "ada@example.com", "secret1")
	assert.Equal(t, authclient.CodeEmailAlreadyInUse, authclient.IdentityErrorCode(err))

	require.NoError(t, source.SignIn(ctx, "ada@example.com", "secret1"))
	assert.Equal(t, subjectID, source.CurrentIdentity().SubjectID())
}

func TestSubjectIDIsStableAcrossSources(t *testing.T) {
	first := newTestSource(t, newFakeClock())
	second := newTestSource(t, newFakeClock())

	a, err := first.SignUp(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	b, err := second.SignUp(context.Background(), "ADA@example.com", "other-secret")
	require.NoError(t, err)

	assert.Equal(t, a.SubjectID(), b.SubjectID())

	token, err := b.Credential(context.Background(), false)
	require.NoError(t, err)
	claims, err := first.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, a.SubjectID(), claims.Subject)

	c, err := first.SignUp(context.Background(), "bob@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, a.SubjectID(), c.SubjectID())
}

func TestSignInAndLockout(t *testing.T) {
	clock := newFakeClock()
	source := newTestSource(t, clock)
	ctx := context.Background()

	_, err := source.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, source.SignOut(ctx))

	err = source.SignIn(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, authclient.CodeInvalidCredential, authclient.IdentityErrorCode(err))

	for i := 0; i < 5; i++ {
		err = source.SignIn(ctx, "ada@example.com", "wrong-password")
		assert.Equal(t, authclient.CodeInvalidCredential, authclient.IdentityErrorCode(err))
	}

	err = source.SignIn(ctx, "ada@example.com", "secret1")
	assert.Equal(t, authclient.CodeTooManyRequests, authclient.IdentityErrorCode(err))
	assert.Nil(t, source.CurrentIdentity())

	clock.Advance(16 * time.Minute)
	require.NoError(t, source.SignIn(ctx, "ada@example.com", "secret1"))
	assert.Equal(t, "ada@example.com", source.CurrentIdentity().Email())
}

func TestDisabledAccount(t *testing.T) {
	source := newTestSource(t, newFakeClock())
	ctx := context.Background()

	identity, err := source.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, source.Disable("ada@example.com"))

	_, err = identity.Credential(ctx, true)
	assert.Equal(t, authclient.CodeUserDisabled, authclient.IdentityErrorCode(err))

	err = source.SignIn(ctx, "ada@example.com", "secret1")
	assert.Equal(t, authclient.CodeUserDisabled, authclient.IdentityErrorCode(err))

	err = source.Disable("nobody@example.com")
	assert.Equal(t, authclient.CodeUserNotFound, authclient.IdentityErrorCode(err))
}

func TestSignOutNotifiesOnce(t *testing.T) {
	source := newTestSource(t, newFakeClock())
	ctx := context.Background()

	_, err := source.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	var transitions int
	source.Subscribe(func(authclient.Identity) { transitions++ })
	transitions = 0

	require.NoError(t, source.SignOut(ctx))
	require.NoError(t, source.SignOut(ctx))

	assert.Equal(t, 1, transitions)
	assert.Nil(t, source.CurrentIdentity())
}

func TestCredentialCachingAndExpiry(t *testing.T) {
	clock := newFakeClock()
	source := newTestSource(t, clock)
	ctx := context.Background()

	identity, err := source.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	first, err := identity.Credential(ctx, false)
	require.NoError(t, err)
	cached, err := identity.Credential(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	forced, err := identity.Credential(ctx, true)
	require.NoError(t, err)
	assert.NotEqual(t, first, forced)

	clock.Advance(2 * time.Hour)

	_, err = source.ValidateToken(forced)
	assert.Equal(t, authclient.CodeUserTokenExpired, authclient.IdentityErrorCode(err))

	renewed, err := identity.Credential(ctx, false)
	require.NoError(t, err)
	assert.NotEqual(t, forced, renewed)
	_, err = source.ValidateToken(renewed)
	assert.NoError(t, err)
}

func TestValidateTokenRejectsForeignTokens(t *testing.T) {
	source := newTestSource(t, newFakeClock())
	other, err := local.New(local.Config{SigningKey: []byte("other-key"), BcryptCost: bcrypt.MinCost},
		local.WithLogger(authclient.NopLogger()))
	require.NoError(t, err)

	identity, err := other.SignUp(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	token, err := identity.Credential(context.Background(), false)
	require.NoError(t, err)

	_, err = source.ValidateToken(token)
	assert.Equal(t, authclient.CodeInvalidUserToken, authclient.IdentityErrorCode(err))

	_, err = source.ValidateToken("not-a-jwt")
	assert.Equal(t, authclient.CodeInvalidUserToken, authclient.IdentityErrorCode(err))
}

// profileServer is an in-memory profile backend that trusts source tokens.
type profileServer struct {
	source *local.Source

	mu       sync.Mutex
	profiles map[string]*authclient.Profile
}

func (p *profileServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	authorize := func(w http.ResponseWriter, r *http.Request) (*local.Claims, bool) {
		claims, err := p.source.ValidateToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
			return nil, false
		}
		return claims, true
	}

	writeProfile := func(w http.ResponseWriter, profile *authclient.Profile) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(profile))
	}

	mux.HandleFunc("GET /api/users/profile/me", func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authorize(w, r)
		if !ok {
			return
		}
		p.mu.Lock()
		profile, found := p.profiles[claims.Subject]
		p.mu.Unlock()
		if !found {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"User not found"}`))
			return
		}
		writeProfile(w, profile)
	})

	mux.HandleFunc("POST /api/users/sync", func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authorize(w, r)
		if !ok {
			return
		}
		var body struct {
			Role     authclient.Role `json:"role"`
			FullName string          `json:"fullName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		profile := &authclient.Profile{
			ID:        "p-" + claims.Subject,
			SubjectID: claims.Subject,
			Role:      body.Role,
			FullName:  body.FullName,
			Email:     authclient.StringPtr(claims.Email),
		}
		p.mu.Lock()
		p.profiles[claims.Subject] = profile
		p.mu.Unlock()
		writeProfile(w, profile)
	})

	mux.HandleFunc("PATCH /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authorize(w, r)
		if !ok {
			return
		}
		var patch authclient.ProfilePatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))

		p.mu.Lock()
		profile := p.profiles[claims.Subject].Clone()
		if patch.FullName != nil {
			profile.FullName = *patch.FullName
		}
		if patch.Phone != nil {
			profile.Phone = patch.Phone
		}
		p.profiles[claims.Subject] = profile
		p.mu.Unlock()

		// partial response, the client keeps what is omitted
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"fullName": profile.FullName,
			"phone":    profile.Phone,
		}))
	})

	return mux
}

func TestCoordinatorWithLocalSource(t *testing.T) {
	clock := newFakeClock()
	source := newTestSource(t, clock)

	backend := &profileServer{source: source, profiles: map[string]*authclient.Profile{}}
	server := httptest.NewServer(backend.handler(t))
	t.Cleanup(server.Close)

	gateway := authclient.NewGateway(server.URL+"/api", authclient.WithGatewayLogger(authclient.NopLogger()))
	resolver := authclient.NewProfileResolver(gateway, authclient.WithResolverLogger(authclient.NopLogger()))
	coordinator := authclient.NewCoordinator(source, resolver,
		authclient.WithLogger(authclient.NopLogger()),
		authclient.WithSignUpCooldown(0),
	)
	t.Cleanup(func() { _ = coordinator.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, coordinator.Start(ctx))
	state, err := coordinator.WaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, authclient.PhaseLoggedOut, state.Phase())

	profile, err := coordinator.SignUp(ctx, authclient.SignUpInput{
		Email:    "ada@example.com",
		Password: "secret1",
		Role:     authclient.RoleAdmin,
		FullName: "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, authclient.RoleAdmin, profile.Role)

	state, err = coordinator.WaitReady(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.Profile)
	assert.Equal(t, "Ada", state.Profile.FullName)

	updated, err := coordinator.UpdateProfile(ctx, authclient.ProfilePatch{Phone: authclient.StringPtr("555-0100")})
	require.NoError(t, err)
	assert.Equal(t, "555-0100", *updated.Phone)
	assert.Equal(t, authclient.RoleAdmin, updated.Role)
	assert.Equal(t, "ada@example.com", *updated.Email)

	assert.NotEmpty(t, coordinator.GetToken(ctx))

	require.NoError(t, coordinator.SignOut(ctx))
	state = coordinator.Snapshot()
	assert.Equal(t, authclient.PhaseLoggedOut, state.Phase())
	assert.Equal(t, "", coordinator.GetToken(ctx))

	require.NoError(t, coordinator.SignIn(ctx, "ada@example.com", "secret1"))
	state, err = coordinator.WaitReady(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.Profile)
	assert.Equal(t, "555-0100", *state.Profile.Phone)
	assert.Equal(t, "/admin", state.Profile.Role.DashboardPath())
}
