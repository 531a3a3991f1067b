// Package local is an in-process authclient.IdentitySource. Accounts live in
// memory, passwords are bcrypt hashed and credentials are HS256 JWTs that a
// backend (or a test server) can check with ValidateToken.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	authclient "github.com/goliatone/go-auth-client"
)

// ProviderName identifies this source in IdentityError values.
const ProviderName = "local"

const (
	defaultIssuer           = "campauth-local"
	defaultTokenTTL         = time.Hour
	defaultMaxLoginAttempts = 5
	defaultCoolDownPeriod   = 15 * time.Minute
)

// subjectNamespace seeds subject ids. The same email always maps to the same
// subject, so credentials from separate processes sharing a signing key agree.
var subjectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:campauth:local"))

// ErrSigningKeyRequired is returned by New without a signing key.
var ErrSigningKeyRequired = goerrors.New("local identity source requires a signing key", goerrors.CategoryBadInput).
	WithTextCode("LOCAL_SIGNING_KEY_REQUIRED").
	WithCode(goerrors.CodeBadRequest)

// Config holds the local source settings.
type Config struct {
	SigningKey []byte
	TokenTTL   time.Duration
	Issuer     string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// MaxLoginAttempts failed sign ins within CoolDownPeriod lock the account
	// until the period elapses.
	MaxLoginAttempts int
	CoolDownPeriod   time.Duration
}

// Claims is the payload of a local credential.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Option customizes a Source.
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(logger authclient.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLoggerProvider sets the logger provider.
func WithLoggerProvider(provider authclient.LoggerProvider) Option {
	return func(s *Source) {
		if provider != nil {
			s.loggerProvider = provider
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Source) {
		if clock != nil {
			s.now = clock
		}
	}
}

type account struct {
	subjectID      string
	email          string
	passwordHash   string
	disabled       bool
	failedAttempts int
	lastFailedAt   time.Time
}

// Source is the in-memory identity source.
type Source struct {
	cfg            Config
	now            func() time.Time
	logger         authclient.Logger
	loggerProvider authclient.LoggerProvider

	mu        sync.Mutex
	accounts  map[string]*account
	bySubject map[string]*account

	transitionMu sync.Mutex
	listeners    authclient.IdentityListeners
}

var _ authclient.IdentitySource = (*Source)(nil)

// New creates a Source.
func New(cfg Config, opts ...Option) (*Source, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, ErrSigningKeyRequired
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = defaultMaxLoginAttempts
	}
	if cfg.CoolDownPeriod <= 0 {
		cfg.CoolDownPeriod = defaultCoolDownPeriod
	}

	s := &Source{
		cfg:       cfg,
		now:       time.Now,
		accounts:  make(map[string]*account),
		bySubject: make(map[string]*account),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.loggerProvider, s.logger = authclient.ResolveLogger("authclient.provider.local", s.loggerProvider, s.logger)

	return s, nil
}

// Subscribe implements authclient.IdentitySource.
func (s *Source) Subscribe(listener authclient.IdentityListener) func() {
	return s.listeners.Subscribe(listener)
}

// CurrentIdentity returns the signed in identity, nil when signed out.
func (s *Source) CurrentIdentity() authclient.Identity {
	return s.listeners.Current()
}

// SignUp implements authclient.IdentitySource. The new account is signed in.
func (s *Source) SignUp(ctx context.Context, email, password string) (authclient.Identity, error) {
	acct, err := s.register(ctx, "signUp", email, password)
	if err != nil {
		return nil, err
	}

	id := s.newIdentity(acct)
	s.signedIn(id)
	return id, nil
}

// Register creates an account without signing it in and returns its subject
// id. Use it to seed accounts before SignIn.
func (s *Source) Register(ctx context.Context, email, password string) (string, error) {
	acct, err := s.register(ctx, "register", email, password)
	if err != nil {
		return "", err
	}
	return acct.subjectID, nil
}

func (s *Source) register(ctx context.Context, operation, email, password string) (*account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, identityError(operation, authclient.CodeInvalidEmail, "the email address is badly formatted", err)
	}
	if len(password) < authclient.MinPasswordLength {
		return nil, identityError(operation, authclient.CodeWeakPassword,
			fmt.Sprintf("password should be at least %d characters", authclient.MinPasswordLength), nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, identityError(operation, authclient.CodeInternalError, "failed to hash password", err)
	}

	s.mu.Lock()
	if _, exists := s.accounts[email]; exists {
		s.mu.Unlock()
		return nil, identityError(operation, authclient.CodeEmailAlreadyInUse, "the email address is already in use", nil)
	}
	acct := &account{
		subjectID:    SubjectID(email),
		email:        email,
		passwordHash: string(hash),
	}
	s.accounts[email] = acct
	s.bySubject[acct.subjectID] = acct
	s.mu.Unlock()

	s.logger.Info("account created", "subject_id", acct.subjectID)
	return acct, nil
}

// SubjectID returns the subject id the local source assigns to email.
func SubjectID(email string) string {
	return uuid.NewSHA1(subjectNamespace, []byte(normalizeEmail(email))).String()
}

// SignIn implements authclient.IdentitySource.
func (s *Source) SignIn(ctx context.Context, email, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return identityError("signIn", authclient.CodeInvalidEmail, "the email address is badly formatted", err)
	}

	s.mu.Lock()
	acct, ok := s.accounts[email]
	if !ok {
		s.mu.Unlock()
		return identityError("signIn", authclient.CodeInvalidCredential, "invalid login credentials", nil)
	}
	if acct.disabled {
		s.mu.Unlock()
		return identityError("signIn", authclient.CodeUserDisabled, "the account has been disabled", nil)
	}

	now := s.now()
	if acct.failedAttempts > 0 && now.Sub(acct.lastFailedAt) >= s.cfg.CoolDownPeriod {
		acct.failedAttempts = 0
	}
	if acct.failedAttempts >= s.cfg.MaxLoginAttempts {
		s.mu.Unlock()
		return identityError("signIn", authclient.CodeTooManyRequests,
			"access to this account has been temporarily disabled due to many failed login attempts", nil)
	}
	hash := acct.passwordHash
	s.mu.Unlock()

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.mu.Lock()
		acct.failedAttempts++
		acct.lastFailedAt = now
		s.mu.Unlock()

		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return identityError("signIn", authclient.CodeInvalidCredential, "invalid login credentials", nil)
		}
		return identityError("signIn", authclient.CodeInternalError, "failed to verify password", err)
	}

	s.mu.Lock()
	acct.failedAttempts = 0
	acct.lastFailedAt = time.Time{}
	s.mu.Unlock()

	s.signedIn(s.newIdentity(acct))
	return nil
}

// SignOut implements authclient.IdentitySource. Listeners are notified only
// when an identity was signed in.
func (s *Source) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	if s.listeners.Current() == nil {
		return nil
	}
	s.listeners.Emit(nil)
	return nil
}

// Disable blocks sign in and credential refresh for the account.
func (s *Source) Disable(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[normalizeEmail(email)]
	if !ok {
		return identityError("disable", authclient.CodeUserNotFound, "no account for this email", nil)
	}
	acct.disabled = true
	return nil
}

// ValidateToken verifies a credential minted by this source.
func (s *Source) ValidateToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.SigningKey, nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, identityError("validateToken", authclient.CodeUserTokenExpired, "the credential has expired", err)
		}
		return nil, identityError("validateToken", authclient.CodeInvalidUserToken, "the credential is invalid", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, identityError("validateToken", authclient.CodeInvalidUserToken, "the credential is invalid", nil)
	}
	return claims, nil
}

func (s *Source) signedIn(id *identity) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	s.listeners.Emit(id)
}

func (s *Source) mint(subjectID, email string) (string, time.Time, error) {
	s.mu.Lock()
	acct, ok := s.bySubject[subjectID]
	disabled := ok && acct.disabled
	s.mu.Unlock()

	if !ok {
		return "", time.Time{}, identityError("getIdToken", authclient.CodeUserNotFound, "the account no longer exists", nil)
	}
	if disabled {
		return "", time.Time{}, identityError("getIdToken", authclient.CodeUserDisabled, "the account has been disabled", nil)
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign local credential")
	}
	return signed, expiresAt, nil
}

func (s *Source) newIdentity(acct *account) *identity {
	return &identity{source: s, subjectID: acct.subjectID, email: acct.email}
}

type identity struct {
	source    *Source
	subjectID string
	email     string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (i *identity) SubjectID() string { return i.subjectID }
func (i *identity) Email() string     { return i.email }

// Credential returns the cached credential until it expires. forceRefresh
// always mints a new one.
func (i *identity) Credential(ctx context.Context, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !forceRefresh && i.token != "" && i.source.now().Before(i.expiresAt) {
		return i.token, nil
	}

	token, expiresAt, err := i.source.mint(i.subjectID, i.email)
	if err != nil {
		return "", err
	}
	i.token = token
	i.expiresAt = expiresAt
	return token, nil
}

func identityError(operation, code, message string, err error) *authclient.IdentityError {
	return &authclient.IdentityError{
		Provider:  ProviderName,
		Operation: operation,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
