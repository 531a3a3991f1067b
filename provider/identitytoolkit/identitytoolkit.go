// Package identitytoolkit is an authclient.IdentitySource backed by the
// Google Identity Toolkit REST API (Firebase email/password accounts).
package identitytoolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	authclient "github.com/goliatone/go-auth-client"
)

// ProviderName identifies this source in IdentityError values.
const ProviderName = "identitytoolkit"

const (
	defaultIdentityEndpoint    = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenEndpoint = "https://securetoken.googleapis.com/v1"
	// tokens this close to expiry are refreshed
	expirySkew = 30 * time.Second
)

// ErrAPIKeyRequired is returned by New without an API key.
var ErrAPIKeyRequired = goerrors.New("identity toolkit source requires an API key", goerrors.CategoryBadInput).
	WithTextCode("IDENTITY_TOOLKIT_API_KEY_REQUIRED").
	WithCode(goerrors.CodeBadRequest)

// Config holds Identity Toolkit settings.
type Config struct {
	APIKey string

	IdentityEndpoint    string
	SecureTokenEndpoint string

	HTTPClient *http.Client
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

// Source signs accounts in against Identity Toolkit. Session state is kept in
// memory only.
type Source struct {
	config         Config
	httpClient     *http.Client
	now            func() time.Time
	logger         authclient.Logger
	loggerProvider authclient.LoggerProvider

	transitionMu sync.Mutex
	listeners    authclient.IdentityListeners
}

var _ authclient.IdentitySource = (*Source)(nil)

// New creates a Source.
func New(cfg Config, opts ...Option) (*Source, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.IdentityEndpoint == "" {
		cfg.IdentityEndpoint = defaultIdentityEndpoint
	}
	if cfg.SecureTokenEndpoint == "" {
		cfg.SecureTokenEndpoint = defaultSecureTokenEndpoint
	}
	cfg.IdentityEndpoint = strings.TrimRight(cfg.IdentityEndpoint, "/")
	cfg.SecureTokenEndpoint = strings.TrimRight(cfg.SecureTokenEndpoint, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	s := &Source{
		config:     cfg,
		httpClient: client,
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.loggerProvider, s.logger = authclient.ResolveLogger("authclient.provider.identitytoolkit", s.loggerProvider, s.logger)

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
	var resp accountResponse
	if err := s.postAccounts(ctx, "signUp", "accounts:signUp", credentialsRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp); err != nil {
		return nil, err
	}

	id, err := s.newIdentity(resp)
	if err != nil {
		return nil, err
	}

	s.emit(id)
	s.logger.Info("account created", "subject_id", id.subjectID)
	return id, nil
}

// SignIn implements authclient.IdentitySource.
func (s *Source) SignIn(ctx context.Context, email, password string) error {
	var resp accountResponse
	if err := s.postAccounts(ctx, "signIn", "accounts:signInWithPassword", credentialsRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp); err != nil {
		return err
	}

	id, err := s.newIdentity(resp)
	if err != nil {
		return err
	}

	s.emit(id)
	return nil
}

// SignOut implements authclient.IdentitySource. Tokens are dropped locally;
// Identity Toolkit has no server side sign out for password sessions.
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

func (s *Source) emit(id *identity) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	s.listeners.Emit(id)
}

// signOutIfCurrent drops id when the backend rejected its refresh token.
func (s *Source) signOutIfCurrent(id *identity) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	current, ok := s.listeners.Current().(*identity)
	if !ok || current != id {
		return
	}
	s.logger.Warn("refresh token rejected, signing out", "subject_id", id.subjectID)
	s.listeners.Emit(nil)
}

type credentialsRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type accountResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	UserID       string `json:"user_id"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Source) postAccounts(ctx context.Context, operation, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return identityError(operation, authclient.CodeInternalError, "failed to encode request", 0, err)
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", s.config.IdentityEndpoint, method, url.QueryEscape(s.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return identityError(operation, authclient.CodeInternalError, "failed to build request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req, operation, out)
}

func (s *Source) refresh(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	endpoint := fmt.Sprintf("%s/token?key=%s", s.config.SecureTokenEndpoint, url.QueryEscape(s.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, identityError("getIdToken", authclient.CodeInternalError, "failed to build request", 0, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := s.do(req, "getIdToken", &resp); err != nil {
		return nil, err
	}
	if resp.IDToken == "" {
		return nil, identityError("getIdToken", authclient.CodeInternalError, "missing id token", http.StatusOK, nil)
	}
	return &resp, nil
}

func (s *Source) do(req *http.Request, operation string, out any) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return identityError(operation, authclient.CodeNetworkRequestFailed, "network request failed", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return identityError(operation, authclient.CodeNetworkRequestFailed, "failed to read response", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr != nil || errResp.Error.Message == "" {
			return identityError(operation, authclient.CodeInternalError,
				fmt.Sprintf("unexpected status %d", resp.StatusCode), resp.StatusCode, jsonErr)
		}
		code, message := normalizeError(errResp.Error.Message)
		return identityError(operation, code, message, resp.StatusCode, nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return identityError(operation, authclient.CodeInternalError, "failed to decode response", resp.StatusCode, err)
	}
	return nil
}

// normalizeError maps "EMAIL_EXISTS" or "WEAK_PASSWORD : Password should be
// at least 6 characters" onto an authclient code and the server detail.
func normalizeError(raw string) (code, message string) {
	reason, detail, _ := strings.Cut(raw, " : ")
	reason = strings.TrimSpace(reason)
	message = strings.TrimSpace(detail)
	if message == "" {
		message = reason
	}

	switch reason {
	case "EMAIL_EXISTS":
		code = authclient.CodeEmailAlreadyInUse
	case "WEAK_PASSWORD":
		code = authclient.CodeWeakPassword
	case "INVALID_EMAIL", "MISSING_EMAIL":
		code = authclient.CodeInvalidEmail
	case "EMAIL_NOT_FOUND":
		code = authclient.CodeUserNotFound
	case "INVALID_PASSWORD":
		code = authclient.CodeWrongPassword
	case "INVALID_LOGIN_CREDENTIALS":
		code = authclient.CodeInvalidCredential
	case "USER_DISABLED":
		code = authclient.CodeUserDisabled
	case "USER_NOT_FOUND":
		code = authclient.CodeUserNotFound
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		code = authclient.CodeTooManyRequests
	case "OPERATION_NOT_ALLOWED", "PASSWORD_LOGIN_DISABLED", "ADMIN_ONLY_OPERATION":
		code = authclient.CodeOperationNotAllowed
	case "TOKEN_EXPIRED", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		code = authclient.CodeUserTokenExpired
	case "INVALID_REFRESH_TOKEN", "INVALID_ID_TOKEN", "MISSING_REFRESH_TOKEN":
		code = authclient.CodeInvalidUserToken
	default:
		code = authclient.CodeInternalError
	}
	return code, message
}

func (s *Source) newIdentity(resp accountResponse) (*identity, error) {
	if resp.LocalID == "" || resp.IDToken == "" {
		return nil, identityError("signIn", authclient.CodeInternalError, "incomplete account response", http.StatusOK, nil)
	}

	return &identity{
		source:       s,
		subjectID:    resp.LocalID,
		email:        resp.Email,
		idToken:      resp.IDToken,
		refreshToken: resp.RefreshToken,
		expiresAt:    s.expiry(resp.ExpiresIn),
	}, nil
}

func (s *Source) expiry(expiresIn string) time.Time {
	seconds, err := strconv.Atoi(strings.TrimSpace(expiresIn))
	if err != nil || seconds <= 0 {
		seconds = 3600
	}
	return s.now().Add(time.Duration(seconds) * time.Second)
}

type identity struct {
	source    *Source
	subjectID string
	email     string

	mu           sync.Mutex
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

func (i *identity) SubjectID() string { return i.subjectID }
func (i *identity) Email() string     { return i.email }

// Credential returns the cached ID token unless it is about to expire or a
// refresh is forced.
func (i *identity) Credential(ctx context.Context, forceRefresh bool) (string, error) {
	i.mu.Lock()
	if !forceRefresh && i.idToken != "" && i.source.now().Add(expirySkew).Before(i.expiresAt) {
		token := i.idToken
		i.mu.Unlock()
		return token, nil
	}

	resp, err := i.source.refresh(ctx, i.refreshToken)
	if err != nil {
		i.mu.Unlock()
		if revoked(err) {
			i.source.signOutIfCurrent(i)
		}
		return "", err
	}

	i.idToken = resp.IDToken
	if resp.RefreshToken != "" {
		i.refreshToken = resp.RefreshToken
	}
	i.expiresAt = i.source.expiry(resp.ExpiresIn)
	token := i.idToken
	i.mu.Unlock()

	return token, nil
}

func revoked(err error) bool {
	switch authclient.IdentityErrorCode(err) {
	case authclient.CodeUserTokenExpired, authclient.CodeInvalidUserToken,
		authclient.CodeUserDisabled, authclient.CodeUserNotFound:
		return true
	}
	return false
}

func identityError(operation, code, message string, status int, err error) *authclient.IdentityError {
	return &authclient.IdentityError{
		Provider:  ProviderName,
		Operation: operation,
		Code:      code,
		Message:   message,
		Status:    status,
		Err:       err,
	}
}
