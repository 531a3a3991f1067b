package authclient

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNotSignedIn           = "SESSION_NOT_SIGNED_IN"
	TextCodeProfileNotLoaded      = "SESSION_PROFILE_NOT_LOADED"
	TextCodeMissingCredential     = "SESSION_MISSING_CREDENTIAL"
	TextCodeInvalidSignUp         = "SESSION_INVALID_SIGNUP"
	TextCodeInvalidProfilePatch   = "SESSION_INVALID_PROFILE_PATCH"
	TextCodeInvalidRole           = "SESSION_INVALID_ROLE"
	TextCodeSignUpCooldown        = "SESSION_SIGNUP_RATE_LIMIT"
	TextCodeProfileSyncFailed     = "SESSION_PROFILE_SYNC_FAILED"
	TextCodeEmptyProfileResponse  = "SESSION_EMPTY_PROFILE_RESPONSE"
	TextCodeCoordinatorNotStarted = "SESSION_COORDINATOR_NOT_STARTED"
	TextCodeCoordinatorClosed     = "SESSION_COORDINATOR_CLOSED"
	TextCodeSubjectMismatch       = "SESSION_PROFILE_SUBJECT_MISMATCH"
	TextCodeInvalidConfig         = "SESSION_INVALID_CONFIG"
)

// ErrNotSignedIn is returned by operations that need an active identity.
var ErrNotSignedIn = goerrors.New("no active identity", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotSignedIn).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileNotLoaded is returned when a profile is required but has not
// been resolved for the active identity.
var ErrProfileNotLoaded = goerrors.New("profile not loaded", goerrors.CategoryConflict).
	WithTextCode(TextCodeProfileNotLoaded).
	WithCode(goerrors.CodeConflict)

// ErrMissingCredential is returned when a backend call has no bearer credential.
var ErrMissingCredential = goerrors.New("bearer credential is required", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidSignUp wraps validation failures of a sign-up request.
var ErrInvalidSignUp = goerrors.New("invalid sign up request", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidSignUp).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidProfilePatch wraps validation failures of a profile patch.
var ErrInvalidProfilePatch = goerrors.New("invalid profile patch", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidProfilePatch).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRole is returned when a role is outside the closed role set.
var ErrInvalidRole = goerrors.New("invalid role", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrSignUpCooldown is returned when sign up is attempted again inside the
// cooldown window.
var ErrSignUpCooldown = goerrors.New("too many sign up attempts, wait before trying again", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeSignUpCooldown).
	WithCode(http.StatusTooManyRequests)

// ErrProfileSyncFailed is returned by SignUp when the identity was created but
// the backend profile could not be materialized. The identity is left in place.
var ErrProfileSyncFailed = goerrors.New("identity created but profile sync failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeProfileSyncFailed).
	WithCode(http.StatusBadGateway)

// ErrEmptyProfileResponse is returned when the backend answers a profile
// write with no content.
var ErrEmptyProfileResponse = goerrors.New("backend returned no profile", goerrors.CategoryOperation).
	WithTextCode(TextCodeEmptyProfileResponse).
	WithCode(http.StatusBadGateway)

// ErrCoordinatorNotStarted is returned by operations that need Start.
var ErrCoordinatorNotStarted = goerrors.New("coordinator not started", goerrors.CategoryInternal).
	WithTextCode(TextCodeCoordinatorNotStarted).
	WithCode(goerrors.CodeInternal)

// ErrCoordinatorClosed is returned by Start and WaitReady after Close.
var ErrCoordinatorClosed = goerrors.New("coordinator closed", goerrors.CategoryConflict).
	WithTextCode(TextCodeCoordinatorClosed).
	WithCode(goerrors.CodeConflict)

// ErrProfileSubjectMismatch is returned when the backend hands back a profile
// that belongs to a different subject than the active identity.
var ErrProfileSubjectMismatch = goerrors.New("profile belongs to a different subject", goerrors.CategoryAuth).
	WithTextCode(TextCodeSubjectMismatch).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidConfig wraps configuration validation failures.
var ErrInvalidConfig = goerrors.New("invalid configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

func wrapSentinel(sentinel *goerrors.Error, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// RequestErrorKind classifies gateway failures.
type RequestErrorKind string

const (
	// KindHTTP means the server answered with a non-2xx status.
	KindHTTP RequestErrorKind = "http"
	// KindNetwork means no HTTP response was received.
	KindNetwork RequestErrorKind = "network"
	// KindDecode means a 2xx payload could not be parsed.
	KindDecode RequestErrorKind = "decode"
	// KindEncode means the request body could not be serialized.
	KindEncode RequestErrorKind = "encode"
)

// RequestError is the typed failure of a Gateway call.
type RequestError struct {
	Kind    RequestErrorKind
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e == nil {
		return "request error"
	}

	scope := fmt.Sprintf("%s %s", e.Method, e.Path)
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("%s: %s", scope, e.Message)
	case KindNetwork:
		if e.Err != nil {
			return fmt.Sprintf("%s: server unreachable: %v", scope, e.Err)
		}
		return fmt.Sprintf("%s: server unreachable", scope)
	case KindDecode:
		return fmt.Sprintf("%s: invalid JSON response from server", scope)
	case KindEncode:
		return fmt.Sprintf("%s: invalid request body data", scope)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s: %s", scope, e.Message)
	}
	return scope + ": request failed"
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the error attributes as a flat map for logging.
func (e *RequestError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{
		"kind":   string(e.Kind),
		"method": e.Method,
		"path":   e.Path,
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Message != "" {
		meta["message"] = e.Message
	}
	if e.Err != nil {
		meta["error"] = e.Err.Error()
	}
	return meta
}

// AsRequestError extracts a *RequestError from err.
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr != nil {
		return reqErr, true
	}
	return nil, false
}

// IsStatus reports whether err is an HTTP error with the given status.
func IsStatus(err error, status int) bool {
	reqErr, ok := AsRequestError(err)
	return ok && reqErr.Kind == KindHTTP && reqErr.Status == status
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsUnreachable reports whether err means the server could not be reached.
func IsUnreachable(err error) bool {
	reqErr, ok := AsRequestError(err)
	return ok && reqErr.Kind == KindNetwork
}

// IsDecodeError reports whether err is a response parsing failure.
func IsDecodeError(err error) bool {
	reqErr, ok := AsRequestError(err)
	return ok && reqErr.Kind == KindDecode
}
