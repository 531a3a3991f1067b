package authclient

import (
	"errors"
	"fmt"
)

// Identity provider error codes. Consumers map them to user facing messages.
const (
	CodeInvalidEmail         = "auth/invalid-email"
	CodeUserDisabled         = "auth/user-disabled"
	CodeUserNotFound         = "auth/user-not-found"
	CodeWrongPassword        = "auth/wrong-password"
	CodeInvalidCredential    = "auth/invalid-credential"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeEmailAlreadyInUse    = "auth/email-already-in-use"
	CodeWeakPassword         = "auth/weak-password"
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeOperationNotAllowed  = "auth/operation-not-allowed"
	CodeInternalError        = "auth/internal-error"
	CodeUserTokenExpired     = "auth/user-token-expired"
	CodeInvalidUserToken     = "auth/invalid-user-token"
)

// IdentityError captures a normalized identity provider failure.
type IdentityError struct {
	Provider  string
	Operation string
	Code      string
	Message   string
	Status    int
	Err       error
}

func (e *IdentityError) Error() string {
	if e == nil {
		return "identity provider error"
	}

	scope := "identity provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s (%s)", scope, e.Message, e.Code)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}

	return fmt.Sprintf("%s failed", scope)
}

func (e *IdentityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *IdentityError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Message != "" {
		meta["message"] = e.Message
	}

	return meta
}

// IdentityErrorCode returns the provider code carried by err, "" if none.
func IdentityErrorCode(err error) string {
	var ierr *IdentityError
	if errors.As(err, &ierr) && ierr != nil {
		return ierr.Code
	}
	return ""
}

// IsIdentityErrorCode reports whether err carries the given provider code.
func IsIdentityErrorCode(err error, code string) bool {
	return code != "" && IdentityErrorCode(err) == code
}
