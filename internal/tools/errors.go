package tools

import (
	"errors"

	"github.com/opentrusty/gristgate/internal/authz"
)

var ErrUnknownTool = errors.New("unknown tool")

// AuthorizationError wraps a scope or permission failure.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string { return e.Err.Error() }
func (e *AuthorizationError) Unwrap() error { return e.Err }

// InvalidArgumentsError reports arguments that failed schema validation
// or decoding.
type InvalidArgumentsError struct {
	Err error
}

func (e *InvalidArgumentsError) Error() string { return "invalid arguments: " + e.Err.Error() }
func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

func isAuthzError(err error) bool {
	for _, target := range []error{
		authz.ErrInvalidToken,
		authz.ErrDocumentNotInScope,
		authz.ErrPermissionDenied,
		authz.ErrDocumentNotConfigured,
		authz.ErrInvalidPermission,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorText renders a tool failure as the text returned to the caller.
func ErrorText(err error) string {
	var ae *AuthorizationError
	if errors.As(err, &ae) {
		return "Authorization error: " + ae.Error()
	}
	return "Error: " + err.Error()
}
