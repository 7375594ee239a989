package authz

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidToken           = errors.New("invalid token")
	ErrDocumentNotInScope     = errors.New("document not in scope")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrDocumentNotConfigured  = errors.New("document not configured")
	ErrInvalidPermission      = errors.New("invalid permission")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrDuplicateToken         = errors.New("duplicate token")
	ErrDuplicateScopeDocument = errors.New("duplicate document in scope")
)

// Permission is one of the independent access levels a scope entry grants.
// Levels do not imply each other: schema does not grant write, write does
// not grant read.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionSchema Permission = "schema"
)

// AllPermissions lists every valid permission.
var AllPermissions = []Permission{PermissionRead, PermissionWrite, PermissionSchema}

// ParsePermission converts a configuration or request string to a Permission.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermissionRead, PermissionWrite, PermissionSchema:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
}

func (p Permission) String() string {
	return string(p)
}

// Document holds the upstream connection parameters for a logical document name.
type Document struct {
	URL    string
	DocID  string
	APIKey string
}

// ScopeEntry grants a set of permissions on one document.
type ScopeEntry struct {
	Document    string
	Permissions []Permission
}

// HasPermission checks if the entry grants a specific permission
func (s ScopeEntry) HasPermission(permission Permission) bool {
	for _, p := range s.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Credential is a long-lived caller token bound to an agent name and its scope.
type Credential struct {
	Token string
	Name  string
	Scope []ScopeEntry
}

// Agent is the identity produced by a successful authentication. It is
// derived per call and never cached.
type Agent struct {
	Token string
	Name  string

	scope []ScopeEntry
}

// DocumentAccess is a read-only view of one scope entry.
type DocumentAccess struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}
