package authz

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Authenticator resolves long-lived tokens to agents and answers scope
// questions against the immutable Store. All methods are safe for
// concurrent use.
type Authenticator struct {
	store *Store
}

// NewAuthenticator creates a new authenticator over the given store
func NewAuthenticator(store *Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate validates a long-lived token and returns the Agent it identifies.
func (a *Authenticator) Authenticate(token string) (*Agent, error) {
	cred, ok := a.store.credentials[token]
	if !ok || token == "" {
		return nil, ErrInvalidToken
	}

	return &Agent{
		Token: token,
		Name:  cred.Name,
		scope: cred.Scope,
	}, nil
}

// Authorize checks that the agent's scope grants permission on document.
// The first scope entry naming the document decides. ErrDocumentNotInScope
// means no entry matched; ErrPermissionDenied means the entry exists but
// lacks the permission.
func (a *Authenticator) Authorize(agent *Agent, document string, permission Permission) error {
	entry, ok := lo.Find(agent.scope, func(e ScopeEntry) bool {
		return e.Document == document
	})
	if !ok {
		return ErrDocumentNotInScope
	}

	if !entry.HasPermission(permission) {
		return ErrPermissionDenied
	}

	return nil
}

// AccessibleDocuments projects the agent's scope in configuration order.
func (a *Authenticator) AccessibleDocuments(agent *Agent) []DocumentAccess {
	return lo.Map(agent.scope, func(e ScopeEntry, _ int) DocumentAccess {
		return DocumentAccess{
			Name:        e.Document,
			Permissions: slices.Clone(e.Permissions),
		}
	})
}

// Document resolves a logical document name to its connection parameters.
// It does not consult any agent's scope; callers authorize first.
func (a *Authenticator) Document(name string) (Document, error) {
	doc, ok := a.store.documents[name]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrDocumentNotConfigured, name)
	}
	return doc, nil
}
