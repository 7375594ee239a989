// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
)

// Authorizer answers whether an agent holds a permission on a document.
type Authorizer interface {
	Authorize(agent *authz.Agent, document string, permission authz.Permission) error
}

// Issuer mints session tokens after checking that the requesting agent
// already holds every requested permission on the document.
type Issuer struct {
	authorizer  Authorizer
	manager     *Manager
	auditLogger audit.Logger
	metrics     *metrics.Metrics
}

// NewIssuer wires an issuer. auditLogger and m may be nil.
func NewIssuer(authorizer Authorizer, manager *Manager, auditLogger audit.Logger, m *metrics.Metrics) *Issuer {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Issuer{
		authorizer:  authorizer,
		manager:     manager,
		auditLogger: auditLogger,
		metrics:     m,
	}
}

// Issue validates and authorizes each requested permission, then creates
// the token. Nothing is created unless every permission passes.
func (i *Issuer) Issue(ctx context.Context, agent *authz.Agent, document string, permissions []string, ttl time.Duration) (*Token, error) {
	perms, err := i.check(agent, document, permissions)
	if err != nil {
		i.deny(ctx, agent, document, permissions, err)
		return nil, err
	}

	tok := i.manager.Create(agent.Name, document, perms, ttl)

	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSessionTokenIssued,
		Agent:    agent.Name,
		Document: document,
		Surface:  audit.SurfaceTool,
		Metadata: map[string]any{
			"permissions": tok.PermissionStrings(),
			"expires_at":  tok.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
	if i.metrics != nil {
		i.metrics.SessionTokensIssued.Inc()
		i.metrics.ActiveSessionTokens.Set(float64(i.manager.Len()))
	}

	slog.InfoContext(ctx, "session token issued",
		logger.Agent(agent.Name),
		logger.Document(document),
		logger.Permissions(tok.PermissionStrings()),
		logger.Token(tok.Token),
	)

	return tok, nil
}

func (i *Issuer) check(agent *authz.Agent, document string, permissions []string) ([]authz.Permission, error) {
	if len(permissions) == 0 {
		return nil, fmt.Errorf("%w: at least one permission is required", authz.ErrInvalidPermission)
	}

	perms := make([]authz.Permission, 0, len(permissions))
	for _, s := range lo.Uniq(permissions) {
		p, err := authz.ParsePermission(s)
		if err != nil {
			return nil, err
		}
		if err := i.authorizer.Authorize(agent, document, p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func (i *Issuer) deny(ctx context.Context, agent *authz.Agent, document string, permissions []string, err error) {
	reason := denyReason(err)

	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSessionTokenDenied,
		Agent:    agent.Name,
		Document: document,
		Surface:  audit.SurfaceTool,
		Metadata: map[string]any{
			"permissions": permissions,
			"reason":      reason,
		},
	})
	if i.metrics != nil {
		i.metrics.SessionTokensDenied.WithLabelValues(reason).Inc()
	}
}

func denyReason(err error) string {
	switch {
	case errors.Is(err, authz.ErrInvalidPermission):
		return "invalid_permission"
	case errors.Is(err, authz.ErrDocumentNotInScope):
		return "document_not_in_scope"
	case errors.Is(err, authz.ErrPermissionDenied):
		return "permission_denied"
	default:
		return "error"
	}
}
