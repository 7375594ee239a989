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

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/grist"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
	"github.com/opentrusty/gristgate/internal/session"
)

// ProxyPath is where the HTTP proxy accepts session tokens.
const ProxyPath = "/api/v1/proxy"

// Authorizer resolves an agent's access to documents.
type Authorizer interface {
	Authorize(agent *authz.Agent, document string, permission authz.Permission) error
	AccessibleDocuments(agent *authz.Agent) []authz.DocumentAccess
}

// Issuer mints session tokens for request_session_token.
type Issuer interface {
	Issue(ctx context.Context, agent *authz.Agent, document string, permissions []string, ttl time.Duration) (*session.Token, error)
}

// Config wires a Service. AuditLogger and Metrics are optional.
type Config struct {
	Authorizer  Authorizer
	Clients     grist.Provider
	Issuer      Issuer
	PublicURL   string
	AuditLogger audit.Logger
	Metrics     *metrics.Metrics
}

// Descriptor is the listing form of a tool.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type entry struct {
	tool
	validator *validator
}

// Service runs tool calls on behalf of authenticated agents.
type Service struct {
	authorizer  Authorizer
	clients     grist.Provider
	issuer      Issuer
	proxyURL    string
	auditLogger audit.Logger
	metrics     *metrics.Metrics

	order []string
	tools map[string]entry
}

// NewService compiles every tool's argument schema.
func NewService(cfg Config) (*Service, error) {
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = audit.Nop{}
	}

	s := &Service{
		authorizer:  cfg.Authorizer,
		clients:     cfg.Clients,
		issuer:      cfg.Issuer,
		proxyURL:    strings.TrimRight(cfg.PublicURL, "/") + ProxyPath,
		auditLogger: cfg.AuditLogger,
		metrics:     cfg.Metrics,
		tools:       make(map[string]entry),
	}

	for _, t := range catalogue() {
		v, err := newValidator(t.schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.name, err)
		}
		s.order = append(s.order, t.name)
		s.tools[t.name] = entry{tool: t, validator: v}
	}
	return s, nil
}

// Descriptors lists tools in catalogue order.
func (s *Service) Descriptors() []Descriptor {
	return lo.Map(s.order, func(name string, _ int) Descriptor {
		t := s.tools[name]
		return Descriptor{Name: t.name, Description: t.description, InputSchema: t.schema}
	})
}

// Call validates args, authorizes the agent for the tool's document
// permission and runs the tool.
func (s *Service) Call(ctx context.Context, agent *authz.Agent, name string, args json.RawMessage) (any, error) {
	start := time.Now()

	t, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	result, err := s.call(ctx, agent, t, args)

	outcome := "success"
	var authErr *AuthorizationError
	switch {
	case errors.As(err, &authErr):
		outcome = "denied"
	case err != nil:
		outcome = "error"
	}
	s.metrics.RecordToolCall(name, outcome)

	attrs := []any{
		logger.Agent(agent.Name),
		logger.Tool(name),
		logger.Token(agent.Token),
		logger.Duration(time.Since(start).Milliseconds()),
	}
	if err != nil {
		slog.WarnContext(ctx, "tool call failed", append(attrs, logger.Error(err))...)
		return nil, err
	}
	slog.InfoContext(ctx, "tool call", append(attrs, logger.Stats(Stats(name, args, result)))...)
	return result, nil
}

func (s *Service) call(ctx context.Context, agent *authz.Agent, t entry, args json.RawMessage) (any, error) {
	if err := t.validator.validate(args); err != nil {
		return nil, err
	}

	c := &call{agent: agent}
	if t.permission != "" {
		doc := gjson.GetBytes(args, "document").String()
		if err := s.authorizer.Authorize(agent, doc, t.permission); err != nil {
			s.deny(ctx, agent, t, doc, err)
			return nil, &AuthorizationError{Err: err}
		}

		api, err := s.clients.Client(doc)
		if err != nil {
			if isAuthzError(err) {
				return nil, &AuthorizationError{Err: err}
			}
			return nil, err
		}
		c.api = api
	}

	return t.run(ctx, s, c, args)
}

func (s *Service) deny(ctx context.Context, agent *authz.Agent, t entry, doc string, err error) {
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeToolDenied,
		Agent:    agent.Name,
		Document: doc,
		Surface:  audit.SurfaceTool,
		Metadata: map[string]any{
			"tool":       t.name,
			"permission": t.permission.String(),
			"reason":     err.Error(),
		},
	})
}
