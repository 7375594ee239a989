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

// Package mcp serves the tool catalogue as JSON-RPC 2.0 over HTTP POST.
// Every request carries the agent's long-lived bearer token.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
	"github.com/opentrusty/gristgate/internal/tools"
)

// SessionHeader carries the session id handed out on initialize.
const SessionHeader = "Mcp-Session-Id"

// MaxBodyBytes bounds a single JSON-RPC message.
const MaxBodyBytes = 16 << 20

// Authenticator resolves long-lived agent tokens.
type Authenticator interface {
	Authenticate(token string) (*authz.Agent, error)
}

// ToolService lists and runs tools.
type ToolService interface {
	Descriptors() []tools.Descriptor
	Call(ctx context.Context, agent *authz.Agent, name string, args json.RawMessage) (any, error)
}

// Server is an http.Handler for the tool channel.
type Server struct {
	auth        Authenticator
	tools       ToolService
	auditLogger audit.Logger
	metrics     *metrics.Metrics
	version     string
}

// Option configures a Server.
type Option func(*Server)

// WithAuditLogger records authentication outcomes.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.auditLogger = l }
}

// WithMetrics counts authentication attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a tool channel server.
func NewServer(auth Authenticator, toolService ToolService, opts ...Option) *Server {
	s := &Server{
		auth:        auth,
		tools:       toolService,
		auditLogger: audit.Nop{},
		version:     "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeHTTPError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	agent, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeHTTPError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		s.write(w, r, response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
		})
		return
	}

	if req.JSONRPC != "2.0" {
		if req.isNotification() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		s.write(w, r, errorResponse(req.ID, codeInvalidRequest, "unsupported JSON-RPC version"))
		return
	}

	// Notifications have no response body.
	if req.isNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		w.Header().Set(SessionHeader, uuid.NewString())
		s.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeAgentAuthenticated,
			Agent:     agent.Name,
			Surface:   audit.SurfaceTool,
			IPAddress: audit.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
	}

	s.write(w, r, s.dispatch(r.Context(), agent, &req))
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*authz.Agent, bool) {
	token, found := bearerToken(r)
	if !found {
		s.metrics.RecordAuthentication(audit.SurfaceTool, false)
		writeHTTPError(w, http.StatusUnauthorized, "Missing Authorization header")
		return nil, false
	}

	agent, err := s.auth.Authenticate(token)
	if err != nil {
		s.metrics.RecordAuthentication(audit.SurfaceTool, false)
		s.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeAuthenticationFailed,
			Surface:   audit.SurfaceTool,
			IPAddress: audit.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		slog.WarnContext(r.Context(), "tool channel authentication failed",
			logger.RemoteAddr(audit.ClientIP(r)),
			logger.Token(token),
		)
		writeHTTPError(w, http.StatusUnauthorized, "Invalid token")
		return nil, false
	}

	s.metrics.RecordAuthentication(audit.SurfaceTool, true)
	return agent, true
}

func (s *Server) dispatch(ctx context.Context, agent *authz.Agent, req *request) response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, agent, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleInitialize(req *request) response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, "params required for initialize")
	}

	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
	}

	return resultResponse(req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolCapability{}},
		ServerInfo:      serverInfo{Name: "gristgate", Version: s.version},
	})
}

func (s *Server) handleToolsList(req *request) response {
	descriptions := lo.Map(s.tools.Descriptors(), func(d tools.Descriptor, _ int) toolDescription {
		return toolDescription{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	})
	return resultResponse(req.ID, toolsListResult{Tools: descriptions})
}

func (s *Server) handleToolsCall(ctx context.Context, agent *authz.Agent, req *request) response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, "params required for tools/call")
	}

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	out, err := s.tools.Call(ctx, agent, params.Name, params.Arguments)
	if errors.Is(err, tools.ErrUnknownTool) {
		return errorResponse(req.ID, codeInvalidParams, "unknown tool: "+params.Name)
	}
	if err != nil {
		return resultResponse(req.ID, toolsCallResult{
			Content: []contentBlock{{Type: "text", Text: tools.ErrorText(err)}},
			IsError: true,
		})
	}

	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errorResponse(req.ID, codeInternalError, "encoding tool result: "+err.Error())
	}
	return resultResponse(req.ID, toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: string(text)}},
	})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, resp response) {
	if id := r.Header.Get(SessionHeader); id != "" && w.Header().Get(SessionHeader) == "" {
		w.Header().Set(SessionHeader, id)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to write tool channel response", logger.Error(err))
	}
}

func resultResponse(id json.RawMessage, result any) response {
	return response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func bearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeHTTPError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
