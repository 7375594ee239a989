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

package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/grist"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
	"github.com/opentrusty/gristgate/internal/proxy"
	"github.com/opentrusty/gristgate/internal/session"
)

// MaxProxyBodyBytes bounds proxy request bodies.
const MaxProxyBodyBytes = 10 << 20

// MaxUploadBytes bounds multipart attachment uploads.
const MaxUploadBytes = 50 << 20

// SessionValidator resolves bearer session tokens.
type SessionValidator interface {
	Validate(token string) (*session.Token, bool)
}

// ProxyHandler parses and runs proxy request bodies.
type ProxyHandler interface {
	Handle(ctx context.Context, body []byte, tok *session.Token) (map[string]any, error)
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	sessions       SessionValidator
	proxy          ProxyHandler
	clients        grist.Provider
	toolChannel    http.Handler
	metricsHandler http.Handler
	auditLogger    audit.Logger
	metrics        *metrics.Metrics
}

// HandlerConfig wires a Handler. ToolChannel, MetricsHandler, AuditLogger
// and Metrics are optional.
type HandlerConfig struct {
	Sessions       SessionValidator
	Proxy          ProxyHandler
	Clients        grist.Provider
	ToolChannel    http.Handler
	MetricsHandler http.Handler
	AuditLogger    audit.Logger
	Metrics        *metrics.Metrics
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = audit.Nop{}
	}
	return &Handler{
		sessions:       cfg.Sessions,
		proxy:          cfg.Proxy,
		clients:        cfg.Clients,
		toolChannel:    cfg.ToolChannel,
		metricsHandler: cfg.MetricsHandler,
		auditLogger:    cfg.AuditLogger,
		metrics:        cfg.Metrics,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", h.HealthCheck)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}
	if h.toolChannel != nil {
		r.Method(http.MethodPost, "/mcp", h.toolChannel)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.SessionAuthMiddleware)

		r.Post("/proxy", h.Proxy)
		r.Post("/attachments", h.UploadAttachment)
		r.Get("/attachments/{attachmentID}", h.DownloadAttachment)
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Proxy runs one proxy request for the session token's document.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tok := GetSessionToken(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxProxyBodyBytes))
	if err != nil {
		h.finishProxy(w, r, tok, "invalid", start, nil,
			proxy.NewError(proxy.CodeInvalidRequest, "Request body too large"))
		return
	}

	data, err := h.proxy.Handle(r.Context(), body, tok)
	h.finishProxy(w, r, tok, methodLabel(body), start, data, err)
}

func (h *Handler) finishProxy(w http.ResponseWriter, r *http.Request, tok *session.Token, method string, start time.Time, data map[string]any, err error) {
	elapsed := time.Since(start)

	if err != nil {
		pe := proxy.AsError(err)
		h.metrics.RecordProxyRequest(method, string(pe.Code), elapsed)
		slog.InfoContext(r.Context(), "proxy request failed",
			logger.Agent(tok.AgentName),
			logger.Document(tok.Document),
			logger.Method(method),
			logger.ErrorType(string(pe.Code)),
			logger.Duration(elapsed.Milliseconds()),
		)
		respondProxyError(w, pe)
		return
	}

	h.metrics.RecordProxyRequest(method, "OK", elapsed)
	slog.InfoContext(r.Context(), "proxy request",
		logger.Agent(tok.AgentName),
		logger.Document(tok.Document),
		logger.Method(method),
		logger.Duration(elapsed.Milliseconds()),
	)
	respondJSON(w, http.StatusOK, proxy.Success(data))
}

// methodLabel keeps metric label values to the known method set.
func methodLabel(body []byte) string {
	m := proxy.Method(gjson.GetBytes(body, "method").String())
	if _, ok := proxy.RequiredPermission(m); ok {
		return string(m)
	}
	return "invalid"
}

// UploadAttachment stores the multipart "file" part in the token's document.
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	tok := GetSessionToken(r.Context())
	if !h.require(w, r, tok, authz.PermissionWrite, "Write permission required for attachment upload") {
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		respondProxyError(w, proxy.NewError(proxy.CodeInvalidRequest, "Content-Type must be multipart/form-data"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondProxyError(w, proxy.NewError(proxy.CodeInvalidRequest, "No file found in request"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondProxyError(w, proxy.NewError(proxy.CodeInvalidRequest, "No file found in request"))
		return
	}

	api, err := h.clients.Client(tok.Document)
	if err != nil {
		respondProxyError(w, proxy.AsError(err))
		return
	}

	att, err := api.UploadAttachment(r.Context(), header.Filename, partContentType(header.Header.Get("Content-Type"), header.Filename), content)
	if err != nil {
		slog.WarnContext(r.Context(), "attachment upload failed",
			logger.Agent(tok.AgentName),
			logger.Document(tok.Document),
			logger.Error(err),
		)
		respondProxyError(w, proxy.AsError(err))
		return
	}

	slog.InfoContext(r.Context(), "attachment uploaded",
		logger.Agent(tok.AgentName),
		logger.Document(tok.Document),
		slog.Int64("attachment_id", att.AttachmentID),
		slog.Int("size_bytes", att.SizeBytes),
	)
	respondJSON(w, http.StatusOK, proxy.Success(att))
}

// DownloadAttachment streams an attachment's bytes from the token's document.
func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	tok := GetSessionToken(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "attachmentID"), 10, 64)
	if err != nil {
		respondProxyError(w, proxy.NewError(proxy.CodeInvalidRequest, "Invalid attachment ID"))
		return
	}

	if !h.require(w, r, tok, authz.PermissionRead, "Read permission required for attachment download") {
		return
	}

	api, err := h.clients.Client(tok.Document)
	if err != nil {
		respondProxyError(w, proxy.AsError(err))
		return
	}

	att, err := api.DownloadAttachment(r.Context(), id)
	if err != nil {
		slog.WarnContext(r.Context(), "attachment download failed",
			logger.Agent(tok.AgentName),
			logger.Document(tok.Document),
			logger.Error(err),
		)
		respondProxyError(w, proxy.AsError(err))
		return
	}

	w.Header().Set("Content-Type", att.ContentType)
	if att.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(att.Content); err != nil {
		slog.DebugContext(r.Context(), "attachment write interrupted", logger.Error(err))
	}
}

func (h *Handler) require(w http.ResponseWriter, r *http.Request, tok *session.Token, perm authz.Permission, message string) bool {
	if tok.HasPermission(perm) {
		return true
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeProxyDenied,
		Agent:     tok.AgentName,
		Document:  tok.Document,
		Surface:   audit.SurfaceProxy,
		IPAddress: audit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata: map[string]any{
			"path":     r.URL.Path,
			"required": perm.String(),
			"granted":  tok.PermissionStrings(),
		},
	})
	respondProxyError(w, proxy.NewError(proxy.CodeUnauthorized, message))
	return false
}

func partContentType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if guessed := mime.TypeByExtension(filepath.Ext(filename)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", logger.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func respondProxyError(w http.ResponseWriter, err *proxy.Error) {
	respondJSON(w, err.Status(), proxy.Failure(err))
}
