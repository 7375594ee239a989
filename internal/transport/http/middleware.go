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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/proxy"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				level := slog.LevelInfo
				if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
					level = slog.LevelDebug
				}
				slog.Log(r.Context(), level, "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SessionAuthMiddleware validates the bearer session token and stores it in
// the request context. Failures use the proxy response envelope.
func (h *Handler) SessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, found := bearerToken(r)
		if !found {
			h.metrics.RecordAuthentication(audit.SurfaceProxy, false)
			respondProxyError(w, proxy.NewError(proxy.CodeInvalidToken, "Missing Authorization header"))
			return
		}

		tok, ok := h.sessions.Validate(token)
		if !ok {
			h.metrics.RecordAuthentication(audit.SurfaceProxy, false)
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:      audit.TypeAuthenticationFailed,
				Surface:   audit.SurfaceProxy,
				IPAddress: audit.ClientIP(r),
				UserAgent: r.UserAgent(),
			})
			slog.WarnContext(r.Context(), "session token rejected",
				logger.Path(r.URL.Path),
				logger.Token(token),
			)
			respondProxyError(w, proxy.NewError(proxy.CodeTokenExpired, "Invalid or expired token"))
			return
		}

		h.metrics.RecordAuthentication(audit.SurfaceProxy, true)
		next.ServeHTTP(w, r.WithContext(WithSessionToken(r.Context(), tok)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}
