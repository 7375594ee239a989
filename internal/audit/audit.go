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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeAgentAuthenticated   = "agent_authenticated"
	TypeAuthenticationFailed = "authentication_failed"
	TypeSessionTokenIssued   = "session_token_issued"
	TypeSessionTokenDenied   = "session_token_denied"
	TypeProxyDenied          = "proxy_denied"
	TypeToolDenied           = "tool_denied"
)

// Surfaces an event can originate from
const (
	SurfaceTool  = "tool"
	SurfaceProxy = "proxy"
)

// Event represents an auditable action. Token values never go into an
// event; use a truncated form in Metadata if a hint is needed.
type Event struct {
	ID        string
	Type      string
	Agent     string
	Document  string
	Surface   string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// Normalize fills in the ID and timestamp when missing.
func Normalize(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	event = Normalize(event)

	attrs := []any{
		slog.String("audit_id", event.ID),
		slog.String("audit_type", event.Type),
		slog.String("agent", event.Agent),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.Document != "" {
		attrs = append(attrs, slog.String("document", event.Document))
	}
	if event.Surface != "" {
		attrs = append(attrs, slog.String("surface", event.Surface))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if md := RedactMetadata(event.Metadata); len(md) > 0 {
		group := make([]any, 0, len(md))
		for k, v := range md {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// RedactMetadata returns a copy of md with secret-looking values replaced.
func RedactMetadata(md map[string]any) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "credential", "hash"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// Fanout delivers each event to every wrapped logger.
type Fanout []Logger

// Log implements Logger.
func (f Fanout) Log(ctx context.Context, event Event) {
	event = Normalize(event)
	for _, l := range f {
		l.Log(ctx, event)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Log(context.Context, Event) {}
