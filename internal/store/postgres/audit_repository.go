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

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/observability/logger"
)

// AuditRepository persists audit events. It implements audit.Logger.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Logger = (*AuditRepository)(nil)

// Log stores the event. Failures are logged and never reach the caller.
func (r *AuditRepository) Log(ctx context.Context, event audit.Event) {
	if err := r.Insert(ctx, event); err != nil {
		slog.ErrorContext(ctx, "failed to persist audit event",
			logger.Component("audit"),
			slog.String("audit_type", event.Type),
			logger.Error(err),
		)
	}
}

// Insert stores the event with secret-looking metadata redacted.
func (r *AuditRepository) Insert(ctx context.Context, event audit.Event) error {
	event = audit.Normalize(event)

	metadata := []byte("{}")
	if md := audit.RedactMetadata(event.Metadata); md != nil {
		var err error
		if metadata, err = json.Marshal(md); err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO audit_events (id, type, agent, document, surface, metadata, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		event.ID, event.Type, event.Agent, event.Document, event.Surface,
		metadata, event.IPAddress, event.UserAgent, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns the newest events first, optionally limited to one agent.
func (r *AuditRepository) Recent(ctx context.Context, agent string, limit int) ([]audit.Event, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id::text, type, agent, document, surface, metadata, ip_address, user_agent, created_at
		FROM audit_events
		WHERE $1 = '' OR agent = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Event, error) {
		var (
			e        audit.Event
			metadata []byte
		)
		if err := row.Scan(&e.ID, &e.Type, &e.Agent, &e.Document, &e.Surface,
			&metadata, &e.IPAddress, &e.UserAgent, &e.Timestamp); err != nil {
			return e, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return e, err
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit events: %w", err)
	}
	return events, nil
}
