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

package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/grist"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/observability/tracing"
	"github.com/opentrusty/gristgate/internal/session"
)

// Dispatcher checks a parsed operation against a session token and runs it
// against the token's document.
type Dispatcher struct {
	clients     grist.Provider
	tracer      *tracing.Tracer
	auditLogger audit.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t *tracing.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// WithAuditLogger records permission denials.
func WithAuditLogger(l audit.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.auditLogger = l
	}
}

// NewDispatcher creates a dispatcher over clients.
func NewDispatcher(clients grist.Provider, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		clients:     clients,
		tracer:      tracing.Noop(),
		auditLogger: audit.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle parses body and dispatches it.
func (d *Dispatcher) Handle(ctx context.Context, body []byte, tok *session.Token) (map[string]any, error) {
	op, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, op, tok)
}

// Dispatch authorizes op against the permissions carried by tok only, then
// executes it. Upstream and document resolution failures are returned as
// GRIST_ERROR.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation, tok *session.Token) (data map[string]any, err error) {
	method := op.Method()

	ctx, span := d.tracer.Start(ctx, "proxy."+string(method))
	span.SetAttributes(
		attribute.String("gristgate.document", tok.Document),
		attribute.String("gristgate.agent", tok.AgentName),
	)
	defer func() { tracing.End(span, err) }()

	perm, ok := RequiredPermission(method)
	if !ok {
		return nil, invalidRequest("Unknown method: %s", method)
	}
	if !tok.HasPermission(perm) {
		d.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeProxyDenied,
			Agent:    tok.AgentName,
			Document: tok.Document,
			Surface:  audit.SurfaceProxy,
			Metadata: map[string]any{
				"method":   string(method),
				"required": perm.String(),
				"granted":  tok.PermissionStrings(),
			},
		})
		return nil, newError(CodeUnauthorized, "Permission '%s' required for %s", perm, method)
	}

	api, err := d.clients.Client(tok.Document)
	if err != nil {
		return nil, upstreamError(err)
	}

	data, err = execute(ctx, api, op)
	if err != nil {
		slog.WarnContext(ctx, "proxy upstream call failed",
			logger.Agent(tok.AgentName),
			logger.Document(tok.Document),
			logger.Method(string(method)),
			logger.Error(err),
		)
		return nil, upstreamError(err)
	}
	return data, nil
}

func execute(ctx context.Context, api grist.API, op Operation) (map[string]any, error) {
	switch o := op.(type) {
	case ListTables:
		tables, err := api.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tables": tables}, nil

	case DescribeTable:
		cols, err := api.DescribeTable(ctx, o.Table)
		if err != nil {
			return nil, err
		}
		return map[string]any{"table": o.Table, "columns": cols}, nil

	case GetRecords:
		records, err := api.GetRecords(ctx, o.Table, o.Filter, o.Sort, o.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": records}, nil

	case SQLQuery:
		records, err := api.SQLQuery(ctx, o.Query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": records}, nil

	case AddRecords:
		ids, err := api.AddRecords(ctx, o.Table, o.Records)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record_ids": ids}, nil

	case UpdateRecords:
		if err := api.UpdateRecords(ctx, o.Table, o.Records); err != nil {
			return nil, err
		}
		return map[string]any{"updated": true}, nil

	case DeleteRecords:
		if err := api.DeleteRecords(ctx, o.Table, o.RecordIDs); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil

	case CreateTable:
		id, err := api.CreateTable(ctx, o.TableID, o.Columns)
		if err != nil {
			return nil, err
		}
		return map[string]any{"table_id": id}, nil

	case AddColumn:
		id, err := api.AddColumn(ctx, o.Table, o.ColumnID, o.ColumnType, o.Formula)
		if err != nil {
			return nil, err
		}
		return map[string]any{"column_id": id}, nil

	case ModifyColumn:
		if err := api.ModifyColumn(ctx, o.Table, o.ColumnID, o.Type, o.Formula); err != nil {
			return nil, err
		}
		return map[string]any{"modified": true}, nil

	case DeleteColumn:
		if err := api.DeleteColumn(ctx, o.Table, o.ColumnID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	}

	return nil, fmt.Errorf("unhandled operation %T", op)
}
