package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/grist"
	"github.com/opentrusty/gristgate/internal/session"
)

// call carries what a handler needs. api is set only for tools bound to a
// document permission.
type call struct {
	agent *authz.Agent
	api   grist.API
}

type handlerFunc func(ctx context.Context, s *Service, c *call, raw json.RawMessage) (any, error)

type tool struct {
	name        string
	description string
	// permission is empty for tools that are not bound to one document.
	permission authz.Permission
	schema     map[string]any
	run        handlerFunc
}

// bind decodes validated arguments into A before calling fn.
func bind[A any](fn func(ctx context.Context, s *Service, c *call, args A) (any, error)) handlerFunc {
	return func(ctx context.Context, s *Service, c *call, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, &InvalidArgumentsError{Err: err}
			}
		}
		return fn(ctx, s, c, args)
	}
}

func object(required []string, props map[string]any) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

var (
	str      = map[string]any{"type": "string"}
	integer  = map[string]any{"type": "integer"}
	document = map[string]any{"type": "string", "description": "Document name"}
)

type tableArgs struct {
	Document string `json:"document"`
	Table    string `json:"table"`
}

type getRecordsArgs struct {
	tableArgs
	Filter map[string]any `json:"filter"`
	Sort   string         `json:"sort"`
	Limit  int            `json:"limit"`
}

type sqlArgs struct {
	Document string `json:"document"`
	Query    string `json:"query"`
}

type addRecordsArgs struct {
	tableArgs
	Records []grist.Record `json:"records"`
}

type updateRecordsArgs struct {
	tableArgs
	Records []grist.RecordUpdate `json:"records"`
}

type deleteRecordsArgs struct {
	tableArgs
	RecordIDs []int64 `json:"record_ids"`
}

type uploadArgs struct {
	Document      string `json:"document"`
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
	ContentType   string `json:"content_type"`
}

type createTableArgs struct {
	Document string             `json:"document"`
	TableID  string             `json:"table_id"`
	Columns  []grist.ColumnSpec `json:"columns"`
}

type columnArgs struct {
	tableArgs
	ColumnID   string  `json:"column_id"`
	ColumnType string  `json:"column_type"`
	Type       *string `json:"type"`
	Formula    *string `json:"formula"`
}

type sessionTokenArgs struct {
	Document    string   `json:"document"`
	Permissions []string `json:"permissions"`
	TTLSeconds  int      `json:"ttl_seconds"`
}

func catalogue() []tool {
	return []tool{
		{
			name:        "list_documents",
			description: "List documents this agent can access with their permissions",
			schema:      object(nil, map[string]any{}),
			run: func(_ context.Context, s *Service, c *call, _ json.RawMessage) (any, error) {
				return map[string]any{"documents": s.authorizer.AccessibleDocuments(c.agent)}, nil
			},
		},
		{
			name:        "list_tables",
			description: "List all tables in a document",
			permission:  authz.PermissionRead,
			schema:      object([]string{"document"}, map[string]any{"document": document}),
			run: func(ctx context.Context, _ *Service, c *call, _ json.RawMessage) (any, error) {
				tables, err := c.api.ListTables(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"tables": tables}, nil
			},
		},
		{
			name:        "describe_table",
			description: "Get column information for a table",
			permission:  authz.PermissionRead,
			schema:      object([]string{"document", "table"}, map[string]any{"document": document, "table": str}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a tableArgs) (any, error) {
				cols, err := c.api.DescribeTable(ctx, a.Table)
				if err != nil {
					return nil, err
				}
				return map[string]any{"table": a.Table, "columns": cols}, nil
			}),
		},
		{
			name:        "get_records",
			description: "Fetch records from a table",
			permission:  authz.PermissionRead,
			schema: object([]string{"document", "table"}, map[string]any{
				"document": document,
				"table":    str,
				"filter":   map[string]any{"type": "object"},
				"sort":     str,
				"limit":    integer,
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a getRecordsArgs) (any, error) {
				records, err := c.api.GetRecords(ctx, a.Table, a.Filter, a.Sort, a.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"records": records}, nil
			}),
		},
		{
			name:        "sql_query",
			description: "Run a read-only SQL query against a document",
			permission:  authz.PermissionRead,
			schema:      object([]string{"document", "query"}, map[string]any{"document": document, "query": str}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a sqlArgs) (any, error) {
				records, err := c.api.SQLQuery(ctx, a.Query)
				if err != nil {
					return nil, err
				}
				return map[string]any{"records": records}, nil
			}),
		},
		{
			name:        "add_records",
			description: "Add records to a table",
			permission:  authz.PermissionWrite,
			schema: object([]string{"document", "table", "records"}, map[string]any{
				"document": document,
				"table":    str,
				"records":  map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a addRecordsArgs) (any, error) {
				ids, err := c.api.AddRecords(ctx, a.Table, a.Records)
				if err != nil {
					return nil, err
				}
				return map[string]any{"inserted_ids": ids}, nil
			}),
		},
		{
			name:        "update_records",
			description: "Update existing records",
			permission:  authz.PermissionWrite,
			schema: object([]string{"document", "table", "records"}, map[string]any{
				"document": document,
				"table":    str,
				"records": map[string]any{
					"type": "array",
					"items": object([]string{"id", "fields"}, map[string]any{
						"id":     integer,
						"fields": map[string]any{"type": "object"},
					}),
				},
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a updateRecordsArgs) (any, error) {
				if err := c.api.UpdateRecords(ctx, a.Table, a.Records); err != nil {
					return nil, err
				}
				return map[string]any{"updated": true}, nil
			}),
		},
		{
			name:        "delete_records",
			description: "Delete records by ID",
			permission:  authz.PermissionWrite,
			schema: object([]string{"document", "table", "record_ids"}, map[string]any{
				"document":   document,
				"table":      str,
				"record_ids": map[string]any{"type": "array", "items": integer},
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a deleteRecordsArgs) (any, error) {
				if err := c.api.DeleteRecords(ctx, a.Table, a.RecordIDs); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": true}, nil
			}),
		},
		{
			name:        "upload_attachment",
			description: "Upload a file attachment to a document. Content is base64 encoded; the MIME type is guessed from the filename when omitted.",
			permission:  authz.PermissionWrite,
			schema: object([]string{"document", "filename", "content_base64"}, map[string]any{
				"document":       document,
				"filename":       str,
				"content_base64": str,
				"content_type":   str,
			}),
			run: bind(uploadAttachment),
		},
		{
			name:        "create_table",
			description: "Create a new table with columns",
			permission:  authz.PermissionSchema,
			schema: object([]string{"document", "table_id", "columns"}, map[string]any{
				"document": document,
				"table_id": str,
				"columns": map[string]any{
					"type":  "array",
					"items": object([]string{"id", "type"}, map[string]any{"id": str, "type": str}),
				},
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a createTableArgs) (any, error) {
				id, err := c.api.CreateTable(ctx, a.TableID, a.Columns)
				if err != nil {
					return nil, err
				}
				return map[string]any{"table_id": id}, nil
			}),
		},
		{
			name:        "add_column",
			description: "Add a column to a table",
			permission:  authz.PermissionSchema,
			schema: object([]string{"document", "table", "column_id", "column_type"}, map[string]any{
				"document":    document,
				"table":       str,
				"column_id":   str,
				"column_type": str,
				"formula":     str,
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a columnArgs) (any, error) {
				formula := ""
				if a.Formula != nil {
					formula = *a.Formula
				}
				id, err := c.api.AddColumn(ctx, a.Table, a.ColumnID, a.ColumnType, formula)
				if err != nil {
					return nil, err
				}
				return map[string]any{"column_id": id}, nil
			}),
		},
		{
			name:        "modify_column",
			description: "Modify a column's type or formula",
			permission:  authz.PermissionSchema,
			schema: object([]string{"document", "table", "column_id"}, map[string]any{
				"document":  document,
				"table":     str,
				"column_id": str,
				"type":      str,
				"formula":   str,
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a columnArgs) (any, error) {
				if err := c.api.ModifyColumn(ctx, a.Table, a.ColumnID, a.Type, a.Formula); err != nil {
					return nil, err
				}
				return map[string]any{"modified": true}, nil
			}),
		},
		{
			name:        "delete_column",
			description: "Delete a column from a table",
			permission:  authz.PermissionSchema,
			schema: object([]string{"document", "table", "column_id"}, map[string]any{
				"document":  document,
				"table":     str,
				"column_id": str,
			}),
			run: bind(func(ctx context.Context, _ *Service, c *call, a columnArgs) (any, error) {
				if err := c.api.DeleteColumn(ctx, a.Table, a.ColumnID); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": true}, nil
			}),
		},
		{
			name: "request_session_token",
			description: "Create a short-lived token for the HTTP proxy. The token is limited to one document " +
				"and to permissions this agent already holds on it. TTL defaults to 300 seconds, maximum 3600.",
			schema: object([]string{"document", "permissions"}, map[string]any{
				"document": document,
				"permissions": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Any of read, write, schema",
				},
				"ttl_seconds": map[string]any{"type": "integer", "description": "Token lifetime in seconds"},
			}),
			run: bind(requestSessionToken),
		},
		{
			name:        "get_proxy_documentation",
			description: "Get documentation for the HTTP proxy API used with session tokens",
			schema:      object(nil, map[string]any{}),
			run: func(context.Context, *Service, *call, json.RawMessage) (any, error) {
				return ProxyDocumentation(), nil
			},
		},
	}
}

func uploadAttachment(ctx context.Context, _ *Service, c *call, a uploadArgs) (any, error) {
	content, err := base64.StdEncoding.DecodeString(a.ContentBase64)
	if err != nil {
		return nil, &InvalidArgumentsError{Err: fmt.Errorf("invalid base64 encoding")}
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(a.Filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return c.api.UploadAttachment(ctx, a.Filename, contentType, content)
}

func requestSessionToken(ctx context.Context, s *Service, c *call, a sessionTokenArgs) (any, error) {
	ttl := time.Duration(min(a.TTLSeconds, int(session.MaxTTL/time.Second))) * time.Second
	tok, err := s.issuer.Issue(ctx, c.agent, a.Document, a.Permissions, ttl)
	if err != nil {
		if isAuthzError(err) {
			return nil, &AuthorizationError{Err: err}
		}
		return nil, err
	}

	return map[string]any{
		"token":       tok.Token,
		"document":    tok.Document,
		"permissions": tok.PermissionStrings(),
		"expires_at":  tok.ExpiresAt.UTC().Format(time.RFC3339),
		"proxy_url":   s.proxyURL,
	}, nil
}
