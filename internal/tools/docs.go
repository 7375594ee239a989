package tools

import (
	"github.com/opentrusty/gristgate/internal/proxy"
)

const exampleScript = `#!/usr/bin/env python3
import requests
import sys

token = sys.argv[1]
host = sys.argv[2]

response = requests.post(
    f'{host}/api/v1/proxy',
    headers={'Authorization': f'Bearer {token}'},
    json={
        'method': 'add_records',
        'table': 'Orders',
        'records': [{'item': 'Widget', 'qty': 100}]
    }
)
print(response.json())
`

var methodDocs = map[proxy.Method]map[string]any{
	proxy.MethodGetRecords: {
		"description": "Fetch records from a table",
		"fields": map[string]string{
			"table":  "string",
			"filter": "object (optional)",
			"sort":   "string (optional)",
			"limit":  "integer (optional)",
		},
	},
	proxy.MethodSQLQuery: {
		"description": "Run a read-only SQL query",
		"fields":      map[string]string{"query": "string"},
	},
	proxy.MethodListTables: {
		"description": "List all tables in the document",
		"fields":      map[string]string{},
	},
	proxy.MethodDescribeTable: {
		"description": "Get column information for a table",
		"fields":      map[string]string{"table": "string"},
	},
	proxy.MethodAddRecords: {
		"description": "Add records to a table",
		"fields":      map[string]string{"table": "string", "records": "array of objects"},
	},
	proxy.MethodUpdateRecords: {
		"description": "Update existing records",
		"fields":      map[string]string{"table": "string", "records": "array of {id, fields}"},
	},
	proxy.MethodDeleteRecords: {
		"description": "Delete records by ID",
		"fields":      map[string]string{"table": "string", "record_ids": "array of integers"},
	},
	proxy.MethodCreateTable: {
		"description": "Create a new table",
		"fields":      map[string]string{"table_id": "string", "columns": "array of {id, type}"},
	},
	proxy.MethodAddColumn: {
		"description": "Add a column to a table",
		"fields": map[string]string{
			"table":       "string",
			"column_id":   "string",
			"column_type": "string",
			"formula":     "string (optional)",
		},
	},
	proxy.MethodModifyColumn: {
		"description": "Modify a column's type or formula",
		"fields": map[string]string{
			"table":     "string",
			"column_id": "string",
			"type":      "string (optional)",
			"formula":   "string (optional)",
		},
	},
	proxy.MethodDeleteColumn: {
		"description": "Delete a column",
		"fields":      map[string]string{"table": "string", "column_id": "string"},
	},
}

// ProxyDocumentation describes the HTTP proxy API for script authors.
// Each method entry also names the permission it requires.
func ProxyDocumentation() map[string]any {
	methods := make(map[string]any, len(methodDocs))
	for _, m := range proxy.Methods() {
		entry := map[string]any{}
		for k, v := range methodDocs[m] {
			entry[k] = v
		}
		if p, ok := proxy.RequiredPermission(m); ok {
			entry["permission"] = p.String()
		}
		methods[string(m)] = entry
	}

	return map[string]any{
		"description":    "HTTP proxy API for bulk data operations. Use request_session_token to get a short-lived token, then call the proxy endpoint directly from scripts.",
		"endpoint":       "POST /api/v1/proxy",
		"authentication": "Bearer token in Authorization header",
		"request_format": map[string]string{
			"method": "Operation name (required)",
			"table":  "Table name (required for most operations)",
		},
		"methods": methods,
		"response_format": map[string]any{
			"success": map[string]any{"success": true, "data": "..."},
			"error":   map[string]any{"success": false, "error": "message", "code": "ERROR_CODE"},
		},
		"error_codes": []proxy.Code{
			proxy.CodeUnauthorized,
			proxy.CodeInvalidToken,
			proxy.CodeTokenExpired,
			proxy.CodeInvalidRequest,
			proxy.CodeGristError,
		},
		"attachments": map[string]string{
			"upload":   "POST /api/v1/attachments (multipart/form-data, field 'file', requires write)",
			"download": "GET /api/v1/attachments/{id} (requires read)",
		},
		"example_script": exampleScript,
	}
}
