package proxy

import (
	"slices"

	"github.com/opentrusty/gristgate/internal/authz"
)

// Method names accepted by the proxy.
type Method string

const (
	MethodListTables    Method = "list_tables"
	MethodDescribeTable Method = "describe_table"
	MethodGetRecords    Method = "get_records"
	MethodSQLQuery      Method = "sql_query"
	MethodAddRecords    Method = "add_records"
	MethodUpdateRecords Method = "update_records"
	MethodDeleteRecords Method = "delete_records"
	MethodCreateTable   Method = "create_table"
	MethodAddColumn     Method = "add_column"
	MethodModifyColumn  Method = "modify_column"
	MethodDeleteColumn  Method = "delete_column"
)

var requiredPermission = map[Method]authz.Permission{
	MethodListTables:    authz.PermissionRead,
	MethodDescribeTable: authz.PermissionRead,
	MethodGetRecords:    authz.PermissionRead,
	MethodSQLQuery:      authz.PermissionRead,

	MethodAddRecords:    authz.PermissionWrite,
	MethodUpdateRecords: authz.PermissionWrite,
	MethodDeleteRecords: authz.PermissionWrite,

	MethodCreateTable:  authz.PermissionSchema,
	MethodAddColumn:    authz.PermissionSchema,
	MethodModifyColumn: authz.PermissionSchema,
	MethodDeleteColumn: authz.PermissionSchema,
}

var tableRequired = map[Method]bool{
	MethodGetRecords:    true,
	MethodDescribeTable: true,
	MethodAddRecords:    true,
	MethodUpdateRecords: true,
	MethodDeleteRecords: true,
	MethodAddColumn:     true,
	MethodModifyColumn:  true,
	MethodDeleteColumn:  true,
}

// RequiredPermission returns the permission a method needs. ok is false
// for unknown methods.
func RequiredPermission(m Method) (authz.Permission, bool) {
	p, ok := requiredPermission[m]
	return p, ok
}

// RequiresTable reports whether the method needs a "table" field.
func RequiresTable(m Method) bool {
	return tableRequired[m]
}

// Methods returns every known method, sorted.
func Methods() []Method {
	out := make([]Method, 0, len(requiredPermission))
	for m := range requiredPermission {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}
