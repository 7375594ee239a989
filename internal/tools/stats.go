package tools

import (
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
)

// Stats summarises a tool call for the request log, e.g. "3 records".
// Counts come from the result for reads and from the arguments for writes.
func Stats(tool string, args []byte, result any) string {
	count := func(n int, unit string) string {
		return fmt.Sprintf("%d %s", n, unit)
	}
	resultLen := func(key string) int {
		if m, ok := result.(map[string]any); ok {
			return lenOf(m[key])
		}
		return 0
	}
	argLen := func(key string) int {
		r := gjson.GetBytes(args, key)
		if !r.IsArray() {
			return 0
		}
		return len(r.Array())
	}

	switch tool {
	case "list_documents":
		return count(resultLen("documents"), "docs")
	case "list_tables":
		return count(resultLen("tables"), "tables")
	case "describe_table":
		return count(resultLen("columns"), "columns")
	case "get_records":
		return count(resultLen("records"), "records")
	case "sql_query":
		return count(resultLen("records"), "rows")
	case "add_records", "update_records":
		return count(argLen("records"), "records")
	case "delete_records":
		return count(argLen("record_ids"), "records")
	case "create_table":
		return count(argLen("columns"), "columns")
	case "add_column", "modify_column", "delete_column":
		return "1 column"
	}
	return "-"
}

func lenOf(v any) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return 0
}
