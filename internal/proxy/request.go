package proxy

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/opentrusty/gristgate/internal/grist"
)

// Operation is a parsed proxy request. The set of implementations is
// closed; Dispatch switches over all of them.
type Operation interface {
	Method() Method
	operation()
}

type ListTables struct{}

type DescribeTable struct {
	Table string
}

type GetRecords struct {
	Table  string
	Filter map[string]any
	Sort   string
	Limit  int
}

type SQLQuery struct {
	Query string
}

type AddRecords struct {
	Table   string
	Records []grist.Record
}

type UpdateRecords struct {
	Table   string
	Records []grist.RecordUpdate
}

type DeleteRecords struct {
	Table     string
	RecordIDs []int64
}

type CreateTable struct {
	TableID string
	Columns []grist.ColumnSpec
}

type AddColumn struct {
	Table      string
	ColumnID   string
	ColumnType string
	Formula    string
}

// ModifyColumn leaves Type or Formula unchanged when nil.
type ModifyColumn struct {
	Table    string
	ColumnID string
	Type     *string
	Formula  *string
}

type DeleteColumn struct {
	Table    string
	ColumnID string
}

func (ListTables) Method() Method    { return MethodListTables }
func (DescribeTable) Method() Method { return MethodDescribeTable }
func (GetRecords) Method() Method    { return MethodGetRecords }
func (SQLQuery) Method() Method      { return MethodSQLQuery }
func (AddRecords) Method() Method    { return MethodAddRecords }
func (UpdateRecords) Method() Method { return MethodUpdateRecords }
func (DeleteRecords) Method() Method { return MethodDeleteRecords }
func (CreateTable) Method() Method   { return MethodCreateTable }
func (AddColumn) Method() Method     { return MethodAddColumn }
func (ModifyColumn) Method() Method  { return MethodModifyColumn }
func (DeleteColumn) Method() Method  { return MethodDeleteColumn }

func (ListTables) operation()    {}
func (DescribeTable) operation() {}
func (GetRecords) operation()    {}
func (SQLQuery) operation()      {}
func (AddRecords) operation()    {}
func (UpdateRecords) operation() {}
func (DeleteRecords) operation() {}
func (CreateTable) operation()   {}
func (AddColumn) operation()     {}
func (ModifyColumn) operation()  {}
func (DeleteColumn) operation()  {}

// Parse validates a raw request body and decodes it into an Operation.
// Every failure is INVALID_REQUEST and happens before any permission
// check or upstream call.
func Parse(body []byte) (Operation, error) {
	if !gjson.ValidBytes(body) {
		return nil, invalidRequest("Invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, invalidRequest("Request body must be a JSON object")
	}

	m := root.Get("method")
	if !m.Exists() {
		return nil, invalidRequest("Missing required field: method")
	}
	if m.Type != gjson.String {
		return nil, invalidRequest("Field 'method' must be a string")
	}
	method := Method(m.Str)
	if _, ok := RequiredPermission(method); !ok {
		return nil, invalidRequest("Unknown method: %s", m.Str)
	}

	p := fields{root: root}
	if RequiresTable(method) {
		if !root.Get("table").Exists() {
			return nil, invalidRequest("Missing required field 'table' for method '%s'", method)
		}
	}
	table := p.string("table")

	var op Operation
	switch method {
	case MethodListTables:
		op = ListTables{}
	case MethodDescribeTable:
		op = DescribeTable{Table: table}
	case MethodGetRecords:
		o := GetRecords{Table: table, Sort: p.string("sort")}
		p.decode("filter", &o.Filter)
		p.decode("limit", &o.Limit)
		op = o
	case MethodSQLQuery:
		op = SQLQuery{Query: p.string("query")}
	case MethodAddRecords:
		o := AddRecords{Table: table}
		p.decode("records", &o.Records)
		op = o
	case MethodUpdateRecords:
		o := UpdateRecords{Table: table}
		p.decode("records", &o.Records)
		op = o
	case MethodDeleteRecords:
		o := DeleteRecords{Table: table}
		p.decode("record_ids", &o.RecordIDs)
		op = o
	case MethodCreateTable:
		o := CreateTable{TableID: p.string("table_id")}
		p.decode("columns", &o.Columns)
		op = o
	case MethodAddColumn:
		op = AddColumn{
			Table:      table,
			ColumnID:   p.string("column_id"),
			ColumnType: p.string("column_type"),
			Formula:    p.string("formula"),
		}
	case MethodModifyColumn:
		op = ModifyColumn{
			Table:    table,
			ColumnID: p.string("column_id"),
			Type:     p.optionalString("type"),
			Formula:  p.optionalString("formula"),
		}
	case MethodDeleteColumn:
		op = DeleteColumn{Table: table, ColumnID: p.string("column_id")}
	}

	if p.err != nil {
		return nil, p.err
	}
	return op, nil
}

// fields decodes optional body fields, keeping the first type error.
type fields struct {
	root gjson.Result
	err  error
}

func (f *fields) present(name string) (gjson.Result, bool) {
	r := f.root.Get(name)
	return r, r.Exists() && r.Type != gjson.Null
}

func (f *fields) fail(name, want string) {
	if f.err == nil {
		f.err = invalidRequest("Field '%s' must be %s", name, want)
	}
}

func (f *fields) string(name string) string {
	r, ok := f.present(name)
	if !ok {
		return ""
	}
	if r.Type != gjson.String {
		f.fail(name, "a string")
		return ""
	}
	return r.Str
}

func (f *fields) optionalString(name string) *string {
	r, ok := f.present(name)
	if !ok {
		return nil
	}
	if r.Type != gjson.String {
		f.fail(name, "a string")
		return nil
	}
	s := r.Str
	return &s
}

func (f *fields) decode(name string, dst any) {
	r, ok := f.present(name)
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(r.Raw), dst); err != nil {
		f.fail(name, "of the documented type")
	}
}
