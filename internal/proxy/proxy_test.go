package proxy_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/grist"
	"github.com/opentrusty/gristgate/internal/grist/gristtest"
	"github.com/opentrusty/gristgate/internal/proxy"
	"github.com/opentrusty/gristgate/internal/session"
)

func token(perms ...authz.Permission) *session.Token {
	return &session.Token{
		Token:       "sess_test",
		AgentName:   "acct-bot",
		Document:    "budget",
		Permissions: perms,
		ExpiresAt:   time.Now().Add(time.Minute),
	}
}

func requireCode(t *testing.T, err error, code proxy.Code) {
	t.Helper()
	var pe *proxy.Error
	require.True(t, errors.As(err, &pe), "expected *proxy.Error, got %v", err)
	assert.Equal(t, code, pe.Code)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{"method":`, "Invalid JSON"},
		{"not an object", `["get_records"]`, "Request body must be a JSON object"},
		{"missing method", `{"table":"People"}`, "Missing required field: method"},
		{"non-string method", `{"method":5}`, "Field 'method' must be a string"},
		{"unknown method", `{"method":"drop_everything"}`, "Unknown method: drop_everything"},
		{"missing table", `{"method":"get_records"}`, "Missing required field 'table' for method 'get_records'"},
		{"wrong table type", `{"method":"describe_table","table":1}`, "Field 'table' must be a string"},
		{"wrong records type", `{"method":"add_records","table":"T","records":"x"}`, "Field 'records' must be of the documented type"},
		{"wrong limit type", `{"method":"get_records","table":"T","limit":"ten"}`, "Field 'limit' must be of the documented type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := proxy.Parse([]byte(tt.body))
			assert.Nil(t, op)
			requireCode(t, err, proxy.CodeInvalidRequest)
			assert.Equal(t, tt.message, err.(*proxy.Error).Message)
		})
	}
}

func TestParse_TableRequirement(t *testing.T) {
	for _, m := range proxy.Methods() {
		t.Run(string(m), func(t *testing.T) {
			_, err := proxy.Parse([]byte(`{"method":"` + string(m) + `"}`))
			if proxy.RequiresTable(m) {
				requireCode(t, err, proxy.CodeInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParse_Variants(t *testing.T) {
	formula := "$A"
	tests := []struct {
		body string
		want proxy.Operation
	}{
		{`{"method":"list_tables"}`, proxy.ListTables{}},
		{`{"method":"describe_table","table":"People"}`, proxy.DescribeTable{Table: "People"}},
		{
			`{"method":"get_records","table":"People","filter":{"Name":"Alice"},"sort":"Age","limit":5}`,
			proxy.GetRecords{Table: "People", Filter: map[string]any{"Name": "Alice"}, Sort: "Age", Limit: 5},
		},
		{`{"method":"sql_query","query":"SELECT 1"}`, proxy.SQLQuery{Query: "SELECT 1"}},
		{
			`{"method":"add_records","table":"People","records":[{"Name":"Bob"}]}`,
			proxy.AddRecords{Table: "People", Records: []grist.Record{{"Name": "Bob"}}},
		},
		{
			`{"method":"update_records","table":"People","records":[{"id":3,"fields":{"Age":4}}]}`,
			proxy.UpdateRecords{Table: "People", Records: []grist.RecordUpdate{{ID: 3, Fields: map[string]any{"Age": 4.0}}}},
		},
		{
			`{"method":"delete_records","table":"People","record_ids":[1,2]}`,
			proxy.DeleteRecords{Table: "People", RecordIDs: []int64{1, 2}},
		},
		{
			`{"method":"create_table","table_id":"Tasks","columns":[{"id":"Title","type":"Text"}]}`,
			proxy.CreateTable{TableID: "Tasks", Columns: []grist.ColumnSpec{{ID: "Title", Type: "Text"}}},
		},
		{
			`{"method":"add_column","table":"Tasks","column_id":"Due","column_type":"Date"}`,
			proxy.AddColumn{Table: "Tasks", ColumnID: "Due", ColumnType: "Date"},
		},
		{
			`{"method":"modify_column","table":"Tasks","column_id":"Due","formula":"$A"}`,
			proxy.ModifyColumn{Table: "Tasks", ColumnID: "Due", Formula: &formula},
		},
		{`{"method":"delete_column","table":"Tasks","column_id":"Due"}`, proxy.DeleteColumn{Table: "Tasks", ColumnID: "Due"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.want.Method()), func(t *testing.T) {
			op, err := proxy.Parse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestRequiredPermission_Table(t *testing.T) {
	want := map[proxy.Method]authz.Permission{
		proxy.MethodListTables:    authz.PermissionRead,
		proxy.MethodDescribeTable: authz.PermissionRead,
		proxy.MethodGetRecords:    authz.PermissionRead,
		proxy.MethodSQLQuery:      authz.PermissionRead,
		proxy.MethodAddRecords:    authz.PermissionWrite,
		proxy.MethodUpdateRecords: authz.PermissionWrite,
		proxy.MethodDeleteRecords: authz.PermissionWrite,
		proxy.MethodCreateTable:   authz.PermissionSchema,
		proxy.MethodAddColumn:     authz.PermissionSchema,
		proxy.MethodModifyColumn:  authz.PermissionSchema,
		proxy.MethodDeleteColumn:  authz.PermissionSchema,
	}

	assert.Len(t, proxy.Methods(), len(want))
	for m, p := range want {
		got, ok := proxy.RequiredPermission(m)
		assert.True(t, ok, m)
		assert.Equal(t, p, got, m)
	}

	_, ok := proxy.RequiredPermission("drop_table")
	assert.False(t, ok)
}

func TestCodeStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, proxy.CodeInvalidToken.Status())
	assert.Equal(t, http.StatusUnauthorized, proxy.CodeTokenExpired.Status())
	assert.Equal(t, http.StatusBadRequest, proxy.CodeInvalidRequest.Status())
	assert.Equal(t, http.StatusForbidden, proxy.CodeUnauthorized.Status())
	assert.Equal(t, http.StatusInternalServerError, proxy.CodeGristError.Status())
}

// TestPurpose: Validates that a malformed request is rejected before any side effect.
// Scope: Unit Test
// Security: Input validation ordering
// Expected: get_records without table fails INVALID_REQUEST and the upstream client records zero calls.
// Test Case ID: PRX-01
func TestDispatcher_MissingTableMakesNoUpstreamCall(t *testing.T) {
	api := new(gristtest.MockAPI)
	var docs []string
	d := proxy.NewDispatcher(api.Provider(&docs))

	_, err := d.Handle(context.Background(), []byte(`{"method":"get_records"}`), token(authz.PermissionRead))

	requireCode(t, err, proxy.CodeInvalidRequest)
	assert.Empty(t, docs)
	api.AssertNotCalled(t, "GetRecords", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, api.Calls)
}

// TestPurpose: Validates that the dispatcher enforces only the session token's narrowed permissions.
// Scope: Unit Test
// Security: Delegation boundary (CWE-285)
// Expected: A read token fails UNAUTHORIZED for add_records and succeeds for get_records with the exact arguments forwarded.
// Test Case ID: PRX-02
func TestDispatcher_ReadTokenScope(t *testing.T) {
	api := new(gristtest.MockAPI)
	filter := map[string]any{"Status": "open"}
	api.On("GetRecords", mock.Anything, "Orders", filter, "-Date", 10).
		Return([]grist.Record{{"id": int64(1), "Status": "open"}}, nil).Once()

	d := proxy.NewDispatcher(api.Provider(nil))
	tok := token(authz.PermissionRead)

	_, err := d.Handle(context.Background(), []byte(`{"method":"add_records","table":"Orders","records":[{"a":1}]}`), tok)
	requireCode(t, err, proxy.CodeUnauthorized)
	assert.Equal(t, "Permission 'write' required for add_records", err.(*proxy.Error).Message)

	data, err := d.Handle(context.Background(),
		[]byte(`{"method":"get_records","table":"Orders","filter":{"Status":"open"},"sort":"-Date","limit":10}`), tok)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"records": []grist.Record{{"id": int64(1), "Status": "open"}}}, data)

	api.AssertExpectations(t)
	api.AssertNotCalled(t, "AddRecords", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates the delegated write scenario end to end at the dispatcher.
// Scope: Unit Test
// Security: Delegation boundary
// Expected: A write token passes the check for delete_records and fails UNAUTHORIZED for create_table.
// Test Case ID: PRX-03
func TestDispatcher_WriteTokenScenario(t *testing.T) {
	api := new(gristtest.MockAPI)
	api.On("DeleteRecords", mock.Anything, "Expenses", []int64{4}).Return(nil).Once()

	d := proxy.NewDispatcher(api.Provider(nil))
	tok := token(authz.PermissionWrite)

	data, err := d.Handle(context.Background(), []byte(`{"method":"delete_records","table":"Expenses","record_ids":[4]}`), tok)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"deleted": true}, data)

	_, err = d.Handle(context.Background(), []byte(`{"method":"create_table","table_id":"X","columns":[]}`), tok)
	requireCode(t, err, proxy.CodeUnauthorized)

	api.AssertExpectations(t)
}

func TestDispatcher_UpstreamErrorsAreWrapped(t *testing.T) {
	api := new(gristtest.MockAPI)
	api.On("ListTables", mock.Anything).Return(nil, &grist.APIError{StatusCode: 502, Body: "bad gateway"}).Once()

	d := proxy.NewDispatcher(api.Provider(nil))
	_, err := d.Dispatch(context.Background(), proxy.ListTables{}, token(authz.PermissionRead))

	requireCode(t, err, proxy.CodeGristError)
	assert.Equal(t, http.StatusInternalServerError, err.(*proxy.Error).Status())
	assert.Contains(t, err.(*proxy.Error).Message, "bad gateway")
}

func TestDispatcher_DocumentResolutionFailure(t *testing.T) {
	provider := grist.ProviderFunc(func(string) (grist.API, error) {
		return nil, authz.ErrDocumentNotConfigured
	})
	d := proxy.NewDispatcher(provider)

	_, err := d.Dispatch(context.Background(), proxy.ListTables{}, token(authz.PermissionRead))
	requireCode(t, err, proxy.CodeGristError)
	assert.ErrorIs(t, err, authz.ErrDocumentNotConfigured)
}

func TestDispatcher_ResponseShapes(t *testing.T) {
	formula := "1"
	api := new(gristtest.MockAPI)
	api.On("ListTables", mock.Anything).Return([]string{"A"}, nil)
	api.On("DescribeTable", mock.Anything, "A").Return([]grist.Column{{ID: "c", Type: "Text"}}, nil)
	api.On("SQLQuery", mock.Anything, "SELECT 1").Return([]grist.Record{{"1": 1}}, nil)
	api.On("AddRecords", mock.Anything, "A", []grist.Record{{"x": 1.0}}).Return([]int64{9}, nil)
	api.On("UpdateRecords", mock.Anything, "A", []grist.RecordUpdate{{ID: 9}}).Return(nil)
	api.On("CreateTable", mock.Anything, "B", []grist.ColumnSpec(nil)).Return("B", nil)
	api.On("AddColumn", mock.Anything, "A", "c2", "Int", "").Return("c2", nil)
	api.On("ModifyColumn", mock.Anything, "A", "c2", (*string)(nil), &formula).Return(nil)
	api.On("DeleteColumn", mock.Anything, "A", "c2").Return(nil)

	d := proxy.NewDispatcher(api.Provider(nil))
	tok := token(authz.PermissionRead, authz.PermissionWrite, authz.PermissionSchema)

	tests := []struct {
		op   proxy.Operation
		want map[string]any
	}{
		{proxy.ListTables{}, map[string]any{"tables": []string{"A"}}},
		{proxy.DescribeTable{Table: "A"}, map[string]any{"table": "A", "columns": []grist.Column{{ID: "c", Type: "Text"}}}},
		{proxy.SQLQuery{Query: "SELECT 1"}, map[string]any{"records": []grist.Record{{"1": 1}}}},
		{proxy.AddRecords{Table: "A", Records: []grist.Record{{"x": 1.0}}}, map[string]any{"record_ids": []int64{9}}},
		{proxy.UpdateRecords{Table: "A", Records: []grist.RecordUpdate{{ID: 9}}}, map[string]any{"updated": true}},
		{proxy.CreateTable{TableID: "B"}, map[string]any{"table_id": "B"}},
		{proxy.AddColumn{Table: "A", ColumnID: "c2", ColumnType: "Int"}, map[string]any{"column_id": "c2"}},
		{proxy.ModifyColumn{Table: "A", ColumnID: "c2", Formula: &formula}, map[string]any{"modified": true}},
		{proxy.DeleteColumn{Table: "A", ColumnID: "c2"}, map[string]any{"deleted": true}},
	}

	for _, tt := range tests {
		t.Run(string(tt.op.Method()), func(t *testing.T) {
			data, err := d.Dispatch(context.Background(), tt.op, tok)
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestAsError(t *testing.T) {
	pe := proxy.AsError(errors.New("boom"))
	assert.Equal(t, proxy.CodeGristError, pe.Code)

	resp := proxy.Failure(pe)
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, proxy.CodeGristError, resp.Code)

	ok := proxy.Success(map[string]any{"deleted": true})
	assert.True(t, ok.Success)
}
