package grist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/gristgate/internal/authz"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Auth   string
	Body   []byte
	CT     string
}

// newTestServer answers every request with status and body, recording the request.
func newTestServer(t *testing.T, status int, body string) (*Client, *[]capturedRequest) {
	t.Helper()

	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		reqs = append(reqs, capturedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.Query(),
			Auth:   r.Header.Get("Authorization"),
			Body:   b,
			CT:     r.Header.Get("Content-Type"),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(authz.Document{URL: srv.URL + "/", DocID: "doc1", APIKey: "grist-key"}, WithHTTPClient(srv.Client()))
	return c, &reqs
}

func TestClient_ListTables(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"tables":[{"id":"People"},{"id":"Orders"}]}`)

	tables, err := c.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"People", "Orders"}, tables)

	require.Len(t, *reqs, 1)
	r := (*reqs)[0]
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Equal(t, "/api/docs/doc1/tables", r.Path)
	assert.Equal(t, "Bearer grist-key", r.Auth)
}

func TestClient_DescribeTable_DefaultsType(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK,
		`{"columns":[{"id":"Name","fields":{"type":"Text","formula":""}},{"id":"Total","fields":{"formula":"$A+$B"}}]}`)

	cols, err := c.DescribeTable(context.Background(), "People")
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{ID: "Name", Type: "Text"},
		{ID: "Total", Type: "Any", Formula: "$A+$B"},
	}, cols)
	assert.Equal(t, "/api/docs/doc1/tables/People/columns", (*reqs)[0].Path)
}

func TestClient_GetRecords(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK,
		`{"records":[{"id":1,"fields":{"Name":"Alice","Age":30}}]}`)

	records, err := c.GetRecords(context.Background(), "People",
		map[string]any{"Name": "Alice", "Age": []any{30.0, 31.0}}, "-Age", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0]["id"])
	assert.Equal(t, "Alice", records[0]["Name"])

	r := (*reqs)[0]
	assert.Equal(t, "/api/docs/doc1/tables/People/records", r.Path)
	assert.Equal(t, "-Age", r.Query["sort"][0])
	assert.Equal(t, "10", r.Query["limit"][0])

	var filter map[string][]any
	require.NoError(t, json.Unmarshal([]byte(r.Query["filter"][0]), &filter))
	assert.Equal(t, []any{"Alice"}, filter["Name"])
	assert.Equal(t, []any{30.0, 31.0}, filter["Age"])
}

func TestClient_GetRecords_NoParams(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"records":[]}`)

	records, err := c.GetRecords(context.Background(), "People", nil, "", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, (*reqs)[0].Query)
}

func TestClient_SQLQuery(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"records":[{"fields":{"n":3}}]}`)

	records, err := c.SQLQuery(context.Background(), "SELECT count(*) AS n FROM People")
	require.NoError(t, err)
	assert.Equal(t, []Record{{"n": 3.0}}, records)
	assert.Equal(t, "/api/docs/doc1/sql", (*reqs)[0].Path)
	assert.Equal(t, "SELECT count(*) AS n FROM People", (*reqs)[0].Query["q"][0])
}

func TestClient_AddRecords(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"records":[{"id":7},{"id":8}]}`)

	ids, err := c.AddRecords(context.Background(), "People", []Record{{"Name": "A"}, {"Name": "B"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, ids)

	r := (*reqs)[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "application/json", r.CT)
	assert.JSONEq(t, `{"records":[{"fields":{"Name":"A"}},{"fields":{"Name":"B"}}]}`, string(r.Body))
}

func TestClient_UpdateRecords(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, ``)

	err := c.UpdateRecords(context.Background(), "People", []RecordUpdate{{ID: 1, Fields: map[string]any{"Age": 31}}})
	require.NoError(t, err)

	r := (*reqs)[0]
	assert.Equal(t, http.MethodPatch, r.Method)
	assert.JSONEq(t, `{"records":[{"id":1,"fields":{"Age":31}}]}`, string(r.Body))
}

func TestClient_DeleteRecords(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `null`)

	require.NoError(t, c.DeleteRecords(context.Background(), "People", []int64{1, 2}))

	r := (*reqs)[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "/api/docs/doc1/tables/People/data/delete", r.Path)
	assert.JSONEq(t, `[1,2]`, string(r.Body))
}

func TestClient_SchemaOperations(t *testing.T) {
	t.Run("create table", func(t *testing.T) {
		c, reqs := newTestServer(t, http.StatusOK, `{"tables":[{"id":"Tasks"}]}`)
		id, err := c.CreateTable(context.Background(), "Tasks", []ColumnSpec{{ID: "Title", Type: "Text"}})
		require.NoError(t, err)
		assert.Equal(t, "Tasks", id)
		assert.JSONEq(t, `{"tables":[{"id":"Tasks","columns":[{"id":"Title","fields":{"type":"Text"}}]}]}`, string((*reqs)[0].Body))
	})

	t.Run("add column", func(t *testing.T) {
		c, reqs := newTestServer(t, http.StatusOK, `{"columns":[{"id":"Due"}]}`)
		id, err := c.AddColumn(context.Background(), "Tasks", "Due", "Date", "")
		require.NoError(t, err)
		assert.Equal(t, "Due", id)
		assert.JSONEq(t, `{"columns":[{"id":"Due","fields":{"type":"Date"}}]}`, string((*reqs)[0].Body))
	})

	t.Run("modify column", func(t *testing.T) {
		c, reqs := newTestServer(t, http.StatusOK, `{}`)
		formula := "$A * 2"
		require.NoError(t, c.ModifyColumn(context.Background(), "Tasks", "Due", nil, &formula))
		r := (*reqs)[0]
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/docs/doc1/tables/Tasks/columns/Due", r.Path)
		assert.JSONEq(t, `{"fields":{"formula":"$A * 2"}}`, string(r.Body))
	})

	t.Run("delete column", func(t *testing.T) {
		c, reqs := newTestServer(t, http.StatusOK, ``)
		require.NoError(t, c.DeleteColumn(context.Background(), "Tasks", "Due"))
		assert.Equal(t, http.MethodDelete, (*reqs)[0].Method)
	})
}

func TestClient_UpstreamError(t *testing.T) {
	c, _ := newTestServer(t, http.StatusNotFound, `{"error":"Table not found"}`)

	_, err := c.ListTables(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Table not found")
}

func TestClient_EscapesPathSegments(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, `{"columns":[]}`)

	_, err := c.DescribeTable(context.Background(), "../admin")
	require.NoError(t, err)
	assert.Equal(t, "/api/docs/doc1/tables/..%2Fadmin/columns", (*reqs)[0].Path)
}

func TestClient_Attachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/docs/doc1/attachments":
			f, hdr, err := r.FormFile("upload")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer f.Close()
			assert.Equal(t, "report.pdf", hdr.Filename)
			_, _ = io.WriteString(w, `[42]`)
		case r.URL.Path == "/api/docs/doc1/attachments/42":
			_, _ = io.WriteString(w, `{"fileName":"report.pdf","fileSize":5}`)
		case r.URL.Path == "/api/docs/doc1/attachments/42/download":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = io.WriteString(w, "%PDF-")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(authz.Document{URL: srv.URL, DocID: "doc1", APIKey: "k"}, WithHTTPClient(srv.Client()))

	att, err := c.UploadAttachment(context.Background(), "report.pdf", "application/pdf", []byte("%PDF-"))
	require.NoError(t, err)
	assert.Equal(t, &Attachment{AttachmentID: 42, Filename: "report.pdf", SizeBytes: 5}, att)

	got, err := c.DownloadAttachment(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, "application/pdf", got.ContentType)
	assert.Equal(t, []byte("%PDF-"), got.Content)
}

func TestNormalizeFilter(t *testing.T) {
	assert.Nil(t, NormalizeFilter(nil))
	assert.Nil(t, NormalizeFilter(map[string]any{}))
	assert.Equal(t,
		map[string][]any{"Status": {"open"}, "Priority": {1.0, 2.0}, "Done": {false}},
		NormalizeFilter(map[string]any{"Status": "open", "Priority": []any{1.0, 2.0}, "Done": false}),
	)
}

type stubResolver map[string]authz.Document

func (s stubResolver) Document(name string) (authz.Document, error) {
	d, ok := s[name]
	if !ok {
		return authz.Document{}, authz.ErrDocumentNotConfigured
	}
	return d, nil
}

func TestConnector_Client(t *testing.T) {
	conn := NewConnector(stubResolver{"budget": {URL: "https://grist.example.com", DocID: "abc"}})

	api, err := conn.Client("budget")
	require.NoError(t, err)
	assert.Equal(t, "https://grist.example.com/api/docs/abc", api.(*Client).baseURL)

	_, err = conn.Client("missing")
	assert.ErrorIs(t, err, authz.ErrDocumentNotConfigured)
}
