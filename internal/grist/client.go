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

package grist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
)

// DefaultTimeout bounds every upstream call.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 4 << 10

var ErrUnexpectedResponse = errors.New("unexpected response from grist")

// APIError is a non-2xx answer from the Grist API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("grist API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("grist API returned %d: %s", e.StatusCode, e.Body)
}

// Record is one row: field name to value, plus "id" when read back.
type Record = map[string]any

// Column describes one table column.
type Column struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Formula string `json:"formula"`
}

// ColumnSpec is a column definition for table creation.
type ColumnSpec struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// RecordUpdate changes the fields of one existing record.
type RecordUpdate struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Attachment is the result of an upload.
type Attachment struct {
	AttachmentID int64  `json:"attachment_id"`
	Filename     string `json:"filename"`
	SizeBytes    int    `json:"size_bytes"`
}

// AttachmentContent is a downloaded attachment.
type AttachmentContent struct {
	Filename    string
	ContentType string
	Content     []byte
}

// API is the set of Grist operations the gateway performs on one document.
type API interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
	GetRecords(ctx context.Context, table string, filter map[string]any, sort string, limit int) ([]Record, error)
	SQLQuery(ctx context.Context, query string) ([]Record, error)

	AddRecords(ctx context.Context, table string, records []Record) ([]int64, error)
	UpdateRecords(ctx context.Context, table string, records []RecordUpdate) error
	DeleteRecords(ctx context.Context, table string, ids []int64) error

	CreateTable(ctx context.Context, tableID string, columns []ColumnSpec) (string, error)
	AddColumn(ctx context.Context, table, columnID, columnType, formula string) (string, error)
	ModifyColumn(ctx context.Context, table, columnID string, columnType, formula *string) error
	DeleteColumn(ctx context.Context, table, columnID string) error

	UploadAttachment(ctx context.Context, filename, contentType string, content []byte) (*Attachment, error)
	DownloadAttachment(ctx context.Context, id int64) (*AttachmentContent, error)
}

// Client talks to the REST API of a single Grist document.
type Client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	instruments *metrics.UpstreamInstruments
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithInstruments records call latency and errors.
func WithInstruments(u *metrics.UpstreamInstruments) ClientOption {
	return func(c *Client) {
		c.instruments = u
	}
}

// NewHTTPClient returns an otelhttp-instrumented client with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewClient creates a client for doc.
func NewClient(doc authz.Document, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(doc.URL, "/") + "/api/docs/" + url.PathEscape(doc.DocID),
		apiKey:  doc.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(DefaultTimeout)
	}
	return c
}

func tablePath(table string, rest ...string) string {
	parts := append([]string{"/tables", url.PathEscape(table)}, rest...)
	return strings.Join(parts, "/")
}

// send issues the request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grist request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// do sends the request and decodes a JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body io.Reader, contentType string, out any) (err error) {
	start := time.Now()
	defer func() {
		c.instruments.Record(ctx, operation, time.Since(start), err)
	}()

	resp, err := c.send(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, operation, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, operation, method, path, nil, body, contentType, out)
}

type rawRecords struct {
	Records []struct {
		ID     int64          `json:"id"`
		Fields map[string]any `json:"fields"`
	} `json:"records"`
}

// ListTables returns table ids in document order.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var data struct {
		Tables []struct {
			ID string `json:"id"`
		} `json:"tables"`
	}
	if err := c.do(ctx, "list_tables", http.MethodGet, "/tables", nil, nil, "", &data); err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(data.Tables))
	for _, t := range data.Tables {
		tables = append(tables, t.ID)
	}
	return tables, nil
}

// DescribeTable returns column metadata. Missing types default to "Any".
func (c *Client) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	var data struct {
		Columns []struct {
			ID     string `json:"id"`
			Fields struct {
				Type    string `json:"type"`
				Formula string `json:"formula"`
			} `json:"fields"`
		} `json:"columns"`
	}
	if err := c.do(ctx, "describe_table", http.MethodGet, tablePath(table, "columns"), nil, nil, "", &data); err != nil {
		return nil, err
	}

	cols := make([]Column, 0, len(data.Columns))
	for _, col := range data.Columns {
		typ := col.Fields.Type
		if typ == "" {
			typ = "Any"
		}
		cols = append(cols, Column{ID: col.ID, Type: typ, Formula: col.Fields.Formula})
	}
	return cols, nil
}

// GetRecords fetches rows, flattening each into its fields plus "id".
// Scalar filter values are wrapped into single-element lists.
func (c *Client) GetRecords(ctx context.Context, table string, filter map[string]any, sort string, limit int) ([]Record, error) {
	query := url.Values{}
	if nf := NormalizeFilter(filter); len(nf) > 0 {
		b, err := json.Marshal(nf)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		query.Set("filter", string(b))
	}
	if sort != "" {
		query.Set("sort", sort)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var data rawRecords
	if err := c.do(ctx, "get_records", http.MethodGet, tablePath(table, "records"), query, nil, "", &data); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(data.Records))
	for _, r := range data.Records {
		rec := make(Record, len(r.Fields)+1)
		rec["id"] = r.ID
		for k, v := range r.Fields {
			rec[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// SQLQuery runs a read-only SQL statement.
func (c *Client) SQLQuery(ctx context.Context, query string) ([]Record, error) {
	var data rawRecords
	if err := c.do(ctx, "sql_query", http.MethodGet, "/sql", url.Values{"q": {query}}, nil, "", &data); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(data.Records))
	for _, r := range data.Records {
		if r.Fields == nil {
			r.Fields = Record{}
		}
		records = append(records, r.Fields)
	}
	return records, nil
}

// AddRecords inserts rows and returns their new ids.
func (c *Client) AddRecords(ctx context.Context, table string, records []Record) ([]int64, error) {
	type fields struct {
		Fields Record `json:"fields"`
	}
	payload := struct {
		Records []fields `json:"records"`
	}{Records: make([]fields, 0, len(records))}
	for _, r := range records {
		payload.Records = append(payload.Records, fields{Fields: r})
	}

	var data rawRecords
	if err := c.doJSON(ctx, "add_records", http.MethodPost, tablePath(table, "records"), payload, &data); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(data.Records))
	for _, r := range data.Records {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// UpdateRecords patches existing rows.
func (c *Client) UpdateRecords(ctx context.Context, table string, records []RecordUpdate) error {
	payload := map[string]any{"records": records}
	return c.doJSON(ctx, "update_records", http.MethodPatch, tablePath(table, "records"), payload, nil)
}

// DeleteRecords removes rows by id.
func (c *Client) DeleteRecords(ctx context.Context, table string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return c.doJSON(ctx, "delete_records", http.MethodPost, tablePath(table, "data", "delete"), ids, nil)
}

// CreateTable creates a table and returns the id Grist assigned.
func (c *Client) CreateTable(ctx context.Context, tableID string, columns []ColumnSpec) (string, error) {
	type colFields struct {
		Type string `json:"type"`
	}
	type col struct {
		ID     string    `json:"id"`
		Fields colFields `json:"fields"`
	}
	cols := make([]col, 0, len(columns))
	for _, cs := range columns {
		cols = append(cols, col{ID: cs.ID, Fields: colFields{Type: cs.Type}})
	}
	payload := map[string]any{
		"tables": []map[string]any{{"id": tableID, "columns": cols}},
	}

	var data struct {
		Tables []struct {
			ID string `json:"id"`
		} `json:"tables"`
	}
	if err := c.doJSON(ctx, "create_table", http.MethodPost, "/tables", payload, &data); err != nil {
		return "", err
	}
	if len(data.Tables) == 0 {
		return "", fmt.Errorf("%w: no table in create response", ErrUnexpectedResponse)
	}
	return data.Tables[0].ID, nil
}

// AddColumn adds a column; an empty formula is omitted.
func (c *Client) AddColumn(ctx context.Context, table, columnID, columnType, formula string) (string, error) {
	fields := map[string]any{"type": columnType}
	if formula != "" {
		fields["formula"] = formula
	}
	payload := map[string]any{
		"columns": []map[string]any{{"id": columnID, "fields": fields}},
	}

	var data struct {
		Columns []struct {
			ID string `json:"id"`
		} `json:"columns"`
	}
	if err := c.doJSON(ctx, "add_column", http.MethodPost, tablePath(table, "columns"), payload, &data); err != nil {
		return "", err
	}
	if len(data.Columns) == 0 {
		return "", fmt.Errorf("%w: no column in add response", ErrUnexpectedResponse)
	}
	return data.Columns[0].ID, nil
}

// ModifyColumn changes type and/or formula. Nil values are left untouched.
func (c *Client) ModifyColumn(ctx context.Context, table, columnID string, columnType, formula *string) error {
	fields := map[string]any{}
	if columnType != nil {
		fields["type"] = *columnType
	}
	if formula != nil {
		fields["formula"] = *formula
	}
	return c.doJSON(ctx, "modify_column", http.MethodPatch, tablePath(table, "columns", url.PathEscape(columnID)), map[string]any{"fields": fields}, nil)
}

// DeleteColumn removes a column.
func (c *Client) DeleteColumn(ctx context.Context, table, columnID string) error {
	return c.doJSON(ctx, "delete_column", http.MethodDelete, tablePath(table, "columns", url.PathEscape(columnID)), nil, nil)
}

// UploadAttachment stores a file in the document's attachment table.
func (c *Client) UploadAttachment(ctx context.Context, filename, contentType string, content []byte) (*Attachment, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="upload"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	var ids []int64
	if err := c.do(ctx, "upload_attachment", http.MethodPost, "/attachments", nil, &buf, mw.FormDataContentType(), &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no attachment id returned", ErrUnexpectedResponse)
	}

	return &Attachment{AttachmentID: ids[0], Filename: filename, SizeBytes: len(content)}, nil
}

// DownloadAttachment fetches attachment metadata and content.
func (c *Client) DownloadAttachment(ctx context.Context, id int64) (*AttachmentContent, error) {
	path := "/attachments/" + strconv.FormatInt(id, 10)

	var meta struct {
		FileName string `json:"fileName"`
	}
	if err := c.do(ctx, "attachment_metadata", http.MethodGet, path, nil, nil, "", &meta); err != nil {
		return nil, err
	}

	content, contentType, err := c.download(ctx, path+"/download")
	if err != nil {
		return nil, err
	}

	return &AttachmentContent{Filename: meta.FileName, ContentType: contentType, Content: content}, nil
}

func (c *Client) download(ctx context.Context, path string) (content []byte, contentType string, err error) {
	start := time.Now()
	defer func() {
		c.instruments.Record(ctx, "download_attachment", time.Since(start), err)
	}()

	resp, err := c.send(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	content, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read attachment: %w", err)
	}

	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return content, contentType, nil
}
