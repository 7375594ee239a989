// Package gristtest provides a testify mock of grist.API.
package gristtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/opentrusty/gristgate/internal/grist"
)

// MockAPI records calls and returns the configured results.
type MockAPI struct {
	mock.Mock
}

var _ grist.API = (*MockAPI)(nil)

// Provider returns a grist.Provider that hands out m for every document
// and records the requested names in docs when non-nil.
func (m *MockAPI) Provider(docs *[]string) grist.Provider {
	return grist.ProviderFunc(func(document string) (grist.API, error) {
		if docs != nil {
			*docs = append(*docs, document)
		}
		return m, nil
	})
}

func (m *MockAPI) ListTables(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return nilOr[[]string](args.Get(0)), args.Error(1)
}

func (m *MockAPI) DescribeTable(ctx context.Context, table string) ([]grist.Column, error) {
	args := m.Called(ctx, table)
	return nilOr[[]grist.Column](args.Get(0)), args.Error(1)
}

func (m *MockAPI) GetRecords(ctx context.Context, table string, filter map[string]any, sort string, limit int) ([]grist.Record, error) {
	args := m.Called(ctx, table, filter, sort, limit)
	return nilOr[[]grist.Record](args.Get(0)), args.Error(1)
}

func (m *MockAPI) SQLQuery(ctx context.Context, query string) ([]grist.Record, error) {
	args := m.Called(ctx, query)
	return nilOr[[]grist.Record](args.Get(0)), args.Error(1)
}

func (m *MockAPI) AddRecords(ctx context.Context, table string, records []grist.Record) ([]int64, error) {
	args := m.Called(ctx, table, records)
	return nilOr[[]int64](args.Get(0)), args.Error(1)
}

func (m *MockAPI) UpdateRecords(ctx context.Context, table string, records []grist.RecordUpdate) error {
	return m.Called(ctx, table, records).Error(0)
}

func (m *MockAPI) DeleteRecords(ctx context.Context, table string, ids []int64) error {
	return m.Called(ctx, table, ids).Error(0)
}

func (m *MockAPI) CreateTable(ctx context.Context, tableID string, columns []grist.ColumnSpec) (string, error) {
	args := m.Called(ctx, tableID, columns)
	return args.String(0), args.Error(1)
}

func (m *MockAPI) AddColumn(ctx context.Context, table, columnID, columnType, formula string) (string, error) {
	args := m.Called(ctx, table, columnID, columnType, formula)
	return args.String(0), args.Error(1)
}

func (m *MockAPI) ModifyColumn(ctx context.Context, table, columnID string, columnType, formula *string) error {
	return m.Called(ctx, table, columnID, columnType, formula).Error(0)
}

func (m *MockAPI) DeleteColumn(ctx context.Context, table, columnID string) error {
	return m.Called(ctx, table, columnID).Error(0)
}

func (m *MockAPI) UploadAttachment(ctx context.Context, filename, contentType string, content []byte) (*grist.Attachment, error) {
	args := m.Called(ctx, filename, contentType, content)
	return nilOr[*grist.Attachment](args.Get(0)), args.Error(1)
}

func (m *MockAPI) DownloadAttachment(ctx context.Context, id int64) (*grist.AttachmentContent, error) {
	args := m.Called(ctx, id)
	return nilOr[*grist.AttachmentContent](args.Get(0)), args.Error(1)
}

func nilOr[T any](v any) T {
	var zero T
	if v == nil {
		return zero
	}
	return v.(T)
}
