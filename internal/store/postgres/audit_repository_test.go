package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/gristgate/internal/audit"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("AUDIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUDIT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migration must be idempotent")
	return db
}

// TestPurpose: Validates that persisted audit events never store secret values.
// Scope: Database Integration Test
// Security: Sensitive data in logs (CWE-532)
// Expected: Metadata keys that look like secrets are redacted in the stored row.
// Test Case ID: AUD-03
func TestAuditRepository_RedactsSecrets(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	agent := "agent-" + uuid.NewString()
	repo.Log(ctx, audit.Event{
		Type:     audit.TypeSessionTokenIssued,
		Agent:    agent,
		Document: "budget",
		Surface:  audit.SurfaceTool,
		Metadata: map[string]any{"session_token": "sess_abc", "permissions": []any{"read"}},
	})
	repo.Log(ctx, audit.Event{Type: audit.TypeProxyDenied, Agent: agent})

	events, err := repo.Recent(ctx, agent, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byType := map[string]audit.Event{}
	for _, e := range events {
		byType[e.Type] = e
	}

	issued := byType[audit.TypeSessionTokenIssued]
	assert.Equal(t, "[REDACTED]", issued.Metadata["session_token"])
	assert.Equal(t, []any{"read"}, issued.Metadata["permissions"])
	assert.Equal(t, "budget", issued.Document)
	_, err = uuid.Parse(issued.ID)
	assert.NoError(t, err)

	assert.Empty(t, byType[audit.TypeProxyDenied].Metadata)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "postgres://%zz"})
	assert.Error(t, err)
}
