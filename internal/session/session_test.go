package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// TestPurpose: Validates session token format and default lifetime.
// Scope: Unit Test
// Security: Unguessable bearer tokens (CWE-330)
// Expected: Prefixed URL-safe tokens of 32 random bytes, unique per call, expiring after the default TTL.
// Test Case ID: SESS-01
func TestManager_Create(t *testing.T) {
	clock := newClock()
	m := NewManager(WithClock(clock.Now))

	tok := m.Create("acct-bot", "budget", []authz.Permission{authz.PermissionRead}, 0)

	assert.True(t, strings.HasPrefix(tok.Token, TokenPrefix))
	assert.Len(t, strings.TrimPrefix(tok.Token, TokenPrefix), 43)
	assert.NotContains(t, tok.Token, "=")
	assert.Equal(t, clock.Now().Add(DefaultTTL), tok.ExpiresAt)
	assert.Equal(t, "acct-bot", tok.AgentName)
	assert.Equal(t, "budget", tok.Document)

	other := m.Create("acct-bot", "budget", []authz.Permission{authz.PermissionRead}, 0)
	assert.NotEqual(t, tok.Token, other.Token)
}

// TestPurpose: Validates the upper bound on session token lifetime.
// Scope: Unit Test
// Security: Bounded credential lifetime
// Expected: A 7200s request yields a token expiring after exactly 3600s.
// Test Case ID: SESS-02
func TestManager_Create_CapsTTL(t *testing.T) {
	clock := newClock()
	m := NewManager(WithClock(clock.Now))

	tok := m.Create("a", "d", []authz.Permission{authz.PermissionRead}, 7200*time.Second)
	assert.Equal(t, clock.Now().Add(MaxTTL), tok.ExpiresAt)

	tok = m.Create("a", "d", []authz.Permission{authz.PermissionRead}, 60*time.Second)
	assert.Equal(t, clock.Now().Add(time.Minute), tok.ExpiresAt)

	tok = m.Create("a", "d", []authz.Permission{authz.PermissionRead}, -5*time.Second)
	assert.Equal(t, clock.Now().Add(DefaultTTL), tok.ExpiresAt)
}

// TestPurpose: Validates that expired session tokens are rejected at lookup time.
// Scope: Unit Test
// Security: Session expiry enforcement
// Expected: Valid before expiry, invalid at and after expiry, invalid for unknown strings.
// Test Case ID: SESS-03
func TestManager_Validate_Expiry(t *testing.T) {
	clock := newClock()
	m := NewManager(WithClock(clock.Now))
	tok := m.Create("a", "d", []authz.Permission{authz.PermissionRead}, time.Minute)

	got, ok := m.Validate(tok.Token)
	require.True(t, ok)
	assert.Equal(t, tok, got)

	clock.Advance(59 * time.Second)
	_, ok = m.Validate(tok.Token)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = m.Validate(tok.Token)
	assert.False(t, ok, "token must be invalid at exactly expires_at")

	_, ok = m.Validate("sess_unknown")
	assert.False(t, ok)
	_, ok = m.Validate("")
	assert.False(t, ok)
}

func TestManager_Validate_ReturnsCopy(t *testing.T) {
	m := NewManager()
	tok := m.Create("a", "d", []authz.Permission{authz.PermissionRead}, 0)

	tok.Permissions[0] = authz.PermissionSchema
	got, ok := m.Validate(tok.Token)
	require.True(t, ok)
	assert.Equal(t, []authz.Permission{authz.PermissionRead}, got.Permissions)

	got.Permissions[0] = authz.PermissionWrite
	again, _ := m.Validate(tok.Token)
	assert.Equal(t, []authz.Permission{authz.PermissionRead}, again.Permissions)
}

func TestManager_PurgeExpired(t *testing.T) {
	clock := newClock()
	m := NewManager(WithClock(clock.Now))
	short := m.Create("a", "d", []authz.Permission{authz.PermissionRead}, time.Minute)
	long := m.Create("a", "d", []authz.Permission{authz.PermissionRead}, time.Hour)

	assert.Equal(t, 0, m.PurgeExpired())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.PurgeExpired())
	assert.Equal(t, 1, m.Len())

	_, ok := m.Validate(short.Token)
	assert.False(t, ok)
	_, ok = m.Validate(long.Token)
	assert.True(t, ok)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := m.Create("a", "d", []authz.Permission{authz.PermissionRead}, 0)
			_, ok := m.Validate(tok.Token)
			assert.True(t, ok)
			m.PurgeExpired()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}

type mockAuditLogger struct {
	mock.Mock
}

func (m *mockAuditLogger) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

func newTestIssuer(t *testing.T, auditLogger audit.Logger) (*Issuer, *authz.Authenticator, *Manager, *metrics.Metrics) {
	t.Helper()

	store, err := authz.NewStore(
		map[string]authz.Document{"budget": {DocID: "b"}, "sales": {DocID: "s"}},
		[]authz.RawCredential{{
			Token: "acct-bot-token",
			Name:  "acct-bot",
			Scope: []authz.RawScopeEntry{
				{Document: "budget", Permissions: []string{"read", "write"}},
				{Document: "sales", Permissions: []string{"read", "write"}},
			},
		}},
	)
	require.NoError(t, err)

	auth := authz.NewAuthenticator(store)
	mgr := NewManager()
	m := metrics.New(prometheus.NewRegistry())
	return NewIssuer(auth, mgr, auditLogger, m), auth, mgr, m
}

// TestPurpose: Validates that delegation can only narrow an agent's rights.
// Scope: Unit Test
// Security: Privilege escalation prevention (CWE-269)
// Expected: Requesting schema on a read/write document fails PermissionDenied and no token is created.
// Test Case ID: SESS-04
func TestIssuer_RefusesPermissionNotHeld(t *testing.T) {
	auditLogger := new(mockAuditLogger)
	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeSessionTokenDenied && e.Agent == "acct-bot" && e.Metadata["reason"] == "permission_denied"
	})).Once()

	issuer, auth, mgr, m := newTestIssuer(t, auditLogger)
	agent, err := auth.Authenticate("acct-bot-token")
	require.NoError(t, err)

	tok, err := issuer.Issue(context.Background(), agent, "sales", []string{"read", "schema"}, 0)
	assert.ErrorIs(t, err, authz.ErrPermissionDenied)
	assert.Nil(t, tok)
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTokensDenied.WithLabelValues("permission_denied")))
	auditLogger.AssertExpectations(t)
}

func TestIssuer_Errors(t *testing.T) {
	issuer, auth, mgr, _ := newTestIssuer(t, nil)
	agent, err := auth.Authenticate("acct-bot-token")
	require.NoError(t, err)

	tests := []struct {
		name        string
		document    string
		permissions []string
		wantErr     error
	}{
		{"empty permissions", "budget", nil, authz.ErrInvalidPermission},
		{"unknown permission", "budget", []string{"admin"}, authz.ErrInvalidPermission},
		{"document out of scope", "hr", []string{"read"}, authz.ErrDocumentNotInScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Issue(context.Background(), agent, tt.document, tt.permissions, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, mgr.Len())
}

// TestPurpose: Validates the full delegation path for a permitted request.
// Scope: Unit Test
// Security: Session token issuance
// Expected: acct-bot gets a prefixed write token on budget valid for 60s, and an issuance event is audited.
// Test Case ID: SESS-05
func TestIssuer_Issue(t *testing.T) {
	auditLogger := new(mockAuditLogger)
	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		_, leaked := e.Metadata["token"]
		return e.Type == audit.TypeSessionTokenIssued && e.Document == "budget" && !leaked
	})).Once()

	issuer, auth, mgr, m := newTestIssuer(t, auditLogger)
	agent, err := auth.Authenticate("acct-bot-token")
	require.NoError(t, err)

	before := time.Now()
	tok, err := issuer.Issue(context.Background(), agent, "budget", []string{"write", "write"}, 60*time.Second)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(tok.Token, TokenPrefix))
	assert.Equal(t, []authz.Permission{authz.PermissionWrite}, tok.Permissions)
	assert.WithinDuration(t, before.Add(time.Minute), tok.ExpiresAt, 2*time.Second)

	got, ok := mgr.Validate(tok.Token)
	require.True(t, ok)
	assert.True(t, got.HasPermission(authz.PermissionWrite))
	assert.False(t, got.HasPermission(authz.PermissionRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTokensIssued))
	auditLogger.AssertExpectations(t)
}
