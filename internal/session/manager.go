package session

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"sync"
	"time"

	"github.com/opentrusty/gristgate/internal/authz"
)

const tokenBytes = 32

// Manager owns the in-memory session token table. Tokens do not survive
// a restart.
type Manager struct {
	mu     sync.Mutex
	tokens map[string]*Token
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates an empty token table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create mints a token. It does not check that the agent holds the
// permissions; callers go through Issuer for that.
func (m *Manager) Create(agentName, document string, permissions []authz.Permission, ttl time.Duration) *Token {
	now := m.now()
	tok := &Token{
		Token:       newTokenString(),
		AgentName:   agentName,
		Document:    document,
		Permissions: slices.Clone(permissions),
		CreatedAt:   now,
		ExpiresAt:   now.Add(EffectiveTTL(ttl)),
	}

	m.mu.Lock()
	m.tokens[tok.Token] = tok
	m.mu.Unlock()

	return tok.clone()
}

// Validate returns the token record if it exists and has not expired.
func (m *Manager) Validate(token string) (*Token, bool) {
	m.mu.Lock()
	tok, ok := m.tokens[token]
	m.mu.Unlock()

	if !ok || tok.IsExpired(m.now()) {
		return nil, false
	}
	return tok.clone(), true
}

// PurgeExpired drops expired tokens and returns how many were removed.
func (m *Manager) PurgeExpired() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, tok := range m.tokens {
		if tok.IsExpired(now) {
			delete(m.tokens, k)
			n++
		}
	}
	return n
}

// Len returns the number of tokens held, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func newTokenString() string {
	b := make([]byte, tokenBytes)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b)
}
