package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that tokens are never logged in full.
// Scope: Unit Test
// Security: Credential leakage prevention (CWE-532)
// Expected: Long tokens keep only three leading and trailing characters; short tokens are fully masked.
// Test Case ID: LOG-01
func TestTruncateToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", "***"},
		{"short", "***"},
		{"12345678", "***"},
		{"123456789", "123...789"},
		{"sess_AbCdEfGhIjKlMnOp", "ses...nOp"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateToken(tt.token))
		})
	}
}

func TestTokenAttr(t *testing.T) {
	a := Token("secret-long-token-value")
	assert.Equal(t, "token", a.Key)
	assert.Equal(t, "sec...lue", a.Value.String())
}
