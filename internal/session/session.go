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

package session

import (
	"slices"
	"time"

	"github.com/opentrusty/gristgate/internal/authz"
)

const (
	// TokenPrefix marks session tokens so they are distinguishable from long-lived ones.
	TokenPrefix = "sess_"

	DefaultTTL = 5 * time.Minute
	MaxTTL     = time.Hour
)

// Token is a short-lived credential bound to one document and a subset
// of the issuing agent's permissions on it.
type Token struct {
	Token       string
	AgentName   string
	Document    string
	Permissions []authz.Permission
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether the token is no longer valid at now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// HasPermission checks if the token carries a specific permission
func (t *Token) HasPermission(permission authz.Permission) bool {
	return slices.Contains(t.Permissions, permission)
}

// PermissionStrings returns the permissions in issue order.
func (t *Token) PermissionStrings() []string {
	out := make([]string, len(t.Permissions))
	for i, p := range t.Permissions {
		out[i] = p.String()
	}
	return out
}

func (t *Token) clone() *Token {
	c := *t
	c.Permissions = slices.Clone(t.Permissions)
	return &c
}

// EffectiveTTL applies the default for non-positive values and the cap for large ones.
func EffectiveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultTTL
	case ttl > MaxTTL:
		return MaxTTL
	default:
		return ttl
	}
}
