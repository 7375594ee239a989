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

package http

import (
	"context"

	"github.com/opentrusty/gristgate/internal/session"
)

type contextKey string

const sessionTokenKey contextKey = "session_token"

// WithSessionToken stores the validated session token for the request.
func WithSessionToken(ctx context.Context, tok *session.Token) context.Context {
	return context.WithValue(ctx, sessionTokenKey, tok)
}

// GetSessionToken retrieves the session token set by SessionAuthMiddleware.
func GetSessionToken(ctx context.Context) *session.Token {
	if val, ok := ctx.Value(sessionTokenKey).(*session.Token); ok {
		return val
	}
	return nil
}
