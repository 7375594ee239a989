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

package authz

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Store is the immutable snapshot of documents and long-lived credentials
// loaded at startup. Nothing mutates it after NewStore returns, so it is
// safe for concurrent use without locking.
type Store struct {
	documents   map[string]Document
	credentials map[string]Credential
}

// RawScopeEntry is a scope entry as it appears in configuration, before
// its permission strings are validated.
type RawScopeEntry struct {
	Document    string
	Permissions []string
}

// RawCredential is a credential as it appears in configuration.
type RawCredential struct {
	Token string
	Name  string
	Scope []RawScopeEntry
}

// NewStore validates the configured credentials and builds the lookup
// tables. It fails on unknown permission strings, empty tokens or names,
// a token used by more than one credential, and a document listed twice
// in one credential's scope.
func NewStore(documents map[string]Document, credentials []RawCredential) (*Store, error) {
	s := &Store{
		documents:   maps.Clone(documents),
		credentials: make(map[string]Credential, len(credentials)),
	}
	if s.documents == nil {
		s.documents = map[string]Document{}
	}

	for i, raw := range credentials {
		if raw.Token == "" {
			return nil, fmt.Errorf("%w: credential #%d has an empty token", ErrInvalidCredential, i)
		}
		if raw.Name == "" {
			return nil, fmt.Errorf("%w: credential #%d has an empty name", ErrInvalidCredential, i)
		}
		if existing, ok := s.credentials[raw.Token]; ok {
			return nil, fmt.Errorf("%w: agents %q and %q share a token", ErrDuplicateToken, existing.Name, raw.Name)
		}

		cred := Credential{
			Token: raw.Token,
			Name:  raw.Name,
			Scope: make([]ScopeEntry, 0, len(raw.Scope)),
		}
		seen := make(map[string]bool, len(raw.Scope))
		for _, entry := range raw.Scope {
			if seen[entry.Document] {
				return nil, fmt.Errorf("%w: agent %q lists %q more than once", ErrDuplicateScopeDocument, raw.Name, entry.Document)
			}
			seen[entry.Document] = true

			perms := make([]Permission, 0, len(entry.Permissions))
			for _, ps := range entry.Permissions {
				p, err := ParsePermission(ps)
				if err != nil {
					return nil, fmt.Errorf("agent %q, document %q: %w", raw.Name, entry.Document, err)
				}
				perms = append(perms, p)
			}
			cred.Scope = append(cred.Scope, ScopeEntry{Document: entry.Document, Permissions: perms})
		}
		s.credentials[raw.Token] = cred
	}

	return s, nil
}

// UnconfiguredScopeDocuments returns, per agent name, the scope documents
// that have no entry in the document registry.
func (s *Store) UnconfiguredScopeDocuments() map[string][]string {
	missing := map[string][]string{}
	for _, cred := range s.credentials {
		for _, entry := range cred.Scope {
			if _, ok := s.documents[entry.Document]; !ok {
				missing[cred.Name] = append(missing[cred.Name], entry.Document)
			}
		}
	}
	return missing
}

// AgentNames returns the configured agent names in sorted order.
func (s *Store) AgentNames() []string {
	names := make([]string, 0, len(s.credentials))
	for _, cred := range s.credentials {
		names = append(names, cred.Name)
	}
	slices.Sort(names)
	return names
}

// Credentials returns a copy of every credential, sorted by agent name.
func (s *Store) Credentials() []Credential {
	creds := make([]Credential, 0, len(s.credentials))
	for _, cred := range s.credentials {
		cred.Scope = cloneScope(cred.Scope)
		creds = append(creds, cred)
	}
	slices.SortFunc(creds, func(a, b Credential) int {
		return strings.Compare(a.Name, b.Name)
	})
	return creds
}

func cloneScope(scope []ScopeEntry) []ScopeEntry {
	out := make([]ScopeEntry, len(scope))
	for i, entry := range scope {
		out[i] = ScopeEntry{Document: entry.Document, Permissions: slices.Clone(entry.Permissions)}
	}
	return out
}
