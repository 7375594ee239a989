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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opentrusty/gristgate/internal/authz"
)

// ErrConfigIsDirectory is returned when the gateway file path is a
// directory, which container runtimes create when mounting a missing file.
var ErrConfigIsDirectory = errors.New("config path is a directory")

// Template is written on first start when no gateway file exists.
const Template = `# gristgate configuration
#
# Token generation:
#   openssl rand -base64 32

# Document definitions
documents:
  my-document:
    url: https://docs.getgrist.com
    doc_id: YOUR_DOC_ID
    api_key: ${GRIST_API_KEY}

# Agent tokens with access scopes
tokens:
  - token: REPLACE_WITH_GENERATED_TOKEN
    name: my-agent
    scope:
      - document: my-document
        permissions: [read, write]
`

// Gateway is the document registry and credential list.
type Gateway struct {
	Documents map[string]DocumentConfig `yaml:"documents"`
	Tokens    []TokenConfig             `yaml:"tokens"`
}

// DocumentConfig locates one upstream document.
type DocumentConfig struct {
	URL    string `yaml:"url"`
	DocID  string `yaml:"doc_id"`
	APIKey string `yaml:"api_key"`
}

// TokenConfig is one agent credential.
type TokenConfig struct {
	Token string        `yaml:"token"`
	Name  string        `yaml:"name"`
	Scope []ScopeConfig `yaml:"scope"`
}

// ScopeConfig grants permissions on one document.
type ScopeConfig struct {
	Document    string   `yaml:"document"`
	Permissions []string `yaml:"permissions"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadGateway reads the gateway file, substitutes ${VAR} references in
// every string value from the environment and checks required fields.
func LoadGateway(path string) (*Gateway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config: %w", err)
	}
	return ParseGateway(data)
}

// ParseGateway decodes a gateway document. See LoadGateway.
func ParseGateway(data []byte) (*Gateway, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}
	if err := substituteEnv(&root); err != nil {
		return nil, err
	}

	var gw Gateway
	if len(root.Content) > 0 {
		if err := root.Decode(&gw); err != nil {
			return nil, fmt.Errorf("failed to decode gateway config: %w", err)
		}
	}

	if err := gw.Validate(); err != nil {
		return nil, err
	}
	return &gw, nil
}

func substituteEnv(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" {
		var missing string
		n.Value = envPattern.ReplaceAllStringFunc(n.Value, func(m string) string {
			name := envPattern.FindStringSubmatch(m)[1]
			v, ok := os.LookupEnv(name)
			if !ok && missing == "" {
				missing = name
			}
			return v
		})
		if missing != "" {
			return fmt.Errorf("environment variable not set: %s", missing)
		}
		return nil
	}
	for i, c := range n.Content {
		// Mapping keys are names, not values.
		if n.Kind == yaml.MappingNode && i%2 == 0 {
			continue
		}
		if err := substituteEnv(c); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that every document has its connection fields.
// Credential checks happen in Store.
func (g *Gateway) Validate() error {
	for name, d := range g.Documents {
		switch {
		case d.URL == "":
			return fmt.Errorf("document %q: url is required", name)
		case d.DocID == "":
			return fmt.Errorf("document %q: doc_id is required", name)
		case d.APIKey == "":
			return fmt.Errorf("document %q: api_key is required", name)
		}
	}
	return nil
}

// Store builds the immutable credential store.
func (g *Gateway) Store() (*authz.Store, error) {
	docs := make(map[string]authz.Document, len(g.Documents))
	for name, d := range g.Documents {
		docs[name] = authz.Document{URL: d.URL, DocID: d.DocID, APIKey: d.APIKey}
	}

	creds := make([]authz.RawCredential, 0, len(g.Tokens))
	for _, t := range g.Tokens {
		scope := make([]authz.RawScopeEntry, 0, len(t.Scope))
		for _, s := range t.Scope {
			scope = append(scope, authz.RawScopeEntry{Document: s.Document, Permissions: s.Permissions})
		}
		creds = append(creds, authz.RawCredential{Token: t.Token, Name: t.Name, Scope: scope})
	}

	return authz.NewStore(docs, creds)
}

// EnsureGatewayFile writes Template to path when nothing exists there and
// reports whether it did. A directory at path is an error.
func EnsureGatewayFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return false, fmt.Errorf("%w: %s", ErrConfigIsDirectory, path)
	case err == nil:
		return false, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("failed to stat gateway config: %w", err)
	}

	if err := os.WriteFile(path, []byte(Template), 0o600); err != nil {
		return false, fmt.Errorf("failed to create gateway config: %w", err)
	}
	return true, nil
}

type clientEntry struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// ClientConfigLines renders one tool-channel client entry per credential.
func ClientConfigLines(baseURL string, tokens []TokenConfig) []string {
	endpoint := strings.TrimRight(baseURL, "/") + "/mcp"

	lines := make([]string, 0, len(tokens))
	for _, t := range tokens {
		b, _ := json.Marshal(clientEntry{
			Name:    "grist-" + t.Name,
			Type:    "http",
			URL:     endpoint,
			Headers: map[string]string{"Authorization": "Bearer " + t.Token},
		})
		lines = append(lines, string(b))
	}
	return lines
}
