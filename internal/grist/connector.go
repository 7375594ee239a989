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
	"github.com/opentrusty/gristgate/internal/authz"
)

// DocumentResolver maps a logical document name to connection parameters.
type DocumentResolver interface {
	Document(name string) (authz.Document, error)
}

// Provider hands out an API for a document name.
type Provider interface {
	Client(document string) (API, error)
}

// Connector builds a Client per call from the resolved document. Clients
// share the underlying http.Client passed through opts.
type Connector struct {
	resolver DocumentResolver
	opts     []ClientOption
}

// NewConnector creates a connector.
func NewConnector(resolver DocumentResolver, opts ...ClientOption) *Connector {
	return &Connector{resolver: resolver, opts: opts}
}

// Client resolves document and returns a client bound to it.
func (c *Connector) Client(document string) (API, error) {
	doc, err := c.resolver.Document(document)
	if err != nil {
		return nil, err
	}
	return NewClient(doc, c.opts...), nil
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(document string) (API, error)

func (f ProviderFunc) Client(document string) (API, error) {
	return f(document)
}
