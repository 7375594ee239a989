package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// validator checks tool arguments against a compiled JSON schema.
type validator struct {
	schema *gojsonschema.Schema
}

func newValidator(schema map[string]any) (*validator, error) {
	compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validator{schema: compiled}, nil
}

func (v *validator) validate(raw []byte) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &InvalidArgumentsError{Err: err}
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return &InvalidArgumentsError{Err: errors.New(strings.Join(msgs, "; "))}
}
