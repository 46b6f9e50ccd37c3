// ABOUTME: JSON Schema validation of request bodies, one schema per entity kind
// ABOUTME: Schemas are embedded and compiled once when the table is built

package resource

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

//go:embed schemas/registry.json
var schemaFS embed.FS

const schemaURL = "https://github.com/nainya/modelregistry/schemas/registry.json"

// compileSchemas compiles the body schema of every kind
func compileSchemas(kinds []string) (map[string]*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/registry.json")
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	out := make(map[string]*jsonschema.Schema, len(kinds))
	for _, kind := range kinds {
		s, err := compiler.Compile(schemaURL + "#/$defs/" + kind)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		out[kind] = s
	}
	return out, nil
}

// validateBody checks raw against the schema of kind
func validateBody(s *jsonschema.Schema, kind string, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return errdefs.InvalidArgument("%s body: %v", kind, err)
	}
	if _, ok := payload.(map[string]any); !ok {
		return errdefs.InvalidArgument("%s body must be a JSON object", kind)
	}
	if err := s.Validate(payload); err != nil {
		return errdefs.InvalidArgument("%s body: %v", kind, err)
	}
	return nil
}

// decodeBody decodes a validated body into T
func decodeBody[T any](kind string, raw []byte) (*T, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var t T
	if err := dec.Decode(&t); err != nil {
		if errdefs.CategoryOf(err) != errdefs.CategoryOther {
			return nil, err
		}
		return nil, errdefs.InvalidArgument("%s body: %v", kind, err)
	}
	return &t, nil
}
