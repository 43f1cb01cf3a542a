// Package schemas validates run artifacts against the embedded JSON
// Schema documents. Contract changes happen here first.
package schemas

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var schemaFS embed.FS

// Names of the embedded schemas, which double as error labels.
const (
	Snapshot     = "snapshot"
	Ticket       = "ticket"
	Incident     = "incident"
	FleetSummary = "fleet_summary"
	RunManifest  = "run_manifest"
)

var allSchemas = []string{Snapshot, Ticket, Incident, FleetSummary, RunManifest}

// Validator holds the compiled schema set.
type Validator struct {
	compiled map[string]*jsonschema.Schema
}

// NewValidator compiles every embedded schema. Compilation failures are
// programmer errors and surface immediately.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	compiled := make(map[string]*jsonschema.Schema, len(allSchemas))
	for _, name := range allSchemas {
		data, err := schemaFS.ReadFile(name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("missing embedded schema %s: %w", name, err)
		}
		url := fmt.Sprintf("https://data-agents.schemas.local/%s.schema.json", name)
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema load failed for %s: %w", name, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema compile failed for %s: %w", name, err)
		}
		compiled[name] = schema
	}
	return &Validator{compiled: compiled}, nil
}

// MustValidator is NewValidator for initialization paths that cannot
// recover from a broken embedded schema.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateBytes checks one JSON document against the named schema.
func (v *Validator) ValidateBytes(name string, data []byte) error {
	schema, ok := v.compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err //nolint:wrapcheck // validation errors carry their own location
	}
	return nil
}

// ValidateAny checks an already-decoded document against the named
// schema.
func (v *Validator) ValidateAny(name string, doc any) error {
	schema, ok := v.compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	if err := schema.Validate(doc); err != nil {
		return err //nolint:wrapcheck // validation errors carry their own location
	}
	return nil
}
