// Package schema validates mutation payloads against JSON Schemas.
//
// Schemas live in one directory, one file per entity type:
// <dir>/<entity_type>.json. Entity types without a schema are accepted.
package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure Validator implements the interface.
var _ driven.PayloadValidator = (*Validator)(nil)

// Validator holds the compiled schema for each entity type.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every *.json file in dir.
func NewValidator(dir string) (*Validator, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving schema dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading schema dir: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		entityType := strings.TrimSuffix(name, ".json")

		sch, err := compile(compiler, filepath.Join(abs, name))
		if err != nil {
			return nil, fmt.Errorf("%w: schema %s: %v", domain.ErrInvalidInput, name, err)
		}
		v.schemas[entityType] = sch
	}

	logger.Debug("schema: loaded %d payload schemas from %s", len(v.schemas), abs)
	return v, nil
}

func compile(c *jsonschema.Compiler, path string) (*jsonschema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	url := "file://" + filepath.ToSlash(path)
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// EntityTypes lists the entity types that have a schema.
func (v *Validator) EntityTypes() []string {
	types := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks payload against the schema for entityType.
func (v *Validator) Validate(entityType string, payload []byte) error {
	sch, ok := v.schemas[entityType]
	if !ok {
		return nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %s payload is not JSON: %v", domain.ErrInvalidInput, entityType, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidInput, entityType, err)
	}
	return nil
}
