// Package validate checks task submission input against a per-task-type
// JSON Schema, grounded on the registry service's schema.Validate
// compile-then-check pattern, generalized from a single-call payload check
// to a cached per-type compiler so repeated submissions don't recompile
// their schema.
package validate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taskmesh/orchestrator/internal/errs"
	"github.com/taskmesh/orchestrator/internal/value"
)

// SchemaSet holds compiled JSON Schemas keyed by task type.
type SchemaSet struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaSet returns an empty set.
func NewSchemaSet() *SchemaSet {
	return &SchemaSet{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and associates it with taskType. A second
// call for the same taskType replaces the prior schema.
func (s *SchemaSet) Register(taskType string, schemaJSON []byte) error {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return fmt.Errorf("validate: unmarshal schema for %q: %w", taskType, err)
	}

	c := jsonschema.NewCompiler()
	resourceID := "taskmesh://" + taskType + ".json"
	if err := c.AddResource(resourceID, doc); err != nil {
		return fmt.Errorf("validate: add schema resource for %q: %w", taskType, err)
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("validate: compile schema for %q: %w", taskType, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[taskType] = schema
	return nil
}

// Validate checks input against taskType's registered schema. Task types
// with no registered schema are always valid — schema validation is
// opt-in per template (spec §6, "input: object≤10MiB" with no schema
// mandated globally).
func (s *SchemaSet) Validate(taskType string, input value.Value) error {
	s.mu.RLock()
	schema, ok := s.schemas[taskType]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := schema.Validate(input.ToGo()); err != nil {
		return errs.New(errs.KindValidation, "", fmt.Sprintf("input does not conform to %q schema", taskType), err)
	}
	return nil
}

// MaxInputBytes bounds the serialized size of a task's input (spec §6,
// "input: object≤10MiB").
const MaxInputBytes = 10 * 1024 * 1024

// CheckSize returns a validation error if raw exceeds MaxInputBytes.
func CheckSize(raw []byte) error {
	if len(raw) > MaxInputBytes {
		return errs.New(errs.KindValidation, "", fmt.Sprintf("input exceeds %d byte limit", MaxInputBytes), nil)
	}
	return nil
}
