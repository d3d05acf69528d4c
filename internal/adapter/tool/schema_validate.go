package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// SchemaValidatingTool rejects model-supplied arguments that do not match the
// tool's parameter schema before the tool runs.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation compiles t's parameter schema and wraps t with it. A
// tool without a schema, or one already wrapped, is returned as is.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	if _, ok := t.(*SchemaValidatingTool); ok {
		return t, nil
	}
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &SchemaValidatingTool{inner: t, schema: compiled}, nil
}

func (s *SchemaValidatingTool) Name() string              { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string       { return s.inner.Description() }
func (s *SchemaValidatingTool) Schema() domain.ToolSchema { return s.inner.Schema() }

// rejectionRecorder is implemented by tools that keep a record of calls
// whose arguments were refused before the tool ran.
type rejectionRecorder interface {
	RejectedRecord(params json.RawMessage, err error) domain.ToolCallRecord
}

func (s *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return s.reject(params, fmt.Errorf("invalid JSON: %w", err)), nil
	}
	if err := s.schema.Validate(v); err != nil {
		return s.reject(params, fmt.Errorf("invalid arguments for %s: %w", s.inner.Name(), err)), nil
	}
	return s.inner.Execute(ctx, params)
}

func (s *SchemaValidatingTool) reject(params json.RawMessage, err error) *domain.ToolResult {
	res := &domain.ToolResult{IsError: true, Content: err.Error()}
	if rr, ok := s.inner.(rejectionRecorder); ok {
		res.Record = rr.RejectedRecord(params, err)
	}
	return res
}
