package tool

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// Registry holds the tools offered to agents and implements
// domain.ToolExecutor.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{tools: make(map[string]domain.Tool), logger: logger}
}

// Register adds t wrapped in JSON Schema validation of its arguments. A tool
// whose schema does not compile is registered unvalidated with a warning.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateTool, name)
	}

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}

	r.tools[name] = t
	return nil
}

// Get implements domain.ToolExecutor.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Schemas implements domain.ToolExecutor. Schemas are sorted by name so
// requests are stable across calls.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

var _ domain.ToolExecutor = (*Registry)(nil)
