package adapters

import (
	"fmt"
	"log/slog"
)

// Registry resolves target system names to adapters. It is populated at
// construction and injected into the executor; per-tenant adapter selection
// happens here rather than through global state.
type Registry struct {
	logger   *slog.Logger
	adapters map[string]Adapter
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its target system name, replacing any
// previous registration for that name.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Name()] = adapter
	r.logger.Info("Registered downstream adapter", "target_system", adapter.Name())
}

// Get returns the adapter for a target system.
func (r *Registry) Get(targetSystem string) (Adapter, error) {
	adapter, ok := r.adapters[targetSystem]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for target system %q", targetSystem)
	}

	return adapter, nil
}
