package cmd

import (
	"log/slog"
	"time"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/adapters/activation"
	"github.com/ispworks/sagaflow/pkg/adapters/billing"
	"github.com/ispworks/sagaflow/pkg/adapters/inventory"
	"github.com/ispworks/sagaflow/pkg/adapters/radius"
)

// AdapterEndpoints holds the base URLs of the downstream systems. An empty
// URL leaves that target system unregistered; workflows needing it fail at
// the step that dispatches to it.
type AdapterEndpoints struct {
	Billing    string
	Radius     string
	Inventory  string
	Activation string
}

// NewAdapterRegistry registers one HTTP adapter per configured downstream
// system.
func NewAdapterRegistry(logger *slog.Logger, endpoints AdapterEndpoints, timeout time.Duration) *adapters.Registry {
	registry := adapters.NewRegistry(logger)

	if endpoints.Billing != "" {
		registry.Register(billing.NewAdapter(endpoints.Billing, timeout))
	}

	if endpoints.Radius != "" {
		registry.Register(radius.NewAdapter(endpoints.Radius, timeout))
	}

	if endpoints.Inventory != "" {
		registry.Register(inventory.NewAdapter(endpoints.Inventory, timeout))
	}

	if endpoints.Activation != "" {
		registry.Register(activation.NewAdapter(endpoints.Activation, timeout))
	}

	return registry
}
