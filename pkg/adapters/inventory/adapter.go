// Package inventory provides the adapter for the network inventory system.
package inventory

import (
	"time"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
)

// NewAdapter builds the inventory adapter against the given base URL.
func NewAdapter(baseURL string, timeout time.Duration) *adapters.HTTPAdapter {
	return adapters.NewHTTPAdapter(definition.TargetInventory, baseURL, timeout, map[string]string{
		"lookup_subscriber": "/v1/subscribers/lookup",
		"allocate_ip":       "/v1/ip-pool/allocate",
		"release_ip":        "/v1/ip-pool/release",
		"update_config":     "/v1/config",
		"rollback_config":   "/v1/config/rollback",
	})
}
