// Package activation provides the adapter for the service-activation
// controller that programs access-network equipment.
package activation

import (
	"time"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
)

// NewAdapter builds the activation controller adapter against the given base URL.
func NewAdapter(baseURL string, timeout time.Duration) *adapters.HTTPAdapter {
	return adapters.NewHTTPAdapter(definition.TargetActivation, baseURL, timeout, map[string]string{
		"activate_service":   "/v1/services/activate",
		"deactivate_service": "/v1/services/deactivate",
		"suspend_port":       "/v1/ports/suspend",
		"resume_port":        "/v1/ports/resume",
		"apply_qos_profile":  "/v1/qos/apply",
		"remove_qos_profile": "/v1/qos/remove",
		"migrate_circuit":    "/v1/circuits/migrate",
		"revert_circuit":     "/v1/circuits/revert",
	})
}
