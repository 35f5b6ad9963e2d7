// Package radius provides the adapter for the RADIUS/AAA provisioning API.
package radius

import (
	"time"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
)

// NewAdapter builds the RADIUS adapter against the given base URL.
func NewAdapter(baseURL string, timeout time.Duration) *adapters.HTTPAdapter {
	return adapters.NewHTTPAdapter(definition.TargetRadius, baseURL, timeout, map[string]string{
		"create_account":  "/v1/subscribers",
		"delete_account":  "/v1/subscribers/delete",
		"enable_account":  "/v1/subscribers/enable",
		"disable_account": "/v1/subscribers/disable",
		"apply_profile":   "/v1/subscribers/profile",
		"revert_profile":  "/v1/subscribers/profile/revert",
	})
}
