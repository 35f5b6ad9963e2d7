// Package billing provides the adapter for the billing system's account API.
package billing

import (
	"time"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
)

// NewAdapter builds the billing adapter against the given base URL.
func NewAdapter(baseURL string, timeout time.Duration) *adapters.HTTPAdapter {
	return adapters.NewHTTPAdapter(definition.TargetBilling, baseURL, timeout, map[string]string{
		"create_account":  "/v1/accounts",
		"delete_account":  "/v1/accounts/delete",
		"suspend_account": "/v1/accounts/suspend",
		"resume_account":  "/v1/accounts/resume",
		"close_account":   "/v1/accounts/close",
		"reopen_account":  "/v1/accounts/reopen",
		"change_plan":     "/v1/accounts/plan",
		"revert_plan":     "/v1/accounts/plan/revert",
	})
}
