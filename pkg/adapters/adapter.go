// Package adapters defines the integration boundary between the workflow
// engine and the downstream systems it drives. One adapter exists per target
// system; the engine never sees raw downstream errors, only the Retryable or
// Fatal classification applied here.
package adapters

import "context"

// Adapter executes forward operations and compensations against one
// downstream system.
type Adapter interface {
	// Name returns the target system name the adapter is registered under.
	Name() string

	// Invoke executes a forward operation. Errors must be classified with
	// Retryable or Fatal before being returned.
	Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error)

	// Compensate semantically reverses a previously completed operation,
	// given the output that operation recorded.
	Compensate(ctx context.Context, operation string, recorded map[string]any) error
}
