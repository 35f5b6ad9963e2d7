package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeoutSeconds = 30

// HTTPAdapter is the shared transport for downstream systems that expose a
// JSON-over-HTTP provisioning API. Concrete adapters supply the operation
// table; everything else — request building, timeouts, error classification —
// is identical across target systems.
type HTTPAdapter struct {
	name       string
	baseURL    string
	client     *http.Client
	operations map[string]string // operation -> relative path
}

// NewHTTPAdapter builds an adapter for one target system. A zero timeout
// falls back to the default.
func NewHTTPAdapter(name, baseURL string, timeout time.Duration, operations map[string]string) *HTTPAdapter {
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	return &HTTPAdapter{
		name:       name,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		operations: operations,
	}
}

func (a *HTTPAdapter) Name() string {
	return a.name
}

func (a *HTTPAdapter) Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	return a.post(ctx, operation, payload)
}

func (a *HTTPAdapter) Compensate(ctx context.Context, operation string, recorded map[string]any) error {
	_, err := a.post(ctx, operation, recorded)

	return err
}

func (a *HTTPAdapter) post(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	path, ok := a.operations[operation]
	if !ok {
		return nil, Fatal(fmt.Errorf("%w: %s.%s", ErrUnknownOperation, a.name, operation))
	}

	if payload == nil {
		payload = map[string]any{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Fatal(fmt.Errorf("failed to encode payload for %s.%s: %w", a.name, operation, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, Fatal(fmt.Errorf("failed to build request for %s.%s: %w", a.name, operation, err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport failures and timeouts are transient by definition.
		return nil, Retryable(fmt.Errorf("%s.%s request failed: %w", a.name, operation, err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Retryable(fmt.Errorf("failed to read %s.%s response: %w", a.name, operation, err))
	}

	if err := classifyStatus(a.name, operation, resp.StatusCode); err != nil {
		return nil, err
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}

	var output map[string]any
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, Fatal(fmt.Errorf("malformed %s.%s response: %w", a.name, operation, err))
	}

	return output, nil
}

// classifyStatus maps HTTP status codes onto the engine's error taxonomy.
// Server-side and throttling failures are transient; everything else the
// downstream rejected deliberately.
func classifyStatus(name, operation string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Retryable(fmt.Errorf("%s.%s returned status %d", name, operation, status))
	default:
		return Fatal(fmt.Errorf("%s.%s rejected with status %d", name, operation, status))
	}
}
