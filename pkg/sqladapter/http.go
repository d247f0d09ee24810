package sqladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sanderpick/tableland-functions/pkg/runtime"
)

// defaultTimeout matches spec.md §5's "SQL reads use a short timeout (5-30s
// depending on deployment)" and pkg/serverless/hostfuncs.go's
// HostFunctionsConfig.HTTPTimeout default of 30s.
const defaultTimeout = 30 * time.Second

// HTTPAdapter implements Adapter against a remote SQL query service over
// HTTP, grounded on pkg/serverless/hostfuncs.go's NewHostFunctions timeout-
// bounded *http.Client construction (tlsutil.NewHTTPClient-style) and
// pkg/rqlite's Client.Query request/response shape, adapted to the
// statement-plus-options contract env.read exposes to the guest.
type HTTPAdapter struct {
	endpoint string
	client   *http.Client
}

type httpReadRequest struct {
	Statement string              `json:"statement"`
	Options   runtime.ReadOptions `json:"options"`
}

type httpReadResponse struct {
	Value json.RawMessage `json:"value"`
	Error string          `json:"error,omitempty"`
}

// NewHTTPAdapter constructs an HTTPAdapter targeting endpoint, a remote SQL
// query service URL. If timeout is zero, defaultTimeout applies.
func NewHTTPAdapter(endpoint string, timeout time.Duration) *HTTPAdapter {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPAdapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Read posts statement and opts to the configured endpoint and returns the
// parsed JSON value plus the raw response byte length, for gas accounting.
func (a *HTTPAdapter) Read(ctx context.Context, statement string, opts runtime.ReadOptions) (json.RawMessage, int, error) {
	body, err := json.Marshal(httpReadRequest{Statement: statement, Options: opts})
	if err != nil {
		return nil, 0, fmt.Errorf("encode read request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build read request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("read request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, runtime.MaxResultBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, len(raw), fmt.Errorf("sql service returned %s", resp.Status)
	}

	var parsed httpReadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, len(raw), fmt.Errorf("decode read response: %w", err)
	}
	if parsed.Error != "" {
		return nil, len(raw), fmt.Errorf("sql service: %s", parsed.Error)
	}

	return parsed.Value, len(raw), nil
}
