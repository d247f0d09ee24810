package sqladapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sanderpick/tableland-functions/pkg/runtime"
)

// MockAdapter is a deterministic in-memory adapter for tests, matching
// spec.md §9's "a mock implementation is permitted and expected for tests."
// Responses are registered per exact statement; an unregistered statement
// returns an error rather than a zero value, so tests notice missing
// fixtures instead of silently reading nulls.
type MockAdapter struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	calls     []string
}

// NewMockAdapter returns an empty MockAdapter; register fixtures with Set.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{responses: make(map[string]json.RawMessage)}
}

// Set registers the value returned for an exact statement match.
func (m *MockAdapter) Set(statement string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode mock value for %q: %w", statement, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[statement] = encoded
	return nil
}

// Read implements Adapter.
func (m *MockAdapter) Read(_ context.Context, statement string, _ runtime.ReadOptions) (json.RawMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, statement)

	value, ok := m.responses[statement]
	if !ok {
		return nil, 0, fmt.Errorf("mock adapter: no fixture registered for statement %q", statement)
	}
	return value, len(value), nil
}

// Calls returns every statement Read has been called with, in order.
func (m *MockAdapter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
