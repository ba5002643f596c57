package mocks

import (
	"context"
	"sync"

	"github.com/plumehq/plume-jobs/internal/enrich"
)

// MockEnricher implements enrich.Enricher for testing
type MockEnricher struct {
	// EnrichFn allows test cases to mock the Enrich behavior
	EnrichFn func(ctx context.Context, req enrich.Request) (*enrich.Result, error)

	// Default response values
	Result *enrich.Result
	Err    error

	// Call tracking for verification
	EnrichCalls struct {
		// mu protects the call tracking state for concurrent test cases
		mu sync.Mutex

		// Count tracks how many times Enrich was called
		Count int

		// Requests contains every request passed to Enrich
		Requests []enrich.Request
	}
}

// Enrich implements the enrich.Enricher interface
func (m *MockEnricher) Enrich(ctx context.Context, req enrich.Request) (*enrich.Result, error) {
	// Track call details for verification
	m.EnrichCalls.mu.Lock()
	m.EnrichCalls.Count++
	m.EnrichCalls.Requests = append(m.EnrichCalls.Requests, req)
	m.EnrichCalls.mu.Unlock()

	// Use custom function if provided
	if m.EnrichFn != nil {
		return m.EnrichFn(ctx, req)
	}

	// Return default values
	return m.Result, m.Err
}

// NewMockEnricherWithResult creates a MockEnricher that returns the given result
func NewMockEnricherWithResult(result *enrich.Result) *MockEnricher {
	return &MockEnricher{Result: result}
}
