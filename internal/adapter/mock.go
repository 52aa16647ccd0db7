package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockAdapter simulates the external scheme adapter for local runs and
// tests. It records every execution request and fails a configurable
// fraction of calls.
type MockAdapter struct {
	// FailureRate is the probability of a dispatch failure (0.0 to 1.0).
	FailureRate float64
	// Delay simulates network latency per call.
	Delay time.Duration

	mu       sync.Mutex
	requests []BulkExecutionRequest
	lookups  []PartyIDInfo
}

// NewMockAdapter creates a mock with no latency and no failures.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (m *MockAdapter) LookupParty(ctx context.Context, idType, identifier string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.lookups = append(m.lookups, PartyIDInfo{PartyIDType: idType, PartyIdentifier: identifier})
	m.mu.Unlock()
	return nil
}

func (m *MockAdapter) ExecuteBulkTransfers(ctx context.Context, req BulkExecutionRequest) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if m.FailureRate > 0 && rand.Float64() < m.FailureRate {
		return fmt.Errorf("%w: simulated outage", ErrUnreachable)
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return nil
}

// Requests returns a copy of the recorded execution requests.
func (m *MockAdapter) Requests() []BulkExecutionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BulkExecutionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Lookups returns a copy of the recorded party lookups.
func (m *MockAdapter) Lookups() []PartyIDInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PartyIDInfo, len(m.lookups))
	copy(out, m.lookups)
	return out
}

func (m *MockAdapter) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("adapter call canceled: %w", ctx.Err())
	}
}
