package commerce

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

const defaultMockFailureRate = 0.05

// MockClient simulates the mall for local development and staging. It mints
// deterministic-looking ids and fails a configurable fraction of calls with a
// network-style error so the retry and fallback paths get exercised.
type MockClient struct {
	failureRate float64
	redirectFmt string

	mu    sync.Mutex
	rand  func() float64
	idGen func() string
	calls int
}

// MockOption customises the mock.
type MockOption func(*MockClient)

// WithMockFailureRate sets the fraction of calls that fail, in [0, 1).
func WithMockFailureRate(rate float64) MockOption {
	return func(m *MockClient) {
		if rate >= 0 && rate < 1 {
			m.failureRate = rate
		}
	}
}

// WithMockRand injects the randomness source, primarily for tests.
func WithMockRand(random func() float64) MockOption {
	return func(m *MockClient) {
		if random != nil {
			m.rand = random
		}
	}
}

// WithMockIDGenerator injects the cart id generator, primarily for tests.
func WithMockIDGenerator(idGen func() string) MockOption {
	return func(m *MockClient) {
		if idGen != nil {
			m.idGen = idGen
		}
	}
}

// NewMockClient constructs the mock mall.
func NewMockClient(opts ...MockOption) *MockClient {
	mock := &MockClient{
		failureRate: defaultMockFailureRate,
		redirectFmt: "https://mock-mall.example.com/checkout?cart_id=%s",
		rand:        rand.Float64,
		idGen:       func() string { return "mock-" + strings.ToLower(ulid.Make().String()) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mock)
		}
	}
	return mock
}

// AddToCart returns a minted cart id or a simulated network failure.
func (m *MockClient) AddToCart(ctx context.Context, submission CartSubmission) (CartResult, error) {
	if err := ctx.Err(); err != nil {
		return CartResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if submission.ProductID == "" || submission.Quantity <= 0 {
		return CartResult{}, fmt.Errorf("%w: invalid submission", ErrRejected)
	}

	m.mu.Lock()
	m.calls++
	roll := m.rand()
	id := m.idGen()
	m.mu.Unlock()

	if roll < m.failureRate {
		return CartResult{}, fmt.Errorf("%w: simulated network failure", ErrUnavailable)
	}
	return CartResult{CartID: id, RedirectURL: fmt.Sprintf(m.redirectFmt, id)}, nil
}

// HealthCheck always reports healthy.
func (m *MockClient) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Calls reports how many AddToCart attempts the mock has seen.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Client = (*MockClient)(nil)
