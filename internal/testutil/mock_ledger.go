package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.LedgerGateway = (*MockLedger)(nil)

// MockLedger implements outbound.LedgerGateway for testing. Unset function
// fields fail with an error, so a test only mocks what it expects to be called.
type MockLedger struct {
	mu sync.Mutex

	QueryFn           func(ctx context.Context, method string, args ...any) ([]any, error)
	SubmitFn          func(ctx context.Context, req outbound.SubmitRequest) (*entity.PendingAction, error)
	AwaitSettlementFn func(ctx context.Context, action *entity.PendingAction) (*entity.Receipt, error)
	SubscribeErr      error

	queries     []string
	submits     []outbound.SubmitRequest
	subscribes  int
	subs        []*MockSubscription
	networkCall int

	failNext    int
	failNextErr error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

func (m *MockLedger) Query(ctx context.Context, method string, args ...any) ([]any, error) {
	m.mu.Lock()
	m.queries = append(m.queries, method)
	m.networkCall++
	fn := m.QueryFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, method, args...)
	}
	return nil, errors.New("Query not mocked")
}

func (m *MockLedger) Submit(ctx context.Context, req outbound.SubmitRequest) (*entity.PendingAction, error) {
	m.mu.Lock()
	m.submits = append(m.submits, req)
	m.networkCall++
	fn := m.SubmitFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return nil, errors.New("Submit not mocked")
}

func (m *MockLedger) AwaitSettlement(ctx context.Context, action *entity.PendingAction) (*entity.Receipt, error) {
	m.mu.Lock()
	m.networkCall++
	fn := m.AwaitSettlementFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, action)
	}
	return nil, errors.New("AwaitSettlement not mocked")
}

func (m *MockLedger) Subscribe(_ context.Context, filter outbound.EventFilter) (outbound.EventSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	m.networkCall++
	if m.failNext > 0 {
		m.failNext--
		return nil, m.failNextErr
	}
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	sub := newMockSubscription(filter)
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Emit delivers an event to every live subscription.
func (m *MockLedger) Emit(event entity.LedgerEvent) {
	m.mu.Lock()
	subs := append([]*MockSubscription(nil), m.subs...)
	m.mu.Unlock()
	for _, s := range subs {
		s.send(event)
	}
}

// FailSubscriptions breaks every live subscription with err.
func (m *MockLedger) FailSubscriptions(err error) {
	m.mu.Lock()
	subs := append([]*MockSubscription(nil), m.subs...)
	m.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

// FailNextSubscribes makes the next n Subscribe calls fail with err.
func (m *MockLedger) FailNextSubscribes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failNextErr = err
}

// SubscribeAttempts counts Subscribe calls, failed ones included.
func (m *MockLedger) SubscribeAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes
}

// ActiveSubscriptions counts subscriptions that have not been released.
func (m *MockLedger) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if !s.Released() {
			n++
		}
	}
	return n
}

// Subscriptions returns every subscription handed out, in order.
func (m *MockLedger) Subscriptions() []*MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSubscription(nil), m.subs...)
}

// QueryCount returns how many times method was queried; "" counts all queries.
func (m *MockLedger) QueryCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if method == "" {
		return len(m.queries)
	}
	n := 0
	for _, q := range m.queries {
		if q == method {
			n++
		}
	}
	return n
}

// Submits returns the submitted requests in order.
func (m *MockLedger) Submits() []outbound.SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbound.SubmitRequest(nil), m.submits...)
}

// NetworkCalls counts every gateway method invocation.
func (m *MockLedger) NetworkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkCall
}

// MockSubscription is the scoped handle MockLedger returns.
type MockSubscription struct {
	Filter outbound.EventFilter

	mu       sync.Mutex
	events   chan entity.LedgerEvent
	errs     chan error
	released bool
}

func newMockSubscription(filter outbound.EventFilter) *MockSubscription {
	return &MockSubscription{
		Filter: filter,
		events: make(chan entity.LedgerEvent, 100),
		errs:   make(chan error, 1),
	}
}

func (s *MockSubscription) Events() <-chan entity.LedgerEvent { return s.events }
func (s *MockSubscription) Err() <-chan error                { return s.errs }

func (s *MockSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	close(s.events)
	close(s.errs)
}

func (s *MockSubscription) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *MockSubscription) send(event entity.LedgerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		s.events <- event
	}
}

func (s *MockSubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		select {
		case s.errs <- err:
		default:
		}
	}
}
