package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testHandler records what it receives
type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	panicMsg   string
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func newLinkedPayment(t *testing.T) *finance.Payment {
	t.Helper()
	p, err := finance.NewPayment(uuid.New(), uuid.New(), "PAY-EVT-001", decimal.NewFromInt(500), "USD",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, p.LinkTo(finance.InvoiceTarget(uuid.New()), 85, "tester"))
	return p
}

func linkedEvent(t *testing.T) shared.DomainEvent {
	t.Helper()
	events := newLinkedPayment(t).GetDomainEvents()
	require.Len(t, events, 1)
	return events[0]
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(finance.EventTypePaymentLinked)
	bus.Subscribe(handler)

	event := linkedEvent(t)
	require.NoError(t, bus.Publish(context.Background(), event))

	require.Len(t, handler.getHandled(), 1)
	assert.Equal(t, event, handler.getHandled()[0])
}

func TestInMemoryEventBus_Publish_ExplicitTypesOverrideHandler(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	handler := newTestHandler(finance.EventTypePaymentUnlinked)
	bus.Subscribe(handler, finance.EventTypePaymentLinked)

	require.NoError(t, bus.Publish(context.Background(), linkedEvent(t)))
	assert.Len(t, handler.getHandled(), 1)
}

func TestInMemoryEventBus_Publish_WildcardHandler(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	wildcard := newTestHandler()
	bus.Subscribe(wildcard)

	p := newLinkedPayment(t)
	require.NoError(t, p.Unlink("tester"))
	require.NoError(t, bus.Publish(context.Background(), p.GetDomainEvents()...))

	handled := wildcard.getHandled()
	require.Len(t, handled, 2)
	assert.Equal(t, finance.EventTypePaymentLinked, handled[0].EventType())
	assert.Equal(t, finance.EventTypePaymentUnlinked, handled[1].EventType())
}

func TestInMemoryEventBus_Publish_HandlerFailureIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewInMemoryEventBus(zap.New(core))

	failing := newTestHandler(finance.EventTypePaymentLinked)
	failing.err = errors.New("downstream unavailable")
	panicking := newTestHandler(finance.EventTypePaymentLinked)
	panicking.panicMsg = "boom"
	healthy := newTestHandler(finance.EventTypePaymentLinked)
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	require.NoError(t, bus.Publish(context.Background(), linkedEvent(t)))

	assert.Len(t, healthy.getHandled(), 1)
	assert.Equal(t, 2, logs.FilterMessage("handler failed to process event").Len())
}

func TestInMemoryEventBus_Publish_NoMatchingHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(finance.EventTypeAllocationReversed)
	bus.Subscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), linkedEvent(t)))
	assert.Empty(t, handler.getHandled())
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(finance.EventTypePaymentLinked)
	bus.Subscribe(handler)
	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), linkedEvent(t)))
	assert.Empty(t, handler.getHandled())
}
