package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer installs an in-memory span recorder as the global provider
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestStartServiceSpan(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartServiceSpan(context.Background(), "reconciliation", "auto_link",
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, "p-1"),
		telemetry.WithSpanKind(trace.SpanKindServer),
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "reconciliation.auto_link", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, "p-1", attrMap(spans[0].Attributes())[telemetry.SpanAttrPaymentID].AsString())
}

func TestSetAttributes(t *testing.T) {
	sr := setupTestTracer(t)
	id := uuid.New()

	_, span := telemetry.StartSpan(context.Background(), "allocate")
	telemetry.SetAttributes(span,
		telemetry.SpanAttrTargetID, id,
		telemetry.SpanAttrAmount, decimal.RequireFromString("1250.50"),
		telemetry.SpanAttrConfidence, 85,
		42, "non-string key is skipped",
		"dangling",
	)
	telemetry.SetAttribute(span, telemetry.SpanAttrAllocations, int64(3))
	span.End()

	attrs := attrMap(sr.Ended()[0].Attributes())
	assert.Equal(t, id.String(), attrs[telemetry.SpanAttrTargetID].AsString())
	assert.Equal(t, "1250.5", attrs[telemetry.SpanAttrAmount].AsString())
	assert.Equal(t, int64(85), attrs[telemetry.SpanAttrConfidence].AsInt64())
	assert.Equal(t, int64(3), attrs[telemetry.SpanAttrAllocations].AsInt64())
	assert.NotContains(t, attrs, "dangling")
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "link")
	telemetry.RecordError(span, errors.New("concurrent modification"))
	span.End()

	got := sr.Ended()[0]
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "concurrent modification", got.Status().Description)
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "exception", got.Events()[0].Name)
}

func TestRecordError_NilsAreIgnored(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "link")
	telemetry.RecordError(span, nil)
	telemetry.RecordError(nil, errors.New("x"))
	telemetry.SetAttributes(nil, "k", "v")
	telemetry.AddEvent(nil, "e")
	telemetry.SetOK(span)
	span.End()

	assert.Equal(t, codes.Ok, sr.Ended()[0].Status().Code)
}

func TestAddEvent(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "guard")
	telemetry.AddEvent(span, "guard_rejected", "rule", "outlier_amount", "violations", 1)
	span.End()

	events := sr.Ended()[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "guard_rejected", events[0].Name)
	assert.Equal(t, "outlier_amount", attrMap(events[0].Attributes)["rule"].AsString())
}

func TestTraceAndSpanIDs(t *testing.T) {
	setupTestTracer(t)

	assert.Empty(t, telemetry.GetTraceID(context.Background()))
	assert.Empty(t, telemetry.GetSpanID(context.Background()))

	ctx, span := telemetry.StartSpan(context.Background(), "outer")
	defer span.End()
	assert.Equal(t, span.SpanContext().TraceID().String(), telemetry.GetTraceID(ctx))
	assert.Equal(t, span.SpanContext().SpanID().String(), telemetry.GetSpanID(ctx))

	child, childSpan := telemetry.StartSpan(ctx, "inner")
	defer childSpan.End()
	assert.Equal(t, telemetry.GetTraceID(ctx), telemetry.GetTraceID(child))
	assert.NotEqual(t, telemetry.GetSpanID(ctx), telemetry.GetSpanID(child))
}
