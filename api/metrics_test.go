package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
)

func TestMessageMetricsProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	reg := prometheus.NewRegistry()
	registry := metrics.NewRealtime(reg, nil)

	m, _ := newMessageMetrics(context.Background(), logger, registry, "u1")
	m.start = m.start.Add(-20 * time.Millisecond)
	m.SetType(domain.TypeCardMoved)
	m.SetBoard("b1")
	m.ObserveDecode(time.Millisecond)
	m.ObserveHandle(5 * time.Millisecond)
	m.Finish(nil)

	require.NoError(t, tp.ForceFlush(context.Background()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, messageEventName, entry.Message)
	assert.Equal(t, log.DebugLevel, entry.Level)
	assert.Equal(t, "INFO", entry.Data["severity_text"])
	assert.Equal(t, 9, entry.Data["severity_number"])
	assert.Equal(t, "b1", entry.Data["board"])
	assert.NotEmpty(t, entry.Data["trace_id"])

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, messageSpanName, span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)
	attrs := attributesToMap(span.Attributes)
	assert.Equal(t, domain.TypeCardMoved, attrs["taskflow.message.type"])
	assert.Equal(t, outcomeOK, attrs["taskflow.message.outcome"])

	var event sdktrace.Event
	for _, ev := range span.Events {
		if ev.Name == observabilityEvent {
			event = ev
		}
	}
	require.NotEmpty(t, event.Name, "expected observability.event span event")
	eventAttrs := attributesToMap(event.Attributes)
	assert.Equal(t, messageEventDomain, eventAttrs["event.domain"])
	if total, ok := eventAttrs["taskflow.message.total_ms"].(float64); !ok || total == 0 {
		t.Fatalf("expected total_ms to be set, got %#v", eventAttrs["taskflow.message.total_ms"])
	}

	count, err := testutil.GatherAndCount(reg, "taskflow_ws_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMessageMetricsErrorSetsSpanStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	m, _ := newMessageMetrics(context.Background(), logger, nil, "u1")
	m.SetType(domain.TypeBoardUpdate)
	m.SetErrorStage("mutation")
	m.SetOutcome(outcomeError)
	m.Finish(errors.New("store down"))

	require.NoError(t, tp.ForceFlush(context.Background()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "mutation", entry.Data["error_stage"])
	assert.Equal(t, "store down", entry.Data["error"])

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "store down", spans[0].Status.Description)
}

func TestSeverityForOutcome(t *testing.T) {
	cases := []struct {
		outcome string
		err     error
		text    string
		number  int
	}{
		{outcomeOK, nil, "INFO", 9},
		{outcomeIgnored, errors.New("gone"), "INFO", 9},
		{outcomeRejected, errors.New("bad"), "WARN", 13},
		{outcomeError, nil, "ERROR", 17},
	}
	for _, tc := range cases {
		text, number := severityForOutcome(tc.outcome, tc.err)
		assert.Equal(t, tc.text, text, tc.outcome)
		assert.Equal(t, tc.number, number, tc.outcome)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
