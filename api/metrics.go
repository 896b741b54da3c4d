package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/afom12/Taskflow/internal/metrics"
)

const (
	tracerName         = "taskflow/api"
	messageSpanName    = "realtime.message"
	messageEventName   = "realtime.message.metrics"
	messageEventDomain = "taskflow.realtime"
	observabilityEvent = "observability.event"
)

// Message outcomes.
const (
	outcomeOK       = "ok"
	outcomeIgnored  = "ignored"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// messageMetrics records one inbound realtime message as a log entry, a span
// and Prometheus samples.
type messageMetrics struct {
	logger   *log.Logger
	registry *metrics.Realtime
	span     trace.Span
	start    time.Time

	userID         string
	msgType        string
	boardID        string
	decodeDuration time.Duration
	handleDuration time.Duration
	errorStage     string
	outcome        string
}

func newMessageMetrics(ctx context.Context, logger *log.Logger, registry *metrics.Realtime, userID string) (*messageMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, messageSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &messageMetrics{
		logger:   logger,
		registry: registry,
		span:     span,
		start:    time.Now(),
		userID:   userID,
		msgType:  "unknown",
		outcome:  outcomeOK,
	}, ctx
}

func (m *messageMetrics) SetType(t string) {
	if t != "" {
		m.msgType = t
	}
}

func (m *messageMetrics) SetBoard(id string) { m.boardID = id }

func (m *messageMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decodeDuration = d
	}
}

func (m *messageMetrics) ObserveHandle(d time.Duration) {
	if d > 0 {
		m.handleDuration = d
	}
}

func (m *messageMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *messageMetrics) SetOutcome(outcome string) { m.outcome = outcome }

// Finish ends the span and emits the log entry.
func (m *messageMetrics) Finish(err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)
	m.registry.RecordMessage(m.msgType, m.outcome, total)

	severityText, severityNumber := severityForOutcome(m.outcome, err)
	attrs := []attribute.KeyValue{
		attribute.String("event.name", messageEventName),
		attribute.String("event.domain", messageEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("taskflow.message.type", m.msgType),
		attribute.String("taskflow.message.outcome", m.outcome),
		attribute.Float64("taskflow.message.total_ms", durationToMillis(total)),
	}
	if m.boardID != "" {
		attrs = append(attrs, attribute.String("taskflow.board.id", m.boardID))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskflow.message.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(attrs...))
	if severityText == "ERROR" {
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Error, m.outcome)
		}
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	spanCtx := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      messageEventName,
		"event.domain":    messageEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"type":            m.msgType,
		"user":            m.userID,
		"outcome":         m.outcome,
		"total_ms":        durationToMillis(total),
	}
	if m.boardID != "" {
		fields["board"] = m.boardID
	}
	if m.decodeDuration > 0 {
		fields["decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.handleDuration > 0 {
		fields["handle_ms"] = durationToMillis(m.handleDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if spanCtx.HasTraceID() {
		fields["trace_id"] = spanCtx.TraceID().String()
		fields["span_id"] = spanCtx.SpanID().String()
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(messageEventName)
	case "WARN":
		entry.Warn(messageEventName)
	default:
		entry.Debug(messageEventName)
	}
}

func severityForOutcome(outcome string, err error) (string, int) {
	switch outcome {
	case outcomeError:
		return "ERROR", 17
	case outcomeRejected:
		return "WARN", 13
	}
	if err != nil && outcome != outcomeIgnored {
		return "ERROR", 17
	}
	return "INFO", 9
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
