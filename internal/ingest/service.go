package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spanlight/spanlight/internal/store"
)

const defaultMaxSpanBatch = 500

// Metrics holds optional callbacks the service invokes on rejected payloads
// and failed storage writes.
type Metrics struct {
	// OnRejection is called when a payload fails validation. Kind is "trace"
	// or "span"; count is the number of rejected records.
	OnRejection func(kind string, count int)
	// OnWriteFailure is called when a storage write fails after validation.
	OnWriteFailure func(operation, errorClass string)
}

// Service turns validated payloads into storage writes. One Service (and
// therefore one VersionClock) stamps every trace write the process accepts.
type Service struct {
	store    store.Store
	clock    *VersionClock
	log      *slog.Logger
	maxBatch int
	metrics  Metrics
}

func NewService(st store.Store, clock *VersionClock, log *slog.Logger) *Service {
	if clock == nil {
		clock = NewVersionClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    st,
		clock:    clock,
		log:      log,
		maxBatch: defaultMaxSpanBatch,
	}
}

// SetMaxSpanBatch overrides the span batch cap. Values <= 0 keep the default.
func (s *Service) SetMaxSpanBatch(n int) {
	if n > 0 {
		s.maxBatch = n
	}
}

// SetMetrics replaces the metric callbacks. Must be called before the service
// starts handling requests.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *Service) recordRejection(kind string, count int) {
	if s.metrics.OnRejection != nil {
		s.metrics.OnRejection(kind, count)
	}
}

func (s *Service) recordWriteFailure(operation string, err error) {
	if s.metrics.OnWriteFailure != nil {
		s.metrics.OnWriteFailure(operation, store.ClassifyWriteError(err))
	}
}

// IngestTrace validates one trace write, stamps it with the next version, and
// persists it. The assigned version is returned so clients can correlate
// their writes with the reconciled view.
func (s *Service) IngestTrace(ctx context.Context, tenantID string, payload *TracePayload) (int64, error) {
	if fieldErrs := ValidateTrace(payload); len(fieldErrs) > 0 {
		s.recordRejection("trace", 1)
		return 0, &ValidationError{Fields: fieldErrs}
	}

	write := &store.TraceWrite{
		TenantID:      tenantID,
		TraceID:       payload.TraceID,
		Version:       s.clock.Next(),
		Name:          payload.Name,
		StartTime:     utcTimePtr(payload.StartTime),
		EndTime:       utcTimePtr(payload.EndTime),
		Status:        payload.Status,
		StatusMessage: payload.StatusMessage,
		Input:         rawPayloadPtr(payload.Input),
		Output:        rawPayloadPtr(payload.Output),
		UserID:        payload.UserID,
		SessionID:     payload.SessionID,
		Environment:   payload.Environment,
		Tags:          payload.Tags,
		ReceivedAt:    time.Now().UTC(),
	}

	if err := s.store.WriteTraceVersion(ctx, write); err != nil {
		s.log.Error("trace write failed",
			slog.String("tenant_id", tenantID),
			slog.String("trace_id", payload.TraceID),
			slog.Int64("version", write.Version),
			slog.String("error_class", store.ClassifyWriteError(err)),
			slog.String("error", err.Error()),
		)
		s.recordWriteFailure("write_trace_version", err)
		return 0, fmt.Errorf("persist trace write: %w", err)
	}

	return write.Version, nil
}

// IngestSpans validates and persists a batch of completed spans. The whole
// batch is rejected if any span fails validation; the rejection report names
// each failing span by index. Accepted batches are written atomically
// together with their rollup deltas.
func (s *Service) IngestSpans(ctx context.Context, tenantID string, payloads []*SpanPayload) (int, error) {
	if len(payloads) == 0 {
		s.recordRejection("span", 1)
		return 0, &ValidationError{Fields: []FieldError{{Field: "spans", Message: "at least one span is required"}}}
	}
	if len(payloads) > s.maxBatch {
		s.recordRejection("span", len(payloads))
		return 0, &ValidationError{Fields: []FieldError{{
			Field:   "spans",
			Message: fmt.Sprintf("batch must have at most %d spans", s.maxBatch),
		}}}
	}

	var fieldErrs []FieldError
	for i, payload := range payloads {
		for _, fieldErr := range ValidateSpan(payload) {
			fieldErrs = append(fieldErrs, FieldError{
				Field:   fmt.Sprintf("spans[%d].%s", i, fieldErr.Field),
				Message: fieldErr.Message,
			})
		}
	}
	if len(fieldErrs) > 0 {
		s.recordRejection("span", len(payloads))
		return 0, &ValidationError{Fields: fieldErrs}
	}

	receivedAt := time.Now().UTC()
	spans := make([]*store.Span, 0, len(payloads))
	for _, payload := range payloads {
		spans = append(spans, spanFromPayload(tenantID, payload, receivedAt))
	}

	if err := s.store.WriteSpans(ctx, spans); err != nil {
		s.log.Error("span batch write failed",
			slog.String("tenant_id", tenantID),
			slog.Int("batch_size", len(spans)),
			slog.String("error_class", store.ClassifyWriteError(err)),
			slog.String("error", err.Error()),
		)
		s.recordWriteFailure("write_spans", err)
		return 0, fmt.Errorf("persist span batch: %w", err)
	}

	return len(spans), nil
}

func spanFromPayload(tenantID string, payload *SpanPayload, receivedAt time.Time) *store.Span {
	status := payload.Status
	if status == "" {
		status = store.StatusOK
	}

	span := &store.Span{
		TenantID:      tenantID,
		TraceID:       payload.TraceID,
		SpanID:        payload.SpanID,
		ParentSpanID:  payload.ParentSpanID,
		Name:          payload.Name,
		Type:          payload.Type,
		StartTime:     payload.StartTime.UTC(),
		EndTime:       payload.EndTime.UTC(),
		Status:        status,
		StatusMessage: payload.StatusMessage,
		Input:         rawPayloadString(payload.Input),
		Output:        rawPayloadString(payload.Output),
		Provider:      payload.Provider,
		Model:         payload.Model,
		Metadata:      payload.Metadata,
		ReceivedAt:    receivedAt,
	}
	if payload.InputTokens != nil {
		span.InputTokens = *payload.InputTokens
	}
	if payload.OutputTokens != nil {
		span.OutputTokens = *payload.OutputTokens
	}
	if payload.InputCost != nil {
		span.InputCostMicros = CostToMicros(*payload.InputCost)
	}
	if payload.OutputCost != nil {
		span.OutputCostMicros = CostToMicros(*payload.OutputCost)
	}
	return span
}

func utcTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

// rawPayloadPtr distinguishes an omitted payload from an explicit JSON null:
// omitted stays nil (the write does not carry the field), null becomes an
// empty value (the write carries "no payload" and will win a field merge).
func rawPayloadPtr(raw []byte) *string {
	if raw == nil {
		return nil
	}
	value := rawPayloadString(raw)
	return &value
}

func rawPayloadString(raw []byte) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}
