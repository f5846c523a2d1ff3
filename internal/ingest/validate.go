package ingest

import (
	"fmt"
	"math"
	"strings"

	"github.com/spanlight/spanlight/internal/store"
)

const (
	traceIDHexLength = 32
	spanIDHexLength  = 16

	maxNameLength          = 512
	maxStatusMessageLength = 4096
	maxTagCount            = 64
	maxTagLength           = 256
)

// FieldError describes one rejected payload field. Rejections report every
// failing field at once so a client can fix a payload in a single round trip.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the full per-field rejection report for a payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid payload"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+": "+field.Message)
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// ValidateTrace checks one trace write payload. Only trace_id is required;
// carried fields are checked individually.
func ValidateTrace(payload *TracePayload) []FieldError {
	var errs []FieldError
	if payload == nil {
		return []FieldError{{Field: "body", Message: "payload is required"}}
	}

	if !validHexID(payload.TraceID, traceIDHexLength) {
		errs = append(errs, FieldError{
			Field:   "trace_id",
			Message: fmt.Sprintf("must be %d lowercase hex characters", traceIDHexLength),
		})
	}
	if payload.Name != nil && len(*payload.Name) > maxNameLength {
		errs = append(errs, FieldError{Field: "name", Message: fmt.Sprintf("must be at most %d bytes", maxNameLength)})
	}
	if payload.Status != nil && !store.ValidStatus(*payload.Status) {
		errs = append(errs, FieldError{Field: "status", Message: `must be "ok" or "error"`})
	}
	if payload.StatusMessage != nil && len(*payload.StatusMessage) > maxStatusMessageLength {
		errs = append(errs, FieldError{Field: "status_message", Message: fmt.Sprintf("must be at most %d bytes", maxStatusMessageLength)})
	}
	errs = append(errs, validateTags("tags", payload.Tags)...)

	return errs
}

// ValidateSpan checks one completed span payload.
func ValidateSpan(payload *SpanPayload) []FieldError {
	var errs []FieldError
	if payload == nil {
		return []FieldError{{Field: "body", Message: "payload is required"}}
	}

	if !validHexID(payload.TraceID, traceIDHexLength) {
		errs = append(errs, FieldError{
			Field:   "trace_id",
			Message: fmt.Sprintf("must be %d lowercase hex characters", traceIDHexLength),
		})
	}
	if !validHexID(payload.SpanID, spanIDHexLength) {
		errs = append(errs, FieldError{
			Field:   "span_id",
			Message: fmt.Sprintf("must be %d lowercase hex characters", spanIDHexLength),
		})
	}
	if payload.ParentSpanID != "" && !validHexID(payload.ParentSpanID, spanIDHexLength) {
		errs = append(errs, FieldError{
			Field:   "parent_span_id",
			Message: fmt.Sprintf("must be %d lowercase hex characters when set", spanIDHexLength),
		})
	}
	if strings.TrimSpace(payload.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "is required"})
	} else if len(payload.Name) > maxNameLength {
		errs = append(errs, FieldError{Field: "name", Message: fmt.Sprintf("must be at most %d bytes", maxNameLength)})
	}
	if !store.ValidSpanType(payload.Type) {
		errs = append(errs, FieldError{Field: "type", Message: `must be one of "llm", "tool", "retrieval", "chain", "custom"`})
	}
	if payload.StartTime.IsZero() {
		errs = append(errs, FieldError{Field: "start_time", Message: "is required"})
	}
	if payload.EndTime.IsZero() {
		errs = append(errs, FieldError{Field: "end_time", Message: "is required"})
	}
	if !payload.StartTime.IsZero() && !payload.EndTime.IsZero() && payload.EndTime.Before(payload.StartTime) {
		errs = append(errs, FieldError{Field: "end_time", Message: "must not be before start_time"})
	}
	if payload.Status != "" && !store.ValidStatus(payload.Status) {
		errs = append(errs, FieldError{Field: "status", Message: `must be "ok" or "error"`})
	}
	if len(payload.StatusMessage) > maxStatusMessageLength {
		errs = append(errs, FieldError{Field: "status_message", Message: fmt.Sprintf("must be at most %d bytes", maxStatusMessageLength)})
	}
	if payload.InputTokens != nil && *payload.InputTokens < 0 {
		errs = append(errs, FieldError{Field: "input_tokens", Message: "must not be negative"})
	}
	if payload.OutputTokens != nil && *payload.OutputTokens < 0 {
		errs = append(errs, FieldError{Field: "output_tokens", Message: "must not be negative"})
	}
	if err := validateCost("input_cost", payload.InputCost); err != nil {
		errs = append(errs, *err)
	}
	if err := validateCost("output_cost", payload.OutputCost); err != nil {
		errs = append(errs, *err)
	}
	errs = append(errs, validateTags("metadata", payload.Metadata)...)

	return errs
}

func validateCost(field string, value *float64) *FieldError {
	if value == nil {
		return nil
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		return &FieldError{Field: field, Message: "must be a finite number"}
	}
	if *value < 0 {
		return &FieldError{Field: field, Message: "must not be negative"}
	}
	return nil
}

func validateTags(field string, tags map[string]string) []FieldError {
	if len(tags) == 0 {
		return nil
	}
	if len(tags) > maxTagCount {
		return []FieldError{{Field: field, Message: fmt.Sprintf("must have at most %d entries", maxTagCount)}}
	}
	var errs []FieldError
	for key, value := range tags {
		if key == "" {
			errs = append(errs, FieldError{Field: field, Message: "keys must not be empty"})
			continue
		}
		if len(key) > maxTagLength || len(value) > maxTagLength {
			errs = append(errs, FieldError{
				Field:   field + "." + key,
				Message: fmt.Sprintf("keys and values must be at most %d bytes", maxTagLength),
			})
		}
	}
	return errs
}

func validHexID(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// CostToMicros converts a cost in currency units to integer micro-units,
// rounding half away from zero. Sub-micro costs round to the nearest micro,
// so 0.0000005 becomes 1 and 0.0000001 becomes 0.
func CostToMicros(units float64) int64 {
	return int64(math.Floor(units*1e6 + 0.5))
}
