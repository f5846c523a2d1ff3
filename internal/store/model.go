package store

import "time"

// Span type enum values accepted on the wire and persisted verbatim.
const (
	SpanTypeLLM       = "llm"
	SpanTypeTool      = "tool"
	SpanTypeRetrieval = "retrieval"
	SpanTypeChain     = "chain"
	SpanTypeCustom    = "custom"
)

// Trace/span status enum values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ValidSpanType reports whether value is a known span type.
func ValidSpanType(value string) bool {
	switch value {
	case SpanTypeLLM, SpanTypeTool, SpanTypeRetrieval, SpanTypeChain, SpanTypeCustom:
		return true
	}
	return false
}

// ValidStatus reports whether value is a known status.
func ValidStatus(value string) bool {
	return value == StatusOK || value == StatusError
}

// TraceWrite is one physical write against a logical trace. Pointer fields
// are nil when the write did not carry the field; the read-side merge takes,
// independently per field, the value from the write with the highest Version.
// Absence is encoded as nil end to end — never as an epoch sentinel.
type TraceWrite struct {
	TenantID string
	TraceID  string
	Version  int64

	Name          *string
	StartTime     *time.Time
	EndTime       *time.Time
	Status        *string
	StatusMessage *string
	Input         *string
	Output        *string
	UserID        *string
	SessionID     *string
	Environment   *string
	Tags          map[string]string

	ReceivedAt time.Time
}

// Span is one immutable record of a completed nested operation. Spans are
// written exactly once and never updated; a retried delivery under a fresh
// span id produces a duplicate row, which the rollup counts twice (accepted
// limitation — reuse the same span id for idempotent retries).
type Span struct {
	TenantID     string
	TraceID      string
	SpanID       string
	ParentSpanID string

	Name      string
	Type      string
	StartTime time.Time
	EndTime   time.Time

	Status        string
	StatusMessage string
	Input         string
	Output        string

	Provider         string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	InputCostMicros  int64
	OutputCostMicros int64

	Metadata map[string]string

	ReceivedAt time.Time
}

// RollupDelta is one partial update of a trace's rollup. Exactly one delta is
// produced per span write; the compactor may replace many deltas for a key
// with their fold. The fold (sum everything, max the end time) is commutative
// and associative, so deltas merge in any order.
type RollupDelta struct {
	TenantID string
	TraceID  string

	InputTokens      int64
	OutputTokens     int64
	InputCostMicros  int64
	OutputCostMicros int64
	SpanCount        int64
	MaxEndTime       *time.Time
}

// Rollup is the fold of every delta for one trace key.
type Rollup struct {
	InputTokens      int64
	OutputTokens     int64
	InputCostMicros  int64
	OutputCostMicros int64
	SpanCount        int64
	MaxEndTime       *time.Time
}

// DeltaForSpan derives the rollup partial update a span write emits.
func DeltaForSpan(span *Span) RollupDelta {
	delta := RollupDelta{
		TenantID:         span.TenantID,
		TraceID:          span.TraceID,
		InputTokens:      span.InputTokens,
		OutputTokens:     span.OutputTokens,
		InputCostMicros:  span.InputCostMicros,
		OutputCostMicros: span.OutputCostMicros,
		SpanCount:        1,
	}
	if !span.EndTime.IsZero() {
		end := span.EndTime.UTC()
		delta.MaxEndTime = &end
	}
	return delta
}
