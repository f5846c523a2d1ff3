package client

import (
	"encoding/json"
	"time"
)

// Trace is one write against a logical trace. Only trace_id is required;
// omitted fields are never stored so they cannot overwrite values carried by
// other writes to the same trace.
type Trace struct {
	TraceID       string            `json:"trace_id"`
	Name          *string           `json:"name,omitempty"`
	StartTime     *time.Time        `json:"start_time,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	Status        *string           `json:"status,omitempty"`
	StatusMessage *string           `json:"status_message,omitempty"`
	Input         json.RawMessage   `json:"input,omitempty"`
	Output        json.RawMessage   `json:"output,omitempty"`
	UserID        *string           `json:"user_id,omitempty"`
	SessionID     *string           `json:"session_id,omitempty"`
	Environment   *string           `json:"environment,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Span is one completed operation inside a trace. Spans are reported once,
// after they finish.
type Span struct {
	TraceID       string            `json:"trace_id"`
	SpanID        string            `json:"span_id"`
	ParentSpanID  string            `json:"parent_span_id,omitempty"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Status        string            `json:"status,omitempty"`
	StatusMessage string            `json:"status_message,omitempty"`
	Input         json.RawMessage   `json:"input,omitempty"`
	Output        json.RawMessage   `json:"output,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Model         string            `json:"model,omitempty"`
	InputTokens   *int64            `json:"input_tokens,omitempty"`
	OutputTokens  *int64            `json:"output_tokens,omitempty"`
	InputCost     *float64          `json:"input_cost,omitempty"`
	OutputCost    *float64          `json:"output_cost,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// String returns a pointer to s, for filling optional trace fields.
func String(s string) *string { return &s }

// Time returns a pointer to t, for filling optional trace fields.
func Time(t time.Time) *time.Time { return &t }

// Int64 returns a pointer to v, for filling optional span fields.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v, for filling optional span fields.
func Float64(v float64) *float64 { return &v }
