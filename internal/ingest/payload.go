// Package ingest validates incoming trace and span payloads, stamps trace
// writes with monotonic versions, and hands the normalized records to
// storage.
package ingest

import (
	"encoding/json"
	"time"
)

// TracePayload is one write against a logical trace as submitted by a client.
// Every field except trace_id is optional: an open write typically carries
// name/start_time, a close write carries end_time/status, and either may
// carry more. Omitted fields are never stored, so they cannot clobber values
// from other writes.
type TracePayload struct {
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

// SpanPayload is one completed span as submitted by a client. Spans are
// reported once, after they finish, and are immutable from then on.
type SpanPayload struct {
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
