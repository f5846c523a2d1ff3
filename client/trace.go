package client

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// ActiveTrace tracks one in-flight trace. Starting it enqueues the open
// write immediately, so the trace is visible (as partial) before it ends.
type ActiveTrace struct {
	client  *Client
	traceID string
	start   time.Time

	endOnce sync.Once
}

// TraceOption mutates the open write before it is enqueued.
type TraceOption func(*Trace)

// WithUser attributes the trace to an end user.
func WithUser(userID string) TraceOption {
	return func(t *Trace) { t.UserID = String(userID) }
}

// WithSession groups the trace into a session.
func WithSession(sessionID string) TraceOption {
	return func(t *Trace) { t.SessionID = String(sessionID) }
}

// WithEnvironment labels the trace's deployment environment.
func WithEnvironment(environment string) TraceOption {
	return func(t *Trace) { t.Environment = String(environment) }
}

// WithTags attaches tags to the trace.
func WithTags(tags map[string]string) TraceOption {
	return func(t *Trace) { t.Tags = tags }
}

// WithInput records the trace input payload.
func WithInput(input json.RawMessage) TraceOption {
	return func(t *Trace) { t.Input = input }
}

// StartTrace generates a trace id, enqueues the open write, and returns a
// handle for reporting spans and the eventual close write.
func (c *Client) StartTrace(name string, opts ...TraceOption) *ActiveTrace {
	now := time.Now().UTC()
	trace := &Trace{
		TraceID:   NewTraceID(),
		Name:      String(name),
		StartTime: Time(now),
	}
	for _, opt := range opts {
		opt(trace)
	}
	c.EnqueueTrace(trace)

	return &ActiveTrace{
		client:  c,
		traceID: trace.TraceID,
		start:   now,
	}
}

// TraceID returns the generated trace id, usable for correlating spans
// reported outside this handle.
func (t *ActiveTrace) TraceID() string {
	return t.traceID
}

// Span reports one completed span under this trace. A generated span id is
// returned so children can reference it as their parent.
func (t *ActiveTrace) Span(span *Span) string {
	if span == nil {
		return ""
	}
	span.TraceID = t.traceID
	if span.SpanID == "" {
		span.SpanID = NewSpanID()
	}
	t.client.EnqueueSpan(span)
	return span.SpanID
}

// End enqueues the close write. Only the first call wins; later calls are
// no-ops, so racing defer paths cannot produce conflicting close writes.
func (t *ActiveTrace) End(status string, opts ...TraceOption) {
	t.endOnce.Do(func() {
		now := time.Now().UTC()
		trace := &Trace{
			TraceID: t.traceID,
			EndTime: Time(now),
			Status:  String(status),
		}
		for _, opt := range opts {
			opt(trace)
		}
		t.client.EnqueueTrace(trace)
	})
}

// WithOutput records the trace output payload; intended for End.
func WithOutput(output json.RawMessage) TraceOption {
	return func(t *Trace) { t.Output = output }
}

// WithStatusMessage records a human-readable status detail; intended for End.
func WithStatusMessage(message string) TraceOption {
	return func(t *Trace) { t.StatusMessage = String(message) }
}

// NewTraceID returns a random 32-character lowercase hex trace id.
func NewTraceID() string {
	return randomHex(16)
}

// NewSpanID returns a random 16-character lowercase hex span id.
func NewSpanID() string {
	return randomHex(8)
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// there is no meaningful fallback for identifiers.
		panic("client: read random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
