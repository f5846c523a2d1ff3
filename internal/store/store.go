package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store record not found")
var ErrInvalidCursor = errors.New("trace cursor is invalid")

// Store is the persistence boundary for the ingestion and read paths.
// Trace writes append physical rows, span writes append immutable rows plus
// one rollup delta in the same transaction, and every read re-derives state
// from the raw rows rather than trusting any single materialized record.
type Store interface {
	// WriteTraceVersion appends one physical trace write. It never updates
	// an existing row; reconciliation happens at read time.
	WriteTraceVersion(ctx context.Context, write *TraceWrite) error
	// WriteSpans appends completed spans and their rollup deltas atomically.
	WriteSpans(ctx context.Context, spans []*Span) error

	// TraceWrites returns every physical write for one logical trace,
	// ordered by ascending version. Empty result means the trace is unknown.
	TraceWrites(ctx context.Context, tenantID, traceID string) ([]*TraceWrite, error)
	// ListTraceWrites pages over logical traces (newest version first) and
	// returns all physical writes for each trace on the page.
	ListTraceWrites(ctx context.Context, filter TraceListFilter) (*TraceWritePage, error)
	// Spans returns every span recorded for a trace, ordered by start time.
	Spans(ctx context.Context, tenantID, traceID string) ([]*Span, error)

	// Rollup folds every pending delta for one trace key at read time.
	Rollup(ctx context.Context, tenantID, traceID string) (*Rollup, error)
	// Rollups folds deltas for many keys in one round trip.
	Rollups(ctx context.Context, tenantID string, traceIDs []string) (map[string]*Rollup, error)
	// CompactRollups folds multi-row keys into single rows. Purely a
	// performance optimization: reads are correct whether or not it ever runs.
	CompactRollups(ctx context.Context, maxKeys int) (CompactStats, error)

	// UsageSummary sums token/cost fields over spans for a tenant.
	UsageSummary(ctx context.Context, filter AnalyticsFilter) (*UsageSummary, error)
	// ModelBreakdown groups span usage by provider and model.
	ModelBreakdown(ctx context.Context, filter AnalyticsFilter) ([]ModelUsage, error)

	// PurgeTenant bulk-deletes every record owned by a tenant. Traces and
	// spans are never deleted individually.
	PurgeTenant(ctx context.Context, tenantID string) (PurgeResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// TraceListFilter selects a page of logical traces for one tenant.
// From/To match the trace's open time; UserID, SessionID, and Environment
// match any physical write carrying the value (these fields are set once on
// the open write, so this is equivalent to filtering the merged view).
type TraceListFilter struct {
	TenantID    string
	UserID      string
	SessionID   string
	Environment string
	From        time.Time
	To          time.Time
	Limit       int
	Cursor      string
}

// TraceWritePage is one page of logical traces. Writes holds, for each trace
// id in Order, every physical write ordered by ascending version.
type TraceWritePage struct {
	Order      []string
	Writes     map[string][]*TraceWrite
	NextCursor string
}

type AnalyticsFilter struct {
	TenantID string
	From     time.Time
	To       time.Time
}

type UsageSummary struct {
	SpanCount        int64
	InputTokens      int64
	OutputTokens     int64
	InputCostMicros  int64
	OutputCostMicros int64
}

type ModelUsage struct {
	Provider         string
	Model            string
	SpanCount        int64
	InputTokens      int64
	OutputTokens     int64
	InputCostMicros  int64
	OutputCostMicros int64
}

type CompactStats struct {
	KeysCompacted int
	RowsMerged    int
}

type PurgeResult struct {
	TraceWrites  int64
	Spans        int64
	RollupDeltas int64
}
