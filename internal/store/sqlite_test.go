package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRetrySQLiteBusyRetriesTransientContention(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retrySQLiteBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retrySQLiteBusy() error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("retry attempts=%d, want %d", attempts, 3)
	}
}

func TestRetrySQLiteBusyHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retrySQLiteBusy(ctx, func() error {
		attempts++
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("retrySQLiteBusy() error=%v, want %v", err, context.Canceled)
	}
	if attempts != 1 {
		t.Fatalf("retry attempts=%d, want %d", attempts, 1)
	}
}

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "spanlight.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreConfiguresWAL(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)

	var mode string
	if err := store.db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
		t.Fatalf("query journal_mode pragma: %v", err)
	}
	if strings.ToLower(mode) != "wal" {
		t.Fatalf("journal_mode=%q, want wal", mode)
	}
}

func TestSQLiteStoreTraceWritesPreserveAbsentFields(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)
	name := "checkout-flow"
	userID := "user-1"
	status := StatusOK

	openWrite := &TraceWrite{
		TenantID:  "tenant-a",
		TraceID:   "0123456789abcdef0123456789abcdef",
		Version:   1000,
		Name:      &name,
		StartTime: &start,
		UserID:    &userID,
		Tags:      map[string]string{"team": "payments"},
	}
	closeWrite := &TraceWrite{
		TenantID: "tenant-a",
		TraceID:  "0123456789abcdef0123456789abcdef",
		Version:  2000,
		EndTime:  &end,
		Status:   &status,
	}

	if err := store.WriteTraceVersion(ctx, openWrite); err != nil {
		t.Fatalf("WriteTraceVersion(open) error: %v", err)
	}
	if err := store.WriteTraceVersion(ctx, closeWrite); err != nil {
		t.Fatalf("WriteTraceVersion(close) error: %v", err)
	}

	writes, err := store.TraceWrites(ctx, "tenant-a", "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("TraceWrites() error: %v", err)
	}
	if len(writes) != 2 {
		t.Fatalf("len(writes)=%d, want 2", len(writes))
	}
	if writes[0].Version != 1000 || writes[1].Version != 2000 {
		t.Fatalf("write versions=[%d %d], want ascending [1000 2000]", writes[0].Version, writes[1].Version)
	}

	got := writes[0]
	if got.Name == nil || *got.Name != name {
		t.Fatalf("open write name=%v, want %q", got.Name, name)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Fatalf("open write start_time=%v, want %v", got.StartTime, start)
	}
	if got.EndTime != nil {
		t.Fatalf("open write end_time=%v, want nil", got.EndTime)
	}
	if got.Status != nil {
		t.Fatalf("open write status=%v, want nil", got.Status)
	}
	if got.Tags["team"] != "payments" {
		t.Fatalf("open write tags=%v, want team=payments", got.Tags)
	}

	got = writes[1]
	if got.Name != nil {
		t.Fatalf("close write name=%v, want nil", got.Name)
	}
	if got.StartTime != nil {
		t.Fatalf("close write start_time=%v, want nil", got.StartTime)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Fatalf("close write end_time=%v, want %v", got.EndTime, end)
	}
	if got.Status == nil || *got.Status != StatusOK {
		t.Fatalf("close write status=%v, want %q", got.Status, StatusOK)
	}
}

func TestSQLiteStoreWriteSpansFoldsRollup(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	spans := []*Span{
		{
			TenantID:         "tenant-a",
			TraceID:          "trace-roll",
			SpanID:           "0011223344556677",
			Name:             "llm-call",
			Type:             SpanTypeLLM,
			StartTime:        base,
			EndTime:          base.Add(2 * time.Second),
			Status:           StatusOK,
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			InputTokens:      100,
			OutputTokens:     40,
			InputCostMicros:  150,
			OutputCostMicros: 240,
		},
		{
			TenantID:     "tenant-a",
			TraceID:      "trace-roll",
			SpanID:       "8899aabbccddeeff",
			Name:         "vector-lookup",
			Type:         SpanTypeRetrieval,
			StartTime:    base.Add(500 * time.Millisecond),
			EndTime:      base.Add(5 * time.Second),
			Status:       StatusOK,
			InputTokens:  7,
			OutputTokens: 0,
		},
	}
	if err := store.WriteSpans(ctx, spans); err != nil {
		t.Fatalf("WriteSpans() error: %v", err)
	}

	rollup, err := store.Rollup(ctx, "tenant-a", "trace-roll")
	if err != nil {
		t.Fatalf("Rollup() error: %v", err)
	}
	if rollup.InputTokens != 107 || rollup.OutputTokens != 40 {
		t.Fatalf("rollup tokens=%d/%d, want 107/40", rollup.InputTokens, rollup.OutputTokens)
	}
	if rollup.InputCostMicros != 150 || rollup.OutputCostMicros != 240 {
		t.Fatalf("rollup cost=%d/%d, want 150/240", rollup.InputCostMicros, rollup.OutputCostMicros)
	}
	if rollup.SpanCount != 2 {
		t.Fatalf("rollup span_count=%d, want 2", rollup.SpanCount)
	}
	if rollup.MaxEndTime == nil || !rollup.MaxEndTime.Equal(base.Add(5*time.Second)) {
		t.Fatalf("rollup max_end_time=%v, want %v", rollup.MaxEndTime, base.Add(5*time.Second))
	}

	stored, err := store.Spans(ctx, "tenant-a", "trace-roll")
	if err != nil {
		t.Fatalf("Spans() error: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("len(spans)=%d, want 2", len(stored))
	}
	if stored[0].SpanID != "0011223344556677" {
		t.Fatalf("spans[0].SpanID=%q, want earliest start first", stored[0].SpanID)
	}
}

func TestSQLiteStoreRollupEmptyTraceIsZero(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)

	rollup, err := store.Rollup(context.Background(), "tenant-a", "no-such-trace")
	if err != nil {
		t.Fatalf("Rollup() error: %v", err)
	}
	if rollup.SpanCount != 0 || rollup.InputTokens != 0 || rollup.OutputTokens != 0 {
		t.Fatalf("empty rollup=%+v, want zero", rollup)
	}
	if rollup.MaxEndTime != nil {
		t.Fatalf("empty rollup max_end_time=%v, want nil", rollup.MaxEndTime)
	}
}

func TestSQLiteStoreCompactRollupsPreservesFold(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		span := &Span{
			TenantID:         "tenant-a",
			TraceID:          "trace-compact",
			SpanID:           fmt.Sprintf("span-%016d", i),
			Name:             "step",
			Type:             SpanTypeTool,
			StartTime:        base.Add(time.Duration(i) * time.Second),
			EndTime:          base.Add(time.Duration(i+1) * time.Second),
			Status:           StatusOK,
			InputTokens:      10,
			OutputTokens:     3,
			InputCostMicros:  5,
			OutputCostMicros: 2,
		}
		if err := store.WriteSpans(ctx, []*Span{span}); err != nil {
			t.Fatalf("WriteSpans(%d) error: %v", i, err)
		}
	}

	before, err := store.Rollup(ctx, "tenant-a", "trace-compact")
	if err != nil {
		t.Fatalf("Rollup() before compaction error: %v", err)
	}

	stats, err := store.CompactRollups(ctx, 10)
	if err != nil {
		t.Fatalf("CompactRollups() error: %v", err)
	}
	if stats.KeysCompacted != 1 {
		t.Fatalf("KeysCompacted=%d, want 1", stats.KeysCompacted)
	}
	if stats.RowsMerged != 5 {
		t.Fatalf("RowsMerged=%d, want 5", stats.RowsMerged)
	}

	var remaining int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM rollup_deltas WHERE tenant_id = 'tenant-a' AND trace_id = 'trace-compact'`).Scan(&remaining); err != nil {
		t.Fatalf("count delta rows: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("delta rows after compaction=%d, want 1", remaining)
	}

	after, err := store.Rollup(ctx, "tenant-a", "trace-compact")
	if err != nil {
		t.Fatalf("Rollup() after compaction error: %v", err)
	}
	if after.InputTokens != before.InputTokens ||
		after.OutputTokens != before.OutputTokens ||
		after.InputCostMicros != before.InputCostMicros ||
		after.OutputCostMicros != before.OutputCostMicros ||
		after.SpanCount != before.SpanCount {
		t.Fatalf("rollup changed by compaction, before=%+v after=%+v", before, after)
	}
	if after.MaxEndTime == nil || !after.MaxEndTime.Equal(*before.MaxEndTime) {
		t.Fatalf("rollup max_end_time changed, before=%v after=%v", before.MaxEndTime, after.MaxEndTime)
	}

	// A second pass finds nothing left to merge.
	stats, err = store.CompactRollups(ctx, 10)
	if err != nil {
		t.Fatalf("CompactRollups() second pass error: %v", err)
	}
	if stats.KeysCompacted != 0 || stats.RowsMerged != 0 {
		t.Fatalf("second pass stats=%+v, want zero", stats)
	}
}

func TestSQLiteStoreListTraceWritesPaginates(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		traceID := fmt.Sprintf("trace-%02d", i)
		name := "run-" + traceID
		open := start.Add(time.Duration(i) * time.Minute)
		write := &TraceWrite{
			TenantID:  "tenant-a",
			TraceID:   traceID,
			Version:   int64(1000 + i),
			Name:      &name,
			StartTime: &open,
		}
		if err := store.WriteTraceVersion(ctx, write); err != nil {
			t.Fatalf("WriteTraceVersion(%s) error: %v", traceID, err)
		}
	}

	page, err := store.ListTraceWrites(ctx, TraceListFilter{TenantID: "tenant-a", Limit: 2})
	if err != nil {
		t.Fatalf("ListTraceWrites() error: %v", err)
	}
	if len(page.Order) != 2 {
		t.Fatalf("page 1 len=%d, want 2", len(page.Order))
	}
	if page.Order[0] != "trace-04" || page.Order[1] != "trace-03" {
		t.Fatalf("page 1 order=%v, want newest version first", page.Order)
	}
	if page.NextCursor == "" {
		t.Fatalf("page 1 next cursor is empty, want set")
	}
	if len(page.Writes["trace-04"]) != 1 {
		t.Fatalf("page 1 writes for trace-04=%d, want 1", len(page.Writes["trace-04"]))
	}

	page2, err := store.ListTraceWrites(ctx, TraceListFilter{TenantID: "tenant-a", Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("ListTraceWrites(cursor) error: %v", err)
	}
	if len(page2.Order) != 2 || page2.Order[0] != "trace-02" || page2.Order[1] != "trace-01" {
		t.Fatalf("page 2 order=%v, want [trace-02 trace-01]", page2.Order)
	}

	page3, err := store.ListTraceWrites(ctx, TraceListFilter{TenantID: "tenant-a", Limit: 2, Cursor: page2.NextCursor})
	if err != nil {
		t.Fatalf("ListTraceWrites(cursor) page 3 error: %v", err)
	}
	if len(page3.Order) != 1 || page3.Order[0] != "trace-00" {
		t.Fatalf("page 3 order=%v, want [trace-00]", page3.Order)
	}
	if page3.NextCursor != "" {
		t.Fatalf("page 3 next cursor=%q, want empty", page3.NextCursor)
	}
}

func TestSQLiteStoreListTraceWritesFiltersAcrossVersions(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 13, 7, 0, 0, 0, time.UTC)
	userID := "user-42"
	sessionID := "session-9"

	// The open write carries identity, the close write does not. Filters must
	// still match the logical trace.
	open := &TraceWrite{
		TenantID:  "tenant-a",
		TraceID:   "trace-filter",
		Version:   1000,
		StartTime: &start,
		UserID:    &userID,
		SessionID: &sessionID,
	}
	end := start.Add(time.Second)
	status := StatusOK
	closeWrite := &TraceWrite{
		TenantID: "tenant-a",
		TraceID:  "trace-filter",
		Version:  2000,
		EndTime:  &end,
		Status:   &status,
	}
	otherStart := start.Add(time.Minute)
	other := &TraceWrite{
		TenantID:  "tenant-a",
		TraceID:   "trace-other",
		Version:   3000,
		StartTime: &otherStart,
	}
	for _, write := range []*TraceWrite{open, closeWrite, other} {
		if err := store.WriteTraceVersion(ctx, write); err != nil {
			t.Fatalf("WriteTraceVersion(%s) error: %v", write.TraceID, err)
		}
	}

	page, err := store.ListTraceWrites(ctx, TraceListFilter{TenantID: "tenant-a", UserID: "user-42"})
	if err != nil {
		t.Fatalf("ListTraceWrites(user filter) error: %v", err)
	}
	if len(page.Order) != 1 || page.Order[0] != "trace-filter" {
		t.Fatalf("user filter order=%v, want [trace-filter]", page.Order)
	}
	if len(page.Writes["trace-filter"]) != 2 {
		t.Fatalf("writes for filtered trace=%d, want both versions", len(page.Writes["trace-filter"]))
	}

	page, err = store.ListTraceWrites(ctx, TraceListFilter{TenantID: "tenant-a", SessionID: "no-such-session"})
	if err != nil {
		t.Fatalf("ListTraceWrites(session filter) error: %v", err)
	}
	if len(page.Order) != 0 {
		t.Fatalf("session filter order=%v, want empty", page.Order)
	}

	page, err = store.ListTraceWrites(ctx, TraceListFilter{
		TenantID: "tenant-a",
		From:     start.Add(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("ListTraceWrites(time filter) error: %v", err)
	}
	if len(page.Order) != 1 || page.Order[0] != "trace-other" {
		t.Fatalf("time filter order=%v, want [trace-other]", page.Order)
	}
}

func TestSQLiteStoreListRejectsInvalidCursor(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)

	_, err := store.ListTraceWrites(context.Background(), TraceListFilter{TenantID: "tenant-a", Cursor: "not base64!"})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("ListTraceWrites(bad cursor) error=%v, want %v", err, ErrInvalidCursor)
	}
}

func TestSQLiteStoreAnalyticsQueries(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	spans := []*Span{
		{
			TenantID: "tenant-a", TraceID: "t1", SpanID: "s1",
			Name: "chat", Type: SpanTypeLLM,
			StartTime: base, EndTime: base.Add(time.Second), Status: StatusOK,
			Provider: "openai", Model: "gpt-4o-mini",
			InputTokens: 100, OutputTokens: 50, InputCostMicros: 15, OutputCostMicros: 30,
		},
		{
			TenantID: "tenant-a", TraceID: "t1", SpanID: "s2",
			Name: "chat", Type: SpanTypeLLM,
			StartTime: base.Add(time.Hour), EndTime: base.Add(time.Hour + time.Second), Status: StatusOK,
			Provider: "anthropic", Model: "claude-haiku-4-5-20251001",
			InputTokens: 200, OutputTokens: 80, InputCostMicros: 20, OutputCostMicros: 64,
		},
		{
			TenantID: "tenant-b", TraceID: "t2", SpanID: "s3",
			Name: "chat", Type: SpanTypeLLM,
			StartTime: base, EndTime: base.Add(time.Second), Status: StatusOK,
			Provider: "openai", Model: "gpt-4o-mini",
			InputTokens: 999, OutputTokens: 999,
		},
	}
	if err := store.WriteSpans(ctx, spans); err != nil {
		t.Fatalf("WriteSpans() error: %v", err)
	}

	summary, err := store.UsageSummary(ctx, AnalyticsFilter{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("UsageSummary() error: %v", err)
	}
	if summary.SpanCount != 2 || summary.InputTokens != 300 || summary.OutputTokens != 130 {
		t.Fatalf("summary=%+v, want 2 spans and 300/130 tokens", summary)
	}

	windowed, err := store.UsageSummary(ctx, AnalyticsFilter{
		TenantID: "tenant-a",
		From:     base.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("UsageSummary(window) error: %v", err)
	}
	if windowed.SpanCount != 1 || windowed.InputTokens != 200 {
		t.Fatalf("windowed summary=%+v, want only the later span", windowed)
	}

	breakdown, err := store.ModelBreakdown(ctx, AnalyticsFilter{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("ModelBreakdown() error: %v", err)
	}
	if len(breakdown) != 2 {
		t.Fatalf("len(breakdown)=%d, want 2", len(breakdown))
	}
	for _, item := range breakdown {
		if item.Provider == "openai" && item.InputTokens != 100 {
			t.Fatalf("openai input tokens=%d, want 100", item.InputTokens)
		}
		if item.Provider == "anthropic" && item.OutputCostMicros != 64 {
			t.Fatalf("anthropic output cost=%d, want 64", item.OutputCostMicros)
		}
	}
}

func TestSQLiteStorePurgeTenantRemovesAllRows(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		write := &TraceWrite{
			TenantID:  tenant,
			TraceID:   "trace-purge",
			Version:   1000,
			StartTime: &start,
		}
		if err := store.WriteTraceVersion(ctx, write); err != nil {
			t.Fatalf("WriteTraceVersion(%s) error: %v", tenant, err)
		}
		span := &Span{
			TenantID: tenant, TraceID: "trace-purge", SpanID: "s1",
			Name: "step", Type: SpanTypeCustom,
			StartTime: start, EndTime: start.Add(time.Second), Status: StatusOK,
		}
		if err := store.WriteSpans(ctx, []*Span{span}); err != nil {
			t.Fatalf("WriteSpans(%s) error: %v", tenant, err)
		}
	}

	result, err := store.PurgeTenant(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("PurgeTenant() error: %v", err)
	}
	if result.TraceWrites != 1 || result.Spans != 1 || result.RollupDeltas != 1 {
		t.Fatalf("purge result=%+v, want one row per table", result)
	}

	writes, err := store.TraceWrites(ctx, "tenant-a", "trace-purge")
	if err != nil {
		t.Fatalf("TraceWrites() after purge error: %v", err)
	}
	if len(writes) != 0 {
		t.Fatalf("tenant-a writes after purge=%d, want 0", len(writes))
	}

	survivors, err := store.TraceWrites(ctx, "tenant-b", "trace-purge")
	if err != nil {
		t.Fatalf("TraceWrites(tenant-b) error: %v", err)
	}
	if len(survivors) != 1 {
		t.Fatalf("tenant-b writes after purge=%d, want 1 untouched", len(survivors))
	}
}

func TestSQLiteStoreConcurrentSpanWriters(t *testing.T) {
	t.Parallel()

	store := newSQLiteTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			span := &Span{
				TenantID: "tenant-a", TraceID: "trace-concurrent",
				SpanID: fmt.Sprintf("span-%02d", i),
				Name:   "step", Type: SpanTypeTool,
				StartTime: base, EndTime: base.Add(time.Second), Status: StatusOK,
				InputTokens: 1,
			}
			errs <- store.WriteSpans(ctx, []*Span{span})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent WriteSpans() error: %v", err)
		}
	}

	rollup, err := store.Rollup(ctx, "tenant-a", "trace-concurrent")
	if err != nil {
		t.Fatalf("Rollup() error: %v", err)
	}
	if rollup.SpanCount != writers || rollup.InputTokens != writers {
		t.Fatalf("rollup=%+v, want %d spans and tokens", rollup, writers)
	}
}

func TestTraceCursorRoundTrip(t *testing.T) {
	t.Parallel()

	cursor := encodeTraceCursor(1234567890, "abc|def")
	version, traceID, err := decodeTraceCursor(cursor)
	if err != nil {
		t.Fatalf("decodeTraceCursor() error: %v", err)
	}
	if version != 1234567890 || traceID != "abc|def" {
		t.Fatalf("decoded cursor=%d/%q, want 1234567890/%q", version, traceID, "abc|def")
	}

	for _, bad := range []string{"%%%", "bm9wZQ", ""} {
		if _, _, err := decodeTraceCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("decodeTraceCursor(%q) error=%v, want %v", bad, err, ErrInvalidCursor)
		}
	}
}

func TestParseSQLiteTimestampLayouts(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 17, 11, 30, 15, 0, time.UTC)
	for _, raw := range []string{
		"2026-03-17T11:30:15Z",
		"2026-03-17 11:30:15",
		"2026-03-17 11:30:15+00:00",
	} {
		got, err := parseSQLiteTimestamp(raw)
		if err != nil {
			t.Fatalf("parseSQLiteTimestamp(%q) error: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseSQLiteTimestamp(%q)=%v, want %v", raw, got, want)
		}
	}

	if _, err := parseSQLiteTimestamp("next tuesday"); err == nil {
		t.Fatalf("parseSQLiteTimestamp accepted junk input")
	}
}
