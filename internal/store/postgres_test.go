package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("SPANLIGHT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("SPANLIGHT_TEST_POSTGRES_DSN is not set")
	}

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// Each test works inside its own throwaway tenant so runs against a shared
// database do not interfere with each other.
func newPostgresTestTenant(t *testing.T, store *PostgresStore) string {
	t.Helper()

	tenantID := fmt.Sprintf("tenant-test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = store.PurgeTenant(context.Background(), tenantID)
	})
	return tenantID
}

func TestPostgresStoreTraceWriteRoundTrip(t *testing.T) {
	store := newPostgresTestStore(t)
	tenantID := newPostgresTestTenant(t, store)
	ctx := context.Background()

	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	name := "pg-round-trip"
	write := &TraceWrite{
		TenantID:  tenantID,
		TraceID:   "trace-pg-1",
		Version:   1000,
		Name:      &name,
		StartTime: &start,
		Tags:      map[string]string{"env": "test"},
	}
	if err := store.WriteTraceVersion(ctx, write); err != nil {
		t.Fatalf("WriteTraceVersion() error: %v", err)
	}

	writes, err := store.TraceWrites(ctx, tenantID, "trace-pg-1")
	if err != nil {
		t.Fatalf("TraceWrites() error: %v", err)
	}
	if len(writes) != 1 {
		t.Fatalf("len(writes)=%d, want 1", len(writes))
	}
	got := writes[0]
	if got.Name == nil || *got.Name != name {
		t.Fatalf("name=%v, want %q", got.Name, name)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Fatalf("start_time=%v, want %v", got.StartTime, start)
	}
	if got.EndTime != nil || got.Status != nil {
		t.Fatalf("end_time=%v status=%v, want both nil", got.EndTime, got.Status)
	}
	if got.Tags["env"] != "test" {
		t.Fatalf("tags=%v, want env=test", got.Tags)
	}
}

func TestPostgresStoreSpanRollupAndCompaction(t *testing.T) {
	store := newPostgresTestStore(t)
	tenantID := newPostgresTestTenant(t, store)
	ctx := context.Background()

	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		span := &Span{
			TenantID:        tenantID,
			TraceID:         "trace-pg-roll",
			SpanID:          fmt.Sprintf("span-%02d", i),
			Name:            "step",
			Type:            SpanTypeLLM,
			StartTime:       base.Add(time.Duration(i) * time.Second),
			EndTime:         base.Add(time.Duration(i+1) * time.Second),
			Status:          StatusOK,
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			InputTokens:     25,
			OutputTokens:    5,
			InputCostMicros: 10,
		}
		if err := store.WriteSpans(ctx, []*Span{span}); err != nil {
			t.Fatalf("WriteSpans(%d) error: %v", i, err)
		}
	}

	before, err := store.Rollup(ctx, tenantID, "trace-pg-roll")
	if err != nil {
		t.Fatalf("Rollup() error: %v", err)
	}
	if before.SpanCount != 4 || before.InputTokens != 100 || before.OutputTokens != 20 {
		t.Fatalf("rollup=%+v, want 4 spans and 100/20 tokens", before)
	}
	if before.MaxEndTime == nil || !before.MaxEndTime.Equal(base.Add(4*time.Second)) {
		t.Fatalf("rollup max_end_time=%v, want %v", before.MaxEndTime, base.Add(4*time.Second))
	}

	if _, err := store.CompactRollups(ctx, 100); err != nil {
		t.Fatalf("CompactRollups() error: %v", err)
	}

	after, err := store.Rollup(ctx, tenantID, "trace-pg-roll")
	if err != nil {
		t.Fatalf("Rollup() after compaction error: %v", err)
	}
	if after.SpanCount != before.SpanCount || after.InputTokens != before.InputTokens {
		t.Fatalf("rollup changed by compaction, before=%+v after=%+v", before, after)
	}
}

func TestPostgresStoreListAndPurge(t *testing.T) {
	store := newPostgresTestStore(t)
	tenantID := newPostgresTestTenant(t, store)
	ctx := context.Background()

	start := time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		open := start.Add(time.Duration(i) * time.Minute)
		write := &TraceWrite{
			TenantID:  tenantID,
			TraceID:   fmt.Sprintf("trace-pg-list-%d", i),
			Version:   int64(1000 + i),
			StartTime: &open,
		}
		if err := store.WriteTraceVersion(ctx, write); err != nil {
			t.Fatalf("WriteTraceVersion(%d) error: %v", i, err)
		}
	}

	page, err := store.ListTraceWrites(ctx, TraceListFilter{TenantID: tenantID, Limit: 2})
	if err != nil {
		t.Fatalf("ListTraceWrites() error: %v", err)
	}
	if len(page.Order) != 2 || page.Order[0] != "trace-pg-list-2" {
		t.Fatalf("page order=%v, want newest version first", page.Order)
	}
	if page.NextCursor == "" {
		t.Fatalf("next cursor is empty, want set")
	}

	page2, err := store.ListTraceWrites(ctx, TraceListFilter{TenantID: tenantID, Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("ListTraceWrites(cursor) error: %v", err)
	}
	if len(page2.Order) != 1 || page2.Order[0] != "trace-pg-list-0" {
		t.Fatalf("page 2 order=%v, want [trace-pg-list-0]", page2.Order)
	}

	result, err := store.PurgeTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("PurgeTenant() error: %v", err)
	}
	if result.TraceWrites != 3 {
		t.Fatalf("purged trace_writes=%d, want 3", result.TraceWrites)
	}
}
