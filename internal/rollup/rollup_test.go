package rollup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/store"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubStore satisfies store.Store for the methods the compactor touches.
type stubStore struct {
	store.Store
	compact func(ctx context.Context, maxKeys int) (store.CompactStats, error)
	calls   atomic.Int64
}

func (s *stubStore) CompactRollups(ctx context.Context, maxKeys int) (store.CompactStats, error) {
	s.calls.Add(1)
	if s.compact == nil {
		return store.CompactStats{}, nil
	}
	return s.compact(ctx, maxKeys)
}

func timePtr(value time.Time) *time.Time { return &value }

func TestFoldIsOrderIndependent(t *testing.T) {
	t.Parallel()

	end1 := time.Date(2026, 3, 21, 10, 0, 1, 0, time.UTC)
	end2 := end1.Add(5 * time.Second)
	deltas := []store.RollupDelta{
		{InputTokens: 10, OutputTokens: 2, InputCostMicros: 5, SpanCount: 1, MaxEndTime: timePtr(end2)},
		{InputTokens: 3, OutputCostMicros: 7, SpanCount: 1, MaxEndTime: timePtr(end1)},
		{InputTokens: 1, SpanCount: 1},
	}

	forward := Fold(deltas)
	reversed := Fold([]store.RollupDelta{deltas[2], deltas[1], deltas[0]})

	if forward.InputTokens != 14 || forward.OutputTokens != 2 || forward.SpanCount != 3 {
		t.Fatalf("fold=%+v, want 14/2 tokens over 3 spans", forward)
	}
	if forward.InputCostMicros != 5 || forward.OutputCostMicros != 7 {
		t.Fatalf("fold cost=%d/%d, want 5/7", forward.InputCostMicros, forward.OutputCostMicros)
	}
	if forward.MaxEndTime == nil || !forward.MaxEndTime.Equal(end2) {
		t.Fatalf("fold max end=%v, want %v", forward.MaxEndTime, end2)
	}

	if forward.InputTokens != reversed.InputTokens ||
		forward.SpanCount != reversed.SpanCount ||
		!forward.MaxEndTime.Equal(*reversed.MaxEndTime) {
		t.Fatalf("fold depends on order: forward=%+v reversed=%+v", forward, reversed)
	}

	// Folding a fold with the remaining deltas matches folding everything at
	// once (associativity, the property compaction relies on).
	partial := Fold(deltas[:2])
	combined := Fold([]store.RollupDelta{
		{
			InputTokens:      partial.InputTokens,
			OutputTokens:     partial.OutputTokens,
			InputCostMicros:  partial.InputCostMicros,
			OutputCostMicros: partial.OutputCostMicros,
			SpanCount:        partial.SpanCount,
			MaxEndTime:       partial.MaxEndTime,
		},
		deltas[2],
	})
	if combined.InputTokens != forward.InputTokens || combined.SpanCount != forward.SpanCount {
		t.Fatalf("re-folded=%+v, want %+v", combined, forward)
	}
}

func TestFoldEmptyIsZero(t *testing.T) {
	t.Parallel()

	folded := Fold(nil)
	if folded.SpanCount != 0 || folded.InputTokens != 0 || folded.MaxEndTime != nil {
		t.Fatalf("Fold(nil)=%+v, want zero value", folded)
	}
}

func TestCompactorRunOnceAccumulatesDiagnostics(t *testing.T) {
	t.Parallel()

	st := &stubStore{
		compact: func(context.Context, int) (store.CompactStats, error) {
			return store.CompactStats{KeysCompacted: 2, RowsMerged: 9}, nil
		},
	}
	compactor := NewCompactor(st, time.Minute, 50, nil)

	stats, err := compactor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if stats.KeysCompacted != 2 || stats.RowsMerged != 9 {
		t.Fatalf("stats=%+v, want 2 keys / 9 rows", stats)
	}

	if _, err := compactor.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() second pass error: %v", err)
	}

	diag := compactor.CompactorDiagnostics()
	if diag.PassesTotal != 2 || diag.KeysCompactedTotal != 4 || diag.RowsMergedTotal != 18 {
		t.Fatalf("diagnostics=%+v, want 2 passes / 4 keys / 18 rows", diag)
	}
	if diag.PassFailuresTotal != 0 || diag.LastErrorClass != "" {
		t.Fatalf("diagnostics=%+v, want no failures", diag)
	}
	if diag.LastPassAt == nil {
		t.Fatalf("LastPassAt is nil, want set")
	}
	if diag.MaxKeysPerPass != 50 {
		t.Fatalf("MaxKeysPerPass=%d, want 50", diag.MaxKeysPerPass)
	}
}

func TestCompactorRunOnceRecordsFailures(t *testing.T) {
	t.Parallel()

	st := &stubStore{
		compact: func(context.Context, int) (store.CompactStats, error) {
			return store.CompactStats{}, errors.New("database is locked")
		},
	}
	compactor := NewCompactor(st, time.Minute, 10, nil)

	var passErr error
	compactor.SetMetrics(&CompactorMetrics{
		OnPass: func(stats store.CompactStats, duration time.Duration, err error) {
			passErr = err
		},
	})

	if _, err := compactor.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() error is nil, want failure")
	}
	if passErr == nil {
		t.Fatal("OnPass did not receive the pass error")
	}

	diag := compactor.CompactorDiagnostics()
	if diag.PassFailuresTotal != 1 {
		t.Fatalf("PassFailuresTotal=%d, want 1", diag.PassFailuresTotal)
	}
	if diag.LastErrorClass != store.WriteErrorClassContention {
		t.Fatalf("LastErrorClass=%q, want %q", diag.LastErrorClass, store.WriteErrorClassContention)
	}
}

func TestCompactorStartRunsPeriodicPasses(t *testing.T) {
	t.Parallel()

	st := &stubStore{
		compact: func(context.Context, int) (store.CompactStats, error) {
			return store.CompactStats{KeysCompacted: 1, RowsMerged: 2}, nil
		},
	}
	compactor := NewCompactor(st, 5*time.Millisecond, 10, nil)
	compactor.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for st.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("compactor ran %d passes, want at least 3", st.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := compactor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	settled := st.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if st.calls.Load() != settled {
		t.Fatalf("compactor kept running after shutdown")
	}
}

func TestCompactorShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	compactor := NewCompactor(&stubStore{}, time.Minute, 10, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := compactor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() without Start error: %v", err)
	}
}

func TestCompactorStartIsIdempotent(t *testing.T) {
	t.Parallel()

	compactor := NewCompactor(&stubStore{}, time.Hour, 10, nil)
	compactor.Start(context.Background())
	compactor.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := compactor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
