package ingest

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func TestVersionClockUsesWallClockMillis(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 22, 10, 0, 0, 0, time.UTC)
	clock := &VersionClock{now: func() time.Time { return now }}

	if got := clock.Next(); got != now.UnixMilli() {
		t.Fatalf("Next()=%d, want %d", got, now.UnixMilli())
	}
}

func TestVersionClockBreaksSameMillisecondTies(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 22, 10, 0, 0, 0, time.UTC)
	clock := &VersionClock{now: func() time.Time { return now }}

	first := clock.Next()
	second := clock.Next()
	third := clock.Next()
	if second != first+1 || third != second+1 {
		t.Fatalf("versions=[%d %d %d], want strictly increasing by 1 within one millisecond", first, second, third)
	}
}

func TestVersionClockSurvivesClockStepBack(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 22, 10, 0, 0, 0, time.UTC)
	clock := &VersionClock{now: func() time.Time { return now }}

	first := clock.Next()

	// Wall clock steps backwards; versions must not.
	now = now.Add(-time.Minute)
	second := clock.Next()
	if second <= first {
		t.Fatalf("version after step-back=%d, want > %d", second, first)
	}

	// Once the wall clock catches up again, versions track it.
	now = now.Add(2 * time.Minute)
	third := clock.Next()
	if third != now.UnixMilli() {
		t.Fatalf("version after recovery=%d, want wall clock %d", third, now.UnixMilli())
	}
}

func TestVersionClockConcurrentCallersGetDistinctVersions(t *testing.T) {
	t.Parallel()

	clock := NewVersionClock()

	const callers = 16
	const perCaller = 100

	var wg sync.WaitGroup
	results := make(chan int64, callers*perCaller)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				results <- clock.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	versions := make([]int64, 0, callers*perCaller)
	for v := range results {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i := 1; i < len(versions); i++ {
		if versions[i] == versions[i-1] {
			t.Fatalf("duplicate version %d assigned to concurrent callers", versions[i])
		}
	}
}
