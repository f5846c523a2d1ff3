package rollup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spanlight/spanlight/internal/store"
)

// CompactorDiagnosticsReader exposes runtime compaction diagnostics.
type CompactorDiagnosticsReader interface {
	CompactorDiagnostics() CompactorDiagnostics
}

// CompactorDiagnostics captures compaction pass counters for operator
// diagnostics.
type CompactorDiagnostics struct {
	Interval           string     `json:"interval"`
	MaxKeysPerPass     int        `json:"max_keys_per_pass"`
	PassesTotal        int64      `json:"passes_total"`
	PassFailuresTotal  int64      `json:"pass_failures_total"`
	KeysCompactedTotal int64      `json:"keys_compacted_total"`
	RowsMergedTotal    int64      `json:"rows_merged_total"`
	LastPassAt         *time.Time `json:"last_pass_at,omitempty"`
	LastErrorClass     string     `json:"last_error_class,omitempty"`
}

// CompactorMetrics holds optional callbacks the compactor invokes per pass.
type CompactorMetrics struct {
	// OnPass is called after each compaction pass with its outcome.
	OnPass func(stats store.CompactStats, duration time.Duration, err error)
}

// Compactor periodically folds accumulated rollup delta rows. Losing or
// skipping passes is harmless: reads fold every delta row themselves.
type Compactor struct {
	store    store.Store
	interval time.Duration
	maxKeys  int
	log      *slog.Logger

	started      atomic.Bool
	stopped      atomic.Bool
	stopOnce     sync.Once
	doneOnce     sync.Once
	done         chan struct{}
	wg           sync.WaitGroup
	lifecycleMu  sync.RWMutex
	workerCancel context.CancelFunc
	metrics      atomic.Value // *CompactorMetrics

	passesTotal        atomic.Int64
	passFailuresTotal  atomic.Int64
	keysCompactedTotal atomic.Int64
	rowsMergedTotal    atomic.Int64
	lastPassUnixNano   atomic.Int64
	lastErrorClass     atomic.Value // string
}

func NewCompactor(st store.Store, interval time.Duration, maxKeys int, log *slog.Logger) *Compactor {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxKeys <= 0 {
		maxKeys = 100
	}
	if log == nil {
		log = slog.Default()
	}

	compactor := &Compactor{
		store:    st,
		interval: interval,
		maxKeys:  maxKeys,
		log:      log,
		done:     make(chan struct{}),
	}
	compactor.metrics.Store(&CompactorMetrics{})
	compactor.lastErrorClass.Store("")
	return compactor
}

// SetMetrics replaces the metric callbacks used by the compactor.
func (c *Compactor) SetMetrics(m *CompactorMetrics) {
	if c == nil {
		return
	}
	if m == nil {
		m = &CompactorMetrics{}
	}
	c.metrics.Store(m)
}

func (c *Compactor) loadMetrics() *CompactorMetrics {
	m, _ := c.metrics.Load().(*CompactorMetrics)
	return m
}

func (c *Compactor) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.lifecycleMu.Lock()
	c.workerCancel = cancel
	c.lifecycleMu.Unlock()

	c.wg.Add(1)
	go func(workerCtx context.Context) {
		defer c.wg.Done()
		defer c.markDone()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if _, err := c.RunOnce(workerCtx); err != nil && workerCtx.Err() == nil {
					c.log.Warn("rollup compaction pass failed",
						slog.String("error", err.Error()),
						slog.String("error_class", store.ClassifyWriteError(err)),
					)
				}
			}
		}
	}(workerCtx)
}

// RunOnce performs a single compaction pass over at most maxKeys keys.
func (c *Compactor) RunOnce(ctx context.Context) (store.CompactStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	stats, err := c.store.CompactRollups(ctx, c.maxKeys)

	c.passesTotal.Add(1)
	c.lastPassUnixNano.Store(time.Now().UTC().UnixNano())
	c.keysCompactedTotal.Add(int64(stats.KeysCompacted))
	c.rowsMergedTotal.Add(int64(stats.RowsMerged))
	if err != nil {
		c.passFailuresTotal.Add(1)
		c.lastErrorClass.Store(store.ClassifyWriteError(err))
	}

	if m := c.loadMetrics(); m != nil && m.OnPass != nil {
		m.OnPass(stats, time.Since(start), err)
	}

	return stats, err
}

func (c *Compactor) Stop() {
	_ = c.Shutdown(context.Background())
}

func (c *Compactor) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.cancelWorker()
		if !c.started.Load() {
			c.markDone()
		}
	})

	select {
	case <-c.done:
		c.wg.Wait()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Compactor) cancelWorker() {
	if c == nil {
		return
	}
	c.lifecycleMu.RLock()
	cancel := c.workerCancel
	c.lifecycleMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Compactor) markDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// CompactorDiagnostics returns a point-in-time snapshot of compaction
// counters.
func (c *Compactor) CompactorDiagnostics() CompactorDiagnostics {
	if c == nil {
		return CompactorDiagnostics{}
	}

	snapshot := CompactorDiagnostics{
		Interval:           c.interval.String(),
		MaxKeysPerPass:     c.maxKeys,
		PassesTotal:        c.passesTotal.Load(),
		PassFailuresTotal:  c.passFailuresTotal.Load(),
		KeysCompactedTotal: c.keysCompactedTotal.Load(),
		RowsMergedTotal:    c.rowsMergedTotal.Load(),
	}
	if ts := c.lastPassUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastPassAt = &last
	}
	if class, ok := c.lastErrorClass.Load().(string); ok {
		snapshot.LastErrorClass = class
	}

	return snapshot
}
