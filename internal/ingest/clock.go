package ingest

import (
	"sync/atomic"
	"time"
)

// VersionClock assigns write versions. Versions are wall-clock milliseconds
// guarded to be strictly increasing: two writes accepted in the same
// millisecond, or after the wall clock steps backwards, still get distinct
// ascending versions. The guard is process-local; a single clock must stamp
// all writes of a deployment.
type VersionClock struct {
	last atomic.Int64
	now  func() time.Time
}

func NewVersionClock() *VersionClock {
	return &VersionClock{now: time.Now}
}

// Next returns the next version.
func (c *VersionClock) Next() int64 {
	nowMillis := c.now().UnixMilli()
	for {
		last := c.last.Load()
		version := nowMillis
		if version <= last {
			version = last + 1
		}
		if c.last.CompareAndSwap(last, version) {
			return version
		}
	}
}
