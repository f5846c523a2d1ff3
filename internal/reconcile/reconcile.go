// Package reconcile merges the physical write history of a trace into its
// current logical view. Merging is field-wise last-writer-wins: for every
// field independently, the value comes from the highest-version write that
// carried the field. Writes that did not carry a field (nil) never clear it,
// so an out-of-order close write cannot clobber the open write's fields.
package reconcile

import (
	"sort"
	"time"

	"github.com/spanlight/spanlight/internal/store"
)

// Trace is the reconciled view of one logical trace. Field semantics follow
// the write model: nil means no write has supplied the field yet.
type Trace struct {
	TenantID string
	TraceID  string

	// Version is the highest write version merged in; it changes whenever
	// any new write lands, making it usable as a cheap freshness token.
	Version    int64
	WriteCount int

	Name          *string
	StartTime     *time.Time
	EndTime       *time.Time
	Status        *string
	StatusMessage *string
	Input         *string
	Output        *string
	UserID        *string
	SessionID     *string
	Environment   *string
	Tags          map[string]string
}

// Merge folds a trace's write history into its reconciled view. The input
// order does not matter; writes are resolved by version, and a nil input
// or empty history yields nil.
func Merge(writes []*store.TraceWrite) *Trace {
	ordered := make([]*store.TraceWrite, 0, len(writes))
	for _, write := range writes {
		if write != nil {
			ordered = append(ordered, write)
		}
	}
	if len(ordered) == 0 {
		return nil
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Version < ordered[j].Version
	})

	merged := &Trace{
		TenantID:   ordered[0].TenantID,
		TraceID:    ordered[0].TraceID,
		WriteCount: len(ordered),
	}
	for _, write := range ordered {
		merged.Version = write.Version
		if write.Name != nil {
			merged.Name = write.Name
		}
		if write.StartTime != nil {
			merged.StartTime = write.StartTime
		}
		if write.EndTime != nil {
			merged.EndTime = write.EndTime
		}
		if write.Status != nil {
			merged.Status = write.Status
		}
		if write.StatusMessage != nil {
			merged.StatusMessage = write.StatusMessage
		}
		if write.Input != nil {
			merged.Input = write.Input
		}
		if write.Output != nil {
			merged.Output = write.Output
		}
		if write.UserID != nil {
			merged.UserID = write.UserID
		}
		if write.SessionID != nil {
			merged.SessionID = write.SessionID
		}
		if write.Environment != nil {
			merged.Environment = write.Environment
		}
		if write.Tags != nil {
			merged.Tags = write.Tags
		}
	}

	return merged
}

// EffectiveEnd resolves a trace's end time. The trace's own end time wins
// whenever a close write carried one; only a trace whose close never arrived
// falls back to the latest span end its rollup has seen. A span outliving
// the close write never extends the closed trace.
func EffectiveEnd(trace *Trace, rollup *store.Rollup) *time.Time {
	if trace != nil && trace.EndTime != nil {
		return trace.EndTime
	}
	if rollup != nil && rollup.MaxEndTime != nil {
		return rollup.MaxEndTime
	}
	return nil
}

// Duration returns end-start, or nil unless end is strictly after start.
// Partial traces, clock skew, and zero-length intervals all surface as
// "unknown duration" rather than a zero or negative value.
func Duration(start, end *time.Time) *time.Duration {
	if start == nil || end == nil || !end.After(*start) {
		return nil
	}
	d := end.Sub(*start)
	return &d
}

// CostUnits converts integer micro-units back to display currency units.
func CostUnits(micros int64) float64 {
	return float64(micros) / 1e6
}
