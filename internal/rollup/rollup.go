// Package rollup maintains the incrementally aggregated per-trace usage
// totals. Every span write appends one delta row; readers fold all delta rows
// for a key on every read, so the background compactor here is purely a row
// count optimization and never changes what a read returns.
package rollup

import "github.com/spanlight/spanlight/internal/store"

// Fold merges deltas into a single rollup. The fold sums every counter and
// takes the max end time, so it is commutative and associative: deltas can be
// merged in any order and any grouping with the same result.
func Fold(deltas []store.RollupDelta) store.Rollup {
	var folded store.Rollup
	for _, delta := range deltas {
		folded.InputTokens += delta.InputTokens
		folded.OutputTokens += delta.OutputTokens
		folded.InputCostMicros += delta.InputCostMicros
		folded.OutputCostMicros += delta.OutputCostMicros
		folded.SpanCount += delta.SpanCount
		if delta.MaxEndTime != nil && (folded.MaxEndTime == nil || delta.MaxEndTime.After(*folded.MaxEndTime)) {
			end := delta.MaxEndTime.UTC()
			folded.MaxEndTime = &end
		}
	}
	return folded
}
