package core

import (
	"sort"
	"time"
)

// CanonicalUnit is the unit tag trusted during timestamp collisions.
// Metric sources emit a mix of typed ("Count") and untyped ("None" or empty)
// samples for the same instant; the typed one wins.
const CanonicalUnit = "Count"

// MetricPoint is one raw usage sample from a metric source.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// Dedupe collapses points sharing an identical timestamp into one.
// Per collision: a canonical-unit point outranks a non-canonical one; at
// equal rank the larger value wins. Output is sorted by timestamp, which
// makes the result independent of input order and the function idempotent.
func Dedupe(points []MetricPoint) []MetricPoint {
	if len(points) == 0 {
		return nil
	}

	best := make(map[int64]MetricPoint, len(points))
	for _, p := range points {
		key := p.Timestamp.UnixNano()
		cur, seen := best[key]
		if !seen || outranks(p, cur) {
			best[key] = p
		}
	}

	out := make([]MetricPoint, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func outranks(candidate, incumbent MetricPoint) bool {
	cr, ir := unitRank(candidate.Unit), unitRank(incumbent.Unit)
	if cr != ir {
		return cr > ir
	}
	return candidate.Value > incumbent.Value
}

func unitRank(unit string) int {
	if unit == CanonicalUnit {
		return 1
	}
	return 0
}
