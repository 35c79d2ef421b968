package pipeline

import (
	"sync/atomic"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// Counters are the shared crawl counters, updated by all stages.
type Counters struct {
	Extracted   atomic.Int64
	Transformed atomic.Int64
	Published   atomic.Int64
	Failed      atomic.Int64
}

// Snapshot returns a plain-value copy for reporting.
func (c *Counters) Snapshot() CounterValues {
	return CounterValues{
		Extracted:   c.Extracted.Load(),
		Transformed: c.Transformed.Load(),
		Published:   c.Published.Load(),
		Failed:      c.Failed.Load(),
	}
}

// CounterValues is a point-in-time copy of the crawl counters.
type CounterValues struct {
	Extracted   int64 `json:"extracted"`
	Transformed int64 `json:"transformed"`
	Published   int64 `json:"published"`
	Failed      int64 `json:"failed"`
}

// hasFailed reports whether a stage already tagged the item as failed;
// downstream stages forward such items untouched so the metrics stage still
// counts them.
func hasFailed(item models.QueueItem) bool {
	for _, timing := range item.Timings() {
		if timing.Phase == models.PhaseError {
			return true
		}
	}
	return false
}
