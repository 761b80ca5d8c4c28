package risk

import "time"

const (
	rateBuckets  = 10
	rateBucketNs = int64(time.Second) / rateBuckets
)

// rateWindow counts orders over a sliding one-second window using fixed
// sub-second buckets. Not safe for concurrent use; the gate serializes
// access.
type rateWindow struct {
	counts   [rateBuckets]int
	lastTick int64
}

// observe records one order at time now and returns the number of orders
// seen in the trailing window, including this one.
func (w *rateWindow) observe(now int64) int {
	tick := now / rateBucketNs
	if w.lastTick == 0 {
		w.lastTick = tick
	}
	if tick > w.lastTick {
		gap := tick - w.lastTick
		if gap >= rateBuckets {
			w.counts = [rateBuckets]int{}
		} else {
			for i := int64(1); i <= gap; i++ {
				w.counts[(w.lastTick+i)%rateBuckets] = 0
			}
		}
		w.lastTick = tick
	}
	w.counts[tick%rateBuckets]++

	total := 0
	for _, c := range w.counts {
		total += c
	}
	return total
}
