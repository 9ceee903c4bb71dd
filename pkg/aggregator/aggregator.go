// Package aggregator implements the in-memory streaming aggregation engine:
// a per-second bucketed history, a global frequency index with an
// incrementally maintained order statistic, and a sliding window derived
// from the bucket history, all mutated through a single batched entry point
// and read through lock-free-of-mutation queries.
package aggregator

import (
	"container/heap"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// DefaultWindowMS is ten minutes plus a one-second slack so the boundary
// bucket stays inclusive.
const DefaultWindowMS int64 = 601_000

// Bucket is a single one-second aggregation granule.
type Bucket struct {
	StartMS int64
	Counts  map[string]int64
}

// Aggregator owns the bucket history, the global ranking index and the
// sliding window aggregate. All mutation happens through IngestBatch; every
// other method is a read that never mutates state. A single RWMutex guards
// all of it — writers exclusive, readers shared, no nested locks, no lock
// held across a call into anything outside this package.
type Aggregator struct {
	mu sync.RWMutex

	history        []Bucket
	windowStartIdx int

	globalCounts  map[string]int64
	globalRanking *ranking
	windowCounts  map[string]int64

	windowMS int64
	logger   *slog.Logger
}

// New constructs an empty Aggregator. windowMS <= 0 falls back to
// DefaultWindowMS.
func New(windowMS int64, logger *slog.Logger) *Aggregator {
	if windowMS <= 0 {
		windowMS = DefaultWindowMS
	}
	return &Aggregator{
		globalCounts:  make(map[string]int64),
		globalRanking: newRanking(),
		windowCounts:  make(map[string]int64),
		windowMS:      windowMS,
		logger:        logger,
	}
}

// IngestBatch applies one worker flush's per-bucket token deltas. It is the
// sole mutator of Aggregator state and implements, in order: bucket
// locate-or-create (with gap insertion for late arrivals), global and window
// count updates, and the window-advance sweep.
func (a *Aggregator) IngestBatch(localCounts map[string]int64, tsMS int64) {
	if len(localCounts) == 0 {
		return
	}

	bucketMS := (tsMS / 1000) * 1000

	a.mu.Lock()
	defer a.mu.Unlock()

	targetIdx := a.locateOrCreateBucketLocked(bucketMS)
	target := &a.history[targetIdx]

	latestMS := a.history[len(a.history)-1].StartMS
	expireMS := latestMS - a.windowMS
	inWindow := bucketMS >= expireMS

	for w, delta := range localCounts {
		target.Counts[w] += delta

		oldG := a.globalCounts[w]
		newG := oldG + delta
		if newG <= 0 {
			delete(a.globalCounts, w)
		} else {
			a.globalCounts[w] = newG
		}
		a.globalRanking.set(w, newG)

		if inWindow {
			a.windowCounts[w] += delta
		}
	}

	a.advanceWindowLocked(expireMS)
}

// locateOrCreateBucketLocked finds or creates the bucket for bucketMS,
// correcting windowStartIdx on gap insertion below it. Caller must hold the
// write lock.
func (a *Aggregator) locateOrCreateBucketLocked(bucketMS int64) int {
	if len(a.history) == 0 || bucketMS > a.history[len(a.history)-1].StartMS {
		a.history = append(a.history, Bucket{StartMS: bucketMS, Counts: make(map[string]int64)})
		return len(a.history) - 1
	}

	i := sort.Search(len(a.history), func(i int) bool {
		return a.history[i].StartMS >= bucketMS
	})
	if i < len(a.history) && a.history[i].StartMS == bucketMS {
		return i
	}

	a.history = append(a.history, Bucket{})
	copy(a.history[i+1:], a.history[i:])
	a.history[i] = Bucket{StartMS: bucketMS, Counts: make(map[string]int64)}

	if i <= a.windowStartIdx {
		a.windowStartIdx++
	}
	return i
}

// advanceWindowLocked drops buckets that have fallen out of the window from
// WindowCounts, advancing windowStartIdx. Caller must hold the write lock.
func (a *Aggregator) advanceWindowLocked(expireMS int64) {
	for a.windowStartIdx < len(a.history) && a.history[a.windowStartIdx].StartMS < expireMS {
		b := a.history[a.windowStartIdx]
		for w, c := range b.Counts {
			remaining := a.windowCounts[w] - c
			if remaining <= 0 {
				delete(a.windowCounts, w)
			} else {
				a.windowCounts[w] = remaining
			}
		}
		a.windowStartIdx++
	}
}

// GetTopK answers Q1: the k highest all-time counts, ties broken ascending
// by token.
func (a *Aggregator) GetTopK(k int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if k <= 0 {
		return nil
	}
	return a.globalRanking.topK(k)
}

// GetLast10MinTopK answers Q2: the k highest counts within the sliding
// window.
func (a *Aggregator) GetLast10MinTopK(k int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if k <= 0 || len(a.windowCounts) == 0 {
		return nil
	}
	return topKFromMap(a.windowCounts, k)
}

// GetTopKInTimeRange answers Q3: the k highest counts across buckets whose
// start time falls in the closed range [startMS, endMS].
func (a *Aggregator) GetTopKInTimeRange(startMS, endMS int64, k int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if k <= 0 || len(a.history) == 0 {
		return nil
	}

	i := sort.Search(len(a.history), func(i int) bool {
		return a.history[i].StartMS >= startMS
	})

	counts := make(map[string]int64)
	for ; i < len(a.history) && a.history[i].StartMS <= endMS; i++ {
		for w, c := range a.history[i].Counts {
			counts[w] += c
		}
	}
	return topKFromMap(counts, k)
}

// TrendEntry is a single Q4 result: a token, its OLS slope over the
// windowed buckets, and its window total.
type TrendEntry struct {
	Token string
	Slope float64
	Total int64
}

// GetTrending answers Q4: tokens ranked by magnitude of rate-of-change
// within the sliding window, computed by ordinary-least-squares regression
// of per-bucket frequency against bucket index.
func (a *Aggregator) GetTrending(k int, minThreshold int64) []TrendEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.history) - a.windowStartIdx
	if n < 2 || k <= 0 {
		return nil
	}

	fn := float64(n)
	sx := fn * (fn - 1) / 2
	sxx := (fn - 1) * fn * (2*fn - 1) / 6
	denom := fn*sxx - sx*sx
	if math.Abs(denom) < 1e-9 {
		return nil
	}

	sxy := make(map[string]float64)
	for i := 0; i < n; i++ {
		b := a.history[a.windowStartIdx+i]
		x := float64(i)
		for w, c := range b.Counts {
			sxy[w] += x * float64(c)
		}
	}

	candidates := make([]TrendEntry, 0, len(a.windowCounts))
	for w, total := range a.windowCounts {
		if total < minThreshold {
			continue
		}
		slope := (fn*sxy[w] - sx*float64(total)) / denom
		candidates = append(candidates, TrendEntry{Token: w, Slope: slope, Total: total})
	}

	return trendTopK(candidates, k)
}

// DebugSnapshot reports internal counters for operational introspection: the
// number of retained buckets, the number of distinct tokens tracked
// globally and within the window, the current window start index, and the
// most recent bucket's start time.
type DebugSnapshot struct {
	BucketCount      int   `json:"bucket_count"`
	GlobalTokenCount int   `json:"global_token_count"`
	WindowTokenCount int   `json:"window_token_count"`
	WindowStartIdx   int   `json:"window_start_idx"`
	LatestBucketMS   int64 `json:"latest_bucket_ms"`
}

// Debug returns a point-in-time snapshot of the aggregator's internal
// bookkeeping.
func (a *Aggregator) Debug() DebugSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var latest int64
	if len(a.history) > 0 {
		latest = a.history[len(a.history)-1].StartMS
	}

	return DebugSnapshot{
		BucketCount:      len(a.history),
		GlobalTokenCount: len(a.globalCounts),
		WindowTokenCount: len(a.windowCounts),
		WindowStartIdx:   a.windowStartIdx,
		LatestBucketMS:   latest,
	}
}

// boundedHeap and trendHeap below back the bounded top-k
// selection shared by Q2, Q3 and Q4: an O(N log k) min-heap of size k over
// the candidate set, followed by an O(k log k) sort of the survivors.

type boundedHeap []Entry

func (h boundedHeap) Len() int { return len(h) }
func (h boundedHeap) Less(i, j int) bool {
	if h[i].Count != h[j].Count {
		return h[i].Count < h[j].Count
	}
	return h[i].Token > h[j].Token
}
func (h boundedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *boundedHeap) Push(x any)        { *h = append(*h, x.(Entry)) }
func (h *boundedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topKFromMap selects the k largest (count, token) pairs from counts with an
// O(N log k) bounded heap, then sorts the k survivors descending by count,
// ascending by token.
func topKFromMap(counts map[string]int64, k int) []Entry {
	if k <= 0 || len(counts) == 0 {
		return nil
	}

	h := &boundedHeap{}
	for token, count := range counts {
		if h.Len() < k {
			heap.Push(h, Entry{Token: token, Count: count})
			continue
		}
		worst := (*h)[0]
		if count > worst.Count || (count == worst.Count && token < worst.Token) {
			heap.Pop(h)
			heap.Push(h, Entry{Token: token, Count: count})
		}
	}

	out := make([]Entry, h.Len())
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	return out
}

type trendHeap []TrendEntry

func (h trendHeap) Len() int { return len(h) }
func (h trendHeap) Less(i, j int) bool {
	ai, aj := math.Abs(h[i].Slope), math.Abs(h[j].Slope)
	if ai != aj {
		return ai < aj
	}
	if h[i].Total != h[j].Total {
		return h[i].Total < h[j].Total
	}
	return h[i].Token > h[j].Token
}
func (h trendHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *trendHeap) Push(x any)   { *h = append(*h, x.(TrendEntry)) }
func (h *trendHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// trendTopK selects the k candidates with the largest |slope|, ties broken
// by descending total, then sorts the survivors into that same order.
func trendTopK(candidates []TrendEntry, k int) []TrendEntry {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	h := &trendHeap{}
	for _, c := range candidates {
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		worst := (*h)[0]
		if trendBetter(c, worst) {
			heap.Pop(h)
			heap.Push(h, c)
		}
	}

	out := make([]TrendEntry, h.Len())
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool { return trendBetter(out[i], out[j]) })
	return out
}

func trendBetter(a, b TrendEntry) bool {
	aa, ab := math.Abs(a.Slope), math.Abs(b.Slope)
	if aa != ab {
		return aa > ab
	}
	return a.Total > b.Total
}
