// Package ranker orders simultaneously valid candidate signals for
// sequential execution. Scores are a weighted blend of normalized
// confidence, reward-to-risk and pattern rarity; ties break
// deterministically in favor of the earlier-submitted candidate.
package ranker

import (
	"container/heap"
	"sort"

	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/patterns"
	"wyckoff-engine/internal/signal"
)

// Normalization bounds and weights.
var (
	confFloor = decimal.NewFromInt(70)
	confSpan  = decimal.NewFromInt(25) // 95 - 70

	rrFloor = decimal.RequireFromString("2.0")
	rrSpan  = decimal.RequireFromString("3.0") // 5.0 - 2.0

	weightConfidence = decimal.RequireFromString("0.40")
	weightRewardRisk = decimal.RequireFromString("0.30")
	weightPattern    = decimal.RequireFromString("0.30")

	hundred = decimal.NewFromInt(100)
	oneDec  = decimal.NewFromInt(1)
)

// Score computes the priority score of a candidate on a 0-100 scale.
func Score(c *signal.Candidate) decimal.Decimal {
	conf := normalize(decimal.NewFromInt(int64(c.Confidence)).Sub(confFloor), confSpan)
	rr := normalize(c.RewardRisk.Sub(rrFloor), rrSpan)
	pat := patternPriority(c.Pattern)

	return weightConfidence.Mul(conf).
		Add(weightRewardRisk.Mul(rr)).
		Add(weightPattern.Mul(pat)).
		Mul(hundred)
}

// normalize maps value/span into [0, 1], clamped.
func normalize(value, span decimal.Decimal) decimal.Decimal {
	if value.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	n := value.Div(span)
	if n.GreaterThan(oneDec) {
		return oneDec
	}
	return n
}

// patternPriority maps the fixed rarity ordering onto [0, 1]: absorption
// is the rarest and highest priority, failed breakout the lowest.
func patternPriority(t patterns.EventType) decimal.Decimal {
	switch t {
	case patterns.Absorption:
		return oneDec
	case patterns.Pullback:
		return decimal.NewFromInt(2).Div(decimal.NewFromInt(3))
	case patterns.Breakout:
		return oneDec.Div(decimal.NewFromInt(3))
	case patterns.FailedBreakout:
		return decimal.Zero
	default:
		return decimal.Zero
	}
}

type item struct {
	candidate *signal.Candidate
	score     decimal.Decimal
	seq       int64
}

// less orders by score descending, then insertion sequence ascending.
func less(a, b *item) bool {
	switch a.score.Cmp(b.score) {
	case 1:
		return true
	case -1:
		return false
	default:
		return a.seq < b.seq
	}
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a max-priority queue of candidates with O(log n) insert and
// extract and a non-destructive full-order snapshot.
type Queue struct {
	items itemHeap
	seq   int64
}

// NewQueue creates an empty priority queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Len returns the number of queued candidates.
func (q *Queue) Len() int { return len(q.items) }

// Push inserts a candidate. Insertion order is remembered for
// deterministic tie-breaking: the earlier-submitted candidate wins.
func (q *Queue) Push(c *signal.Candidate) {
	q.seq++
	heap.Push(&q.items, &item{candidate: c, score: Score(c), seq: q.seq})
}

// Pop removes and returns the highest-priority candidate, or nil when
// empty.
func (q *Queue) Pop() *signal.Candidate {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*item).candidate
}

// Peek returns the highest-priority candidate without removing it.
func (q *Queue) Peek() *signal.Candidate {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].candidate
}

// Snapshot returns the full priority ordering without mutating the queue.
func (q *Queue) Snapshot() []*signal.Candidate {
	sorted := make([]*item, len(q.items))
	copy(sorted, q.items)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	out := make([]*signal.Candidate, len(sorted))
	for i, it := range sorted {
		out[i] = it.candidate
	}
	return out
}

// Rank returns candidates in stable priority order without a persistent
// queue; earlier slice positions win ties.
func Rank(candidates []*signal.Candidate) []*signal.Candidate {
	q := NewQueue()
	for _, c := range candidates {
		q.Push(c)
	}
	return q.Snapshot()
}
