package vectorstore

import (
	"container/heap"
	"sort"
)

// scored pairs a similarity with the scanned row it belongs to.
type scored struct {
	idx   int
	score float32
}

// scoredHeap is a min-heap on score so the worst of the current top-k sits
// at the root. Ties keep the lower row index.
type scoredHeap []scored

func (h scoredHeap) Len() int { return len(h) }
func (h scoredHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].idx > h[j].idx
}
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// selectTopK selects the k best entries without sorting the whole slice,
// then orders the winners by descending score with index as tiebreak.
func selectTopK(items []scored, k int) []scored {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k >= len(items) {
		out := append([]scored(nil), items...)
		sortScored(out)
		return out
	}

	h := make(scoredHeap, 0, k)
	heap.Init(&h)
	for _, it := range items {
		if len(h) < k {
			heap.Push(&h, it)
			continue
		}
		if it.score > h[0].score || (it.score == h[0].score && it.idx < h[0].idx) {
			h[0] = it
			heap.Fix(&h, 0)
		}
	}

	out := []scored(h)
	sortScored(out)
	return out
}

func sortScored(items []scored) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].idx < items[j].idx
	})
}
