package query

import (
	"container/heap"

	"github.com/katta-cluster/katta/pkg/proto"
)

// Merge combines every shard's top-K hits into the query's overall top-K,
// using a min-heap bounded at limit so the whole merge runs in
// O(n log limit) rather than sorting every hit from every shard.
func Merge(shardHits [][]proto.Hit, limit int) []proto.Hit {
	if limit <= 0 {
		limit = 10
	}
	h := &hitHeap{}
	heap.Init(h)
	for _, hits := range shardHits {
		for _, hit := range hits {
			heap.Push(h, hit)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]proto.Hit, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(proto.Hit)
	}
	return result
}

type hitHeap []proto.Hit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	// Tie-break on docId alone: proto.Hit carries no node/shard identity
	// over the wire, so the full (node, shard, docId) tuple isn't available
	// here.
	return h[i].DocID > h[j].DocID
}

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) {
	*h = append(*h, x.(proto.Hit))
}

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
