package cache

// entry is one cached handle with its LFU bookkeeping.
type entry[H any] struct {
	key    string
	handle H
	hits   uint64
	seq    uint64 // insertion order, breaks ties between equal hit counts
	pos    int    // index in lfuHeap
}

// lfuHeap orders entries by ascending hits, then age. It implements
// container/heap.Interface.
type lfuHeap[H any] []*entry[H]

func (h lfuHeap[H]) Len() int { return len(h) }

func (h lfuHeap[H]) Less(i, j int) bool {
	if h[i].hits != h[j].hits {
		return h[i].hits < h[j].hits
	}
	return h[i].seq < h[j].seq
}

func (h lfuHeap[H]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *lfuHeap[H]) Push(x any) {
	e := x.(*entry[H])
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *lfuHeap[H]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.pos = -1
	*h = old[:n-1]
	return e
}
