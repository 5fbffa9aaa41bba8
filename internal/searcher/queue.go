package searcher

import "sort"

// Item is a search candidate. Seq orders candidates with equal distance:
// the lower sequence number (inserted first) ranks first.
type Item struct {
	ID       string
	Seq      uint64
	Distance float32
}

// worse reports whether a ranks behind b.
func worse(a, b Item) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Seq > b.Seq
}

// TopK keeps the k best items seen so far in a binary max-heap whose top is
// the worst kept item. It does NOT implement container/heap to avoid
// interface overhead. Not safe for concurrent use.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a TopK with capacity k.
func NewTopK(k int) *TopK {
	return &TopK{
		k:     k,
		items: make([]Item, 0, min(k, 1024)),
	}
}

// Reset clears the heap and sets a new capacity.
func (q *TopK) Reset(k int) {
	q.k = k
	q.items = q.items[:0]
}

// Len returns the number of kept items.
func (q *TopK) Len() int { return len(q.items) }

// Full reports whether k items are kept.
func (q *TopK) Full() bool { return len(q.items) >= q.k }

// Worst returns the worst kept item.
func (q *TopK) Worst() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Accepts reports whether an item with the given distance and sequence
// would be kept. It lets callers skip building an Item.
func (q *TopK) Accepts(distance float32, seq uint64) bool {
	if q.k <= 0 {
		return false
	}
	if len(q.items) < q.k {
		return true
	}
	return worse(q.items[0], Item{Seq: seq, Distance: distance})
}

// Push offers item to the heap. When full, it replaces the worst item only
// if item ranks ahead of it.
func (q *TopK) Push(item Item) {
	if q.k <= 0 {
		return
	}
	if len(q.items) < q.k {
		q.items = append(q.items, item)
		q.siftUp(len(q.items) - 1)
		return
	}
	if worse(q.items[0], item) {
		q.items[0] = item
		q.siftDown(0)
	}
}

// Sorted returns the kept items best first and empties the heap.
func (q *TopK) Sorted() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	q.items = q.items[:0]
	return out
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !worse(q.items[i], q.items[parent]) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && worse(q.items[right], q.items[left]) {
			child = right
		}
		if !worse(q.items[child], q.items[i]) {
			break
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}
