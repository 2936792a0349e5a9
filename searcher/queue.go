package searcher

import (
	"container/heap"
	"math"

	"dtsynth/family"
	"dtsynth/heuristic"
)

type entry struct {
	family     *family.Family
	priority   float64
	optimistic float64 // direction-normalized, larger is better
	depth      int
	counter    uint64
}

// before orders entries by priority, then optimistic bound, then refinement depth, then insertion.
func before(a, b *entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.optimistic != b.optimistic {
		return a.optimistic > b.optimistic
	}
	if a.depth != b.depth {
		return a.depth > b.depth
	}
	return a.counter < b.counter
}

type entries []*entry

func (e entries) Len() int           { return len(e) }
func (e entries) Less(i, j int) bool { return before(e[i], e[j]) }
func (e entries) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }

func (e *entries) Push(x any) {
	*e = append(*e, x.(*entry))
}

func (e *entries) Pop() any {
	old := *e
	n := len(old)
	last := old[n-1]
	old[n-1] = nil
	*e = old[:n-1]
	return last
}

// frontier is a max-priority queue of families with a total, deterministic order.
type frontier struct {
	heap      entries
	direction family.Direction
	counter   uint64
}

func newFrontier(direction family.Direction) *frontier {
	return &frontier{direction: direction}
}

func (q *frontier) size() int {
	return len(q.heap)
}

func (q *frontier) push(f *family.Family, priority float64) {
	optimistic := -math.MaxFloat64
	if b := f.Optimistic(q.direction); b.Known() {
		optimistic = q.direction.Score(b.Value)
	}
	heap.Push(&q.heap, &entry{
		family:     f,
		priority:   heuristic.Sanitize(priority),
		optimistic: optimistic,
		depth:      f.Depth,
		counter:    q.counter,
	})
	q.counter++
}

func (q *frontier) pop() (*family.Family, float64) {
	e := heap.Pop(&q.heap).(*entry)
	return e.family, e.priority
}

// dominated reports whether some queued family already contains every member of f.
func (q *frontier) dominated(f *family.Family) bool {
	for _, e := range q.heap {
		if f.SubsetOf(e.family) {
			return true
		}
	}
	return false
}
