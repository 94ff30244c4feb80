package domain

import "container/heap"

// DefaultPriority is the fairness policy used when a Domain is
// constructed without an explicit one. Spec §9 leaves inter-kind
// fairness an open tuning question; this ordering gives Control the
// strongest priority (a pending node install or offset fence must not
// be starved by a backlog of regular traffic), Eviction and
// ReplayRequest next (both shed load or make forward progress on a
// stuck reader), Replay and Regular at the same base priority so a
// domain mid-backfill doesn't stall live traffic indefinitely, and
// Timestamp lowest since it is purely informational.
func DefaultPriority(p Packet) int {
	switch p.Kind {
	case Control:
		return 0
	case Eviction:
		return 1
	case ReplayRequest:
		return 2
	case Replay, Regular:
		return 3
	case Timestamp:
		return 4
	default:
		return 5
	}
}

// packetHeap is a container/heap.Interface over packets ordered by
// (priority, seq) — seq preserves FIFO order among packets of equal
// priority, satisfying the per-edge FIFO guarantee of spec §4.4.
type packetHeap struct {
	items    []Packet
	priority func(Packet) int
}

func (h packetHeap) Len() int { return len(h.items) }

func (h packetHeap) Less(i, j int) bool {
	pi, pj := h.priority(h.items[i]), h.priority(h.items[j])
	if pi != pj {
		return pi < pj
	}
	return h.items[i].seq < h.items[j].seq
}

func (h packetHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *packetHeap) Push(x any) { h.items = append(h.items, x.(Packet)) }

func (h *packetHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// packetQueue wraps packetHeap behind heap.Interface's package-level
// functions so callers never need to import container/heap themselves.
type packetQueue struct {
	h       packetHeap
	nextSeq uint64
}

func newPacketQueue(priority func(Packet) int) *packetQueue {
	if priority == nil {
		priority = DefaultPriority
	}
	q := &packetQueue{h: packetHeap{priority: priority}}
	heap.Init(&q.h)
	return q
}

func (q *packetQueue) push(p Packet) {
	p.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, p)
}

func (q *packetQueue) pop() (Packet, bool) {
	if q.h.Len() == 0 {
		return Packet{}, false
	}
	return heap.Pop(&q.h).(Packet), true
}

func (q *packetQueue) len() int { return q.h.Len() }
