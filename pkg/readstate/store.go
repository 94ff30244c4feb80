package readstate

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
)

// snapshot is the immutable structure readers observe. A new one is
// built by cloning the previous snapshot and applying the buffered
// writer ops, then swapped in by Publish.
type snapshot struct {
	keys     map[string]Row  // key fingerprint -> Key value, for ordered range scans
	bags     map[string]*Bag // key fingerprint -> rows materialized for that key
	coverage *coverage
	offset   flowtype.ReplicationOffset
	epoch    uint64
}

func emptySnapshot() *snapshot {
	return &snapshot{
		keys:     make(map[string]Row),
		bags:     make(map[string]*Bag),
		coverage: newCoverage(),
	}
}

func (s *snapshot) clone() *snapshot {
	ns := &snapshot{
		keys:     make(map[string]Row, len(s.keys)),
		bags:     make(map[string]*Bag, len(s.bags)),
		coverage: s.coverage.clone(),
		offset:   s.offset,
		epoch:    s.epoch,
	}
	for k, v := range s.keys {
		ns.keys[k] = v
	}
	for k, v := range s.bags {
		ns.bags[k] = v
	}
	return ns
}

type opKind int

const (
	opPutInsert opKind = iota
	opPutDelete
	opMarkFilledPoint
	opMarkFilledRange
	opEvictPoint
	opEvictRange
	opSetOffset
)

type pendingOp struct {
	kind   opKind
	key    Row
	lo, hi Row
	rows   []Row
	offset flowtype.ReplicationOffset
}

// Store is the double-buffered read-state index from spec §4.1.
// Reads never block on writes: they atomic-load the current snapshot
// and operate on that immutable value. A single writer accumulates
// pendingOps and calls Publish to make them visible all at once.
type Store struct {
	cur atomic.Pointer[snapshot]

	mu  sync.Mutex
	log []pendingOp
}

// NewStore returns an empty store.
func NewStore() *Store {
	st := &Store{}
	st.cur.Store(emptySnapshot())
	return st
}

func (st *Store) snap() *snapshot { return st.cur.Load() }

// Get returns the rows materialized for key, or flowerr.NeedsReplay if
// key is not covered. A covered key with no rows returns an empty,
// non-nil slice.
func (st *Store) Get(key Row) ([]Row, error) {
	s := st.snap()
	if !s.coverage.isPointCovered(key) {
		return nil, &flowerr.NeedsReplay{Key: flowtype.Key(key)}
	}
	bag := s.bags[key.Fingerprint()]
	rows := bag.Rows()
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Range returns every row keyed within [lo, hi], or
// flowerr.UncoveredRange naming exactly the uncovered sub-intervals.
func (st *Store) Range(lo, hi Row) ([]Row, error) {
	s := st.snap()
	gaps := s.coverage.missing(lo, hi)
	if len(gaps) > 0 {
		missing := make([]flowerr.Interval, len(gaps))
		for i, g := range gaps {
			missing[i] = flowerr.Interval{Low: flowtype.Key(g.Low), High: flowtype.Key(g.High)}
		}
		return nil, &flowerr.UncoveredRange{Missing: missing}
	}

	type keyedRows struct {
		key  Row
		rows []Row
	}
	var matched []keyedRows
	for fp, k := range s.keys {
		if k.Compare(lo) < 0 || k.Compare(hi) > 0 {
			continue
		}
		matched = append(matched, keyedRows{key: k, rows: s.bags[fp].Rows()})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].key.Compare(matched[j].key) < 0 })

	var out []Row
	for _, m := range matched {
		out = append(out, m.rows...)
	}
	return out, nil
}

// Offset returns the snapshot's causal read offset (spec §4.1 "Meta").
func (st *Store) Offset() (flowtype.ReplicationOffset, uint64) {
	s := st.snap()
	return s.offset, s.epoch
}

// Put buffers an insert (positive=true) or delete of rows under key.
// Buffered ops are invisible to readers until Publish.
func (st *Store) Put(key Row, positive bool, rows ...Row) {
	st.mu.Lock()
	defer st.mu.Unlock()
	kind := opPutInsert
	if !positive {
		kind = opPutDelete
	}
	st.log = append(st.log, pendingOp{kind: kind, key: key, rows: rows})
}

// MarkFilled records key as covered (a single-key replay fill).
func (st *Store) MarkFilled(key Row) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.log = append(st.log, pendingOp{kind: opMarkFilledPoint, key: key})
}

// MarkFilledRange records [lo, hi] as covered (a range replay fill).
func (st *Store) MarkFilledRange(lo, hi Row) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.log = append(st.log, pendingOp{kind: opMarkFilledRange, lo: lo, hi: hi})
}

// Evict drops key's rows and marks it uncovered.
func (st *Store) Evict(key Row) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.log = append(st.log, pendingOp{kind: opEvictPoint, key: key})
}

// EvictRange drops every row keyed within [lo, hi] and marks the range
// uncovered.
func (st *Store) EvictRange(lo, hi Row) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.log = append(st.log, pendingOp{kind: opEvictRange, lo: lo, hi: hi})
}

// SetOffset buffers a causal-offset update, applied atomically with
// whatever other ops are in the same Publish batch.
func (st *Store) SetOffset(offset flowtype.ReplicationOffset) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.log = append(st.log, pendingOp{kind: opSetOffset, offset: offset})
}

// Publish applies every buffered op to a fresh clone of the current
// snapshot and atomically swaps it in. This is the only operation that
// is reader-visible; everything before it is writer-private.
func (st *Store) Publish() {
	st.mu.Lock()
	ops := st.log
	st.log = nil
	st.mu.Unlock()
	if len(ops) == 0 {
		return
	}

	next := st.snap().clone()
	for _, op := range ops {
		applyOp(next, op)
	}
	next.epoch++
	st.cur.Store(next)
}

func applyOp(s *snapshot, op pendingOp) {
	switch op.kind {
	case opPutInsert:
		fp := op.key.Fingerprint()
		bag := s.bags[fp]
		if bag == nil {
			bag = newBag()
		}
		for _, r := range op.rows {
			bag = bag.withAdded(r, 1)
		}
		s.bags[fp] = bag
		s.keys[fp] = op.key
	case opPutDelete:
		fp := op.key.Fingerprint()
		bag := s.bags[fp]
		if bag == nil {
			return
		}
		for _, r := range op.rows {
			bag = bag.withRemoved(r, 1)
		}
		s.bags[fp] = bag
		if bag.Empty() {
			// Key stays covered (covered-but-empty) unless explicitly
			// evicted; only the bag becomes empty.
			s.keys[fp] = op.key
		}
	case opMarkFilledPoint:
		s.coverage.markPoint(op.key)
		fp := op.key.Fingerprint()
		if _, ok := s.keys[fp]; !ok {
			s.keys[fp] = op.key
			s.bags[fp] = newBag()
		}
	case opMarkFilledRange:
		s.coverage.markRange(op.lo, op.hi)
	case opEvictPoint:
		s.coverage.unmarkPoint(op.key)
		fp := op.key.Fingerprint()
		delete(s.bags, fp)
		delete(s.keys, fp)
	case opEvictRange:
		s.coverage.unmarkRange(op.lo, op.hi)
		for fp, k := range s.keys {
			if k.Compare(op.lo) >= 0 && k.Compare(op.hi) <= 0 {
				delete(s.bags, fp)
				delete(s.keys, fp)
			}
		}
	case opSetOffset:
		s.offset = op.offset
	}
}
