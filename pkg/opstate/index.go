package opstate

import (
	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
)

// Row is one stored tuple of operator state.
type Row = flowtype.Key

// rowEntry tracks a distinct row and its current multiplicity within
// one key's bucket.
type rowEntry struct {
	row   Row
	count int
}

// Index is one column-tuple-keyed index over an operator's rows.
type Index struct {
	Columns []int
	Partial bool

	buckets   map[string]map[string]rowEntry // key fingerprint -> (row fingerprint -> entry)
	keyValues map[string]Row                 // key fingerprint -> the Key itself
	filled    map[string]struct{}            // partial only: keys known complete
	reservoir *reservoir                     // partial only: eviction candidate sample
}

// NewIndex creates an index over the given row-column positions.
func NewIndex(columns []int, partial bool) *Index {
	idx := &Index{
		Columns:   append([]int(nil), columns...),
		Partial:   partial,
		buckets:   make(map[string]map[string]rowEntry),
		keyValues: make(map[string]Row),
	}
	if partial {
		idx.filled = make(map[string]struct{})
		idx.reservoir = newReservoir(defaultReservoirCapacity)
	}
	return idx
}

// KeyOf projects row onto the index's column positions.
func (idx *Index) KeyOf(row Row) Row {
	key := make(Row, len(idx.Columns))
	for i, col := range idx.Columns {
		key[i] = row[col]
	}
	return key
}

// Lookup returns the rows stored for key. A partial index returns
// flowerr.NeedsReplay for a key that has not been filled yet.
func (idx *Index) Lookup(key Row) ([]Row, error) {
	fp := key.Fingerprint()
	if idx.Partial {
		if _, ok := idx.filled[fp]; !ok {
			return nil, &flowerr.NeedsReplay{Key: flowtype.Key(key)}
		}
	}
	bucket := idx.buckets[fp]
	if len(bucket) == 0 {
		return nil, nil
	}
	out := make([]Row, 0, len(bucket))
	for _, e := range bucket {
		for i := 0; i < e.count; i++ {
			out = append(out, e.row)
		}
	}
	return out, nil
}

// RawLookup returns whatever rows are currently stored for key without
// consulting the partial fill marker. Aggregate uses this to read its
// own group bucket mid-update, including while a key is actively being
// filled by a replay (where a filled-check would itself report
// NeedsReplay and recurse).
func (idx *Index) RawLookup(key Row) []Row {
	bucket := idx.buckets[key.Fingerprint()]
	if len(bucket) == 0 {
		return nil
	}
	out := make([]Row, 0, len(bucket))
	for _, e := range bucket {
		for i := 0; i < e.count; i++ {
			out = append(out, e.row)
		}
	}
	return out
}

// Insert adds row under its projected key, regardless of fill state;
// callers (the domain executor / replay engine) are responsible for
// only inserting into unfilled partial keys as part of a replay fill.
func (idx *Index) Insert(row Row) {
	key := idx.KeyOf(row)
	kfp := key.Fingerprint()
	bucket := idx.buckets[kfp]
	if bucket == nil {
		bucket = make(map[string]rowEntry)
		idx.buckets[kfp] = bucket
		idx.keyValues[kfp] = key
	}
	rfp := row.Fingerprint()
	e := bucket[rfp]
	e.row = row
	e.count++
	bucket[rfp] = e
}

// Remove retracts one occurrence of row.
func (idx *Index) Remove(row Row) {
	key := idx.KeyOf(row)
	kfp := key.Fingerprint()
	bucket := idx.buckets[kfp]
	if bucket == nil {
		return
	}
	rfp := row.Fingerprint()
	e, ok := bucket[rfp]
	if !ok {
		return
	}
	e.count--
	if e.count <= 0 {
		delete(bucket, rfp)
	} else {
		bucket[rfp] = e
	}
	if len(bucket) == 0 {
		delete(idx.buckets, kfp)
		delete(idx.keyValues, kfp)
	}
}

// MarkFilled records key as covered by a completed replay, and enrolls
// it in the eviction reservoir.
func (idx *Index) MarkFilled(key Row) {
	if !idx.Partial {
		return
	}
	fp := key.Fingerprint()
	idx.filled[fp] = struct{}{}
	idx.keyValues[fp] = key
	idx.reservoir.add(key)
}

// IsFilled reports whether key has completed a replay fill. Always
// true for a full index.
func (idx *Index) IsFilled(key Row) bool {
	if !idx.Partial {
		return true
	}
	_, ok := idx.filled[key.Fingerprint()]
	return ok
}

// Evict drops key's rows and its fill marker, returning whether the
// key had been filled (so the caller knows whether downstream readers
// need to be told to uncover it too, per spec §4.6 eviction coupling).
func (idx *Index) Evict(key Row) (wasFilled bool) {
	fp := key.Fingerprint()
	delete(idx.buckets, fp)
	delete(idx.keyValues, fp)
	if idx.Partial {
		_, wasFilled = idx.filled[fp]
		delete(idx.filled, fp)
	}
	return wasFilled
}

// EvictRandom picks one filled key at random from the reservoir and
// evicts it, returning the evicted key. Used by the domain executor to
// service memory-pressure eviction control packets (spec §4.2).
func (idx *Index) EvictRandom() (Row, bool) {
	if !idx.Partial {
		return nil, false
	}
	key, ok := idx.reservoir.pick()
	if !ok {
		return nil, false
	}
	idx.Evict(key)
	return key, true
}
