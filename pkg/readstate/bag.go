package readstate

import "github.com/flowbase/flowbase/pkg/flowtype"

// Row is one materialized output tuple.
type Row = flowtype.Key

// bagEntry tracks a distinct row value and how many times it currently
// occurs, since reader output is multiset (duplicate rows from a
// non-distinct Union, for example, must be preserved).
type bagEntry struct {
	row   Row
	count int
}

// Bag is an immutable-once-built multiset of Rows; mutation methods
// return a new Bag so snapshots stay copy-on-write.
type Bag struct {
	entries map[string]bagEntry
}

func newBag() *Bag { return &Bag{entries: make(map[string]bagEntry)} }

func (b *Bag) clone() *Bag {
	nb := &Bag{entries: make(map[string]bagEntry, len(b.entries))}
	for k, v := range b.entries {
		nb.entries[k] = v
	}
	return nb
}

// withAdded returns a clone of b with n additional occurrences of row.
func (b *Bag) withAdded(row Row, n int) *Bag {
	nb := b.clone()
	fp := row.Fingerprint()
	e := nb.entries[fp]
	e.row = row
	e.count += n
	nb.entries[fp] = e
	return nb
}

// withRemoved returns a clone of b with up to n occurrences of row
// removed; entries that reach zero are deleted.
func (b *Bag) withRemoved(row Row, n int) *Bag {
	nb := b.clone()
	fp := row.Fingerprint()
	e, ok := nb.entries[fp]
	if !ok {
		return nb
	}
	e.count -= n
	if e.count <= 0 {
		delete(nb.entries, fp)
		return nb
	}
	nb.entries[fp] = e
	return nb
}

// Rows expands the bag into a flat slice, repeating duplicates.
func (b *Bag) Rows() []Row {
	if b == nil {
		return nil
	}
	var out []Row
	for _, e := range b.entries {
		for i := 0; i < e.count; i++ {
			out = append(out, e.row)
		}
	}
	return out
}

func (b *Bag) Empty() bool { return b == nil || len(b.entries) == 0 }
