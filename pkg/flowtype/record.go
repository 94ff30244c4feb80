package flowtype

import "strings"

// Sign distinguishes an insertion from a deletion within a Record. An
// update is represented as a delete/insert pair sharing the same
// group semantics, never as a third sign value.
type Sign int8

const (
	Positive Sign = 1
	Negative Sign = -1
)

func (s Sign) String() string {
	if s == Negative {
		return "-"
	}
	return "+"
}

// Negate flips the sign, used when retracting a previously-emitted row.
func (s Sign) Negate() Sign {
	return -s
}

// Record is an ordered tuple of Values plus a sign.
type Record struct {
	Values []Value
	Sign   Sign
}

// NewRecord builds a record with the given sign and values.
func NewRecord(sign Sign, values ...Value) Record {
	return Record{Values: values, Sign: sign}
}

// Negated returns a copy of the record with its sign flipped, used to
// retract a row previously emitted with the opposite sign.
func (r Record) Negated() Record {
	return Record{Values: r.Values, Sign: r.Sign.Negate()}
}

// Project returns a new record containing only the given column
// indices, in order, preserving sign.
func (r Record) Project(cols []int) Record {
	out := make([]Value, len(cols))
	for i, c := range cols {
		out[i] = r.Values[c]
	}
	return Record{Values: out, Sign: r.Sign}
}

// Key extracts the values at the given column indices as a lookup key.
func (r Record) Key(cols []int) Key {
	vals := make([]Value, len(cols))
	for i, c := range cols {
		vals[i] = r.Values[c]
	}
	return Key(vals)
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteString(r.Sign.String())
	b.WriteByte('(')
	for i, v := range r.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Key is an ordered tuple of Values used to index operator and
// read-state storage. Composite keys (multi-column) are supported;
// Key implements comparable semantics through Fingerprint, since a
// Go slice cannot itself be a map key.
type Key []Value

// Fingerprint returns a value usable as a Go map key. Two keys with
// equal values always produce equal fingerprints.
func (k Key) Fingerprint() string {
	var b strings.Builder
	for _, v := range k {
		b.WriteByte(byte(v.Kind()))
		b.WriteByte(0)
		b.WriteString(v.String())
		b.WriteByte(0)
	}
	return b.String()
}

// Hash combines the hashes of each component value, used by sharders
// to pick a shard via hash(column) mod N.
func (k Key) Hash() uint64 {
	h := uint64(14695981039346656037)
	for _, v := range k {
		h ^= v.Hash()
		h *= 1099511628211
	}
	return h
}

// Compare orders two keys lexicographically by component.
func (k Key) Compare(other Key) int {
	for i := 0; i < len(k) && i < len(other); i++ {
		if c := k[i].Compare(other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	default:
		return 0
	}
}

func (k Key) Equal(other Key) bool { return k.Compare(other) == 0 }

// Delta is a non-empty ordered sequence of Records sharing a
// destination operator. The destination itself is carried alongside
// the Delta by the caller (domain packets, kernel signatures) rather
// than embedded in the Delta value, keeping Delta reusable across
// edges.
type Delta struct {
	Records []Record
}

// NewDelta constructs a Delta, panicking if given no records: a Delta
// is defined to be non-empty, and packet senders should not construct
// or forward an empty one.
func NewDelta(records ...Record) Delta {
	if len(records) == 0 {
		panic("flowtype: delta must be non-empty")
	}
	return Delta{Records: records}
}

// Empty reports whether the delta carries no records. Used defensively
// at domain boundaries that build up deltas incrementally.
func (d Delta) Empty() bool { return len(d.Records) == 0 }

// Len returns the number of records.
func (d Delta) Len() int { return len(d.Records) }
