package flowtype

import "fmt"

// ReplicationOffset is an opaque, monotone token identifying a
// position in the upstream change stream and/or a base table's
// durable log. It is comparable and totally ordered within one
// upstream source, but two offsets from different sources (e.g. a
// MySQL binlog position and a Postgres LSN) are only ever compared
// against each other by the code that produced them.
//
// Label identifies the source-specific position kind (e.g. a binlog
// file name, or "lsn"); Position is the monotone counter within that
// label. A Position-only comparison is correct for any single source
// because FlowBase never mixes label spaces for one table.
type ReplicationOffset struct {
	Label    string
	Position uint64
}

// ZeroOffset is the offset of a base or reader that has applied no
// writes yet.
var ZeroOffset = ReplicationOffset{}

// IsZero reports whether this is the zero (uninitialized) offset.
func (o ReplicationOffset) IsZero() bool {
	return o.Label == "" && o.Position == 0
}

// Less reports whether o precedes other. Offsets are compared purely
// by Position; Label is carried for diagnostics and for the CDC
// replicator's file-rotation bookkeeping, not for ordering, since a
// single Position counter is assigned monotonically across label
// changes (e.g. binlog file rotation) by the connector that produces
// offsets.
func (o ReplicationOffset) Less(other ReplicationOffset) bool {
	return o.Position < other.Position
}

// Min returns the earlier of two offsets, used when resuming
// replication at the minimum of all per-table offsets.
func Min(a, b ReplicationOffset) ReplicationOffset {
	if b.Less(a) {
		return b
	}
	return a
}

// Max returns the later of two offsets.
func Max(a, b ReplicationOffset) ReplicationOffset {
	if a.Less(b) {
		return b
	}
	return a
}

func (o ReplicationOffset) String() string {
	if o.IsZero() {
		return "offset(none)"
	}
	return fmt.Sprintf("offset(%s:%d)", o.Label, o.Position)
}
