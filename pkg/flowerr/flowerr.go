// Package flowerr defines FlowBase's closed set of error kinds, per
// spec §7. Query/recipe compilation errors are surfaced to callers;
// NeedsReplay and UncoveredRange are internal control-flow sentinels
// that are part of the happy path and must never escape the public
// read API; the remaining kinds are fatal or retry signals handled by
// the controller, coordination layer, or CDC replicator respectively.
package flowerr

import (
	"errors"
	"fmt"

	"github.com/flowbase/flowbase/pkg/flowtype"
)

// ArityError reports a function or operator called with the wrong
// number of arguments. The recipe compiler rejects the query.
type ArityError struct {
	Function string
	Want     int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("arity error: %s wants %d argument(s), got %d", e.Function, e.Want, e.Got)
}

// UnknownFunctionError reports a call to an unrecognized built-in.
type UnknownFunctionError struct{ Name string }

func (e *UnknownFunctionError) Error() string { return fmt.Sprintf("unknown function %q", e.Name) }

// UnknownColumnError reports a reference to an undeclared column.
type UnknownColumnError struct{ Name string }

func (e *UnknownColumnError) Error() string { return fmt.Sprintf("unknown column %q", e.Name) }

// UnknownTableError reports a reference to an undeclared table/view.
type UnknownTableError struct{ Name string }

func (e *UnknownTableError) Error() string { return fmt.Sprintf("unknown table %q", e.Name) }

// NeedsReplay is returned by a lookup against a partial index for a
// key that has not yet been filled. It is a happy-path return value,
// not a failure: callers either block waiting for the fill or kick
// off an upquery.
type NeedsReplay struct {
	Key flowtype.Key
}

func (e *NeedsReplay) Error() string { return fmt.Sprintf("needs replay for key %v", e.Key) }

// UncoveredRange is returned by a range query when one or more
// sub-intervals of the requested bounds are not known complete. The
// caller issues replays for exactly the reported intervals.
type UncoveredRange struct {
	Missing []Interval
}

func (e *UncoveredRange) Error() string {
	return fmt.Sprintf("uncovered range: %d missing interval(s)", len(e.Missing))
}

// Interval is a closed [Low, High] key range. A nil bound is
// unbounded on that side.
type Interval struct {
	Low  flowtype.Key
	High flowtype.Key
}

// InvariantViolated is fatal: the domain that detected it can no
// longer be trusted and the controller must repair it via migration.
type InvariantViolated struct{ Detail string }

func (e *InvariantViolated) Error() string { return fmt.Sprintf("invariant violated: %s", e.Detail) }

// ErrDomainFailed marks a domain as failed and unavailable until the
// controller reassigns or repairs it.
var ErrDomainFailed = errors.New("flowbase: domain failed")

// ErrUpstreamDisconnected signals the CDC replicator lost its
// connection to the upstream database; the caller retries with
// backoff.
var ErrUpstreamDisconnected = errors.New("flowbase: upstream disconnected")

// ErrResnapshotRequired signals the replicator's stored offset is no
// longer retained by the upstream (e.g. binlog purged, replication
// slot invalidated) and a fresh snapshot is required.
var ErrResnapshotRequired = errors.New("flowbase: resnapshot required")

// ErrSessionLost signals the coordination layer's session died;
// leadership is vacated and writers may see transient errors until a
// new leader is elected.
var ErrSessionLost = errors.New("flowbase: coordination session lost")

// ErrChannelClosed signals a peer domain's transport channel closed;
// the owning domain enters a degraded state and the controller
// decides reassignment.
var ErrChannelClosed = errors.New("flowbase: channel closed")

// ErrNotLeader is returned by controller write paths when invoked on a
// non-leader node.
var ErrNotLeader = errors.New("flowbase: not the leader")

// WriteFailure wraps a write-path error with the offset of the last
// batch that was durably applied, so the caller can resume from
// exactly that point rather than reapplying already-committed writes.
type WriteFailure struct {
	Err          error
	ResumeOffset flowtype.ReplicationOffset
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write failed after %s: %v", e.ResumeOffset, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }
