package controller

import (
	"fmt"

	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
)

// TableHandle is a handle to one installed Base table, returned by
// Controller.Table. Per spec §5 ("each operation is a batched message
// to the owning domain"), every write dispatches a Regular packet
// straight through the dispatcher to the Base node's owning domain; it
// never goes through the controller's command channel. Index
// maintenance for the write happens inside that domain's own
// handleRegular/applyToPrimaryIndex, not here.
type TableHandle struct {
	name   string
	nodeID graph.NodeID
	router Dispatcher
	ctrl   *Controller
}

// Table resolves name to a live Base node and returns a handle for
// writing to it, or an error if no such table is installed.
func (c *Controller) Table(name string) (*TableHandle, error) {
	n, ok := c.cfg.Graph.NodeByName(name)
	if !ok {
		return nil, fmt.Errorf("controller: no table named %q", name)
	}
	if n.Operator.Kind != graph.KindBase {
		return nil, fmt.Errorf("controller: %q is not a base table", name)
	}
	return &TableHandle{name: name, nodeID: n.ID, router: c.cfg.Router, ctrl: c}, nil
}

// Name returns the table's name.
func (t *TableHandle) Name() string { return t.name }

func (t *TableHandle) checkAcceptingWrites() error {
	if !t.ctrl.AcceptingWrites() {
		return fmt.Errorf("controller: table %q: writes paused during migration install", t.name)
	}
	return nil
}

// Insert appends a single positive row.
func (t *TableHandle) Insert(row []flowtype.Value) error {
	return t.PerformAll([]flowtype.Record{flowtype.NewRecord(flowtype.Positive, row...)})
}

// Delete retracts a single row (emits it with a negative sign).
func (t *TableHandle) Delete(row []flowtype.Value) error {
	return t.PerformAll([]flowtype.Record{flowtype.NewRecord(flowtype.Negative, row...)})
}

// InsertOrUpdate retracts oldRow (if non-nil) and inserts newRow as one
// batch, so downstream stateful operators (aggregates, joins) see the
// update atomically rather than as two separately-visible deltas.
func (t *TableHandle) InsertOrUpdate(oldRow, newRow []flowtype.Value) error {
	var recs []flowtype.Record
	if oldRow != nil {
		recs = append(recs, flowtype.NewRecord(flowtype.Negative, oldRow...))
	}
	recs = append(recs, flowtype.NewRecord(flowtype.Positive, newRow...))
	return t.PerformAll(recs)
}

// PerformAll sends an arbitrary batch of records (a mix of inserts and
// deletes) to the table as a single Delta, preserving the batching
// spec §5 describes.
func (t *TableHandle) PerformAll(records []flowtype.Record) error {
	if err := t.checkAcceptingWrites(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	pkt := domain.NewRegular(t.nodeID, t.ctrl.cfg.Graph.SourceID, flowtype.NewDelta(records...))
	if err := t.router.Forward(pkt); err != nil {
		return fmt.Errorf("controller: write to table %q: %w", t.name, err)
	}
	return nil
}

// SetReplicationOffset advances the table's upstream replication
// position, used by pkg/cdc after a batch of binlog/WAL events has
// been durably applied. Carried on a Timestamp packet, matching the
// teacher's separation of data-plane and position-tracking traffic.
func (t *TableHandle) SetReplicationOffset(offset flowtype.ReplicationOffset) error {
	pkt := domain.NewTimestamp(t.nodeID, offset)
	if err := t.router.Forward(pkt); err != nil {
		return fmt.Errorf("controller: set offset on table %q: %w", t.name, err)
	}
	return nil
}
