package cdc

import (
	"context"

	"github.com/flowbase/flowbase/pkg/flowtype"
)

// ActionKind distinguishes the three shapes of upstream event a
// Connector surfaces to Replicator, mirroring the original adapter's
// ReplicationAction enum.
type ActionKind int

const (
	// TableAction carries a batch of row changes for one table.
	TableAction ActionKind = iota
	// SchemaChange carries one DDL statement to install via the
	// controller's recipe.
	SchemaChange
	// LogPosition advances the replicator's overall position with no
	// associated table or schema effect, e.g. a heartbeat/keepalive
	// event the upstream emits between real changes.
	LogPosition
)

// RowOp is one row-level change within a TableAction, named to match
// controller.TableHandle's write API (spec §5's perform_all ops).
type RowOp struct {
	Insert    []flowtype.Value // non-nil for Insert
	Delete    []flowtype.Value // non-nil for Delete (key columns only)
	UpdateOld []flowtype.Value // non-nil for Update: prior row
	UpdateNew []flowtype.Value // non-nil for Update: new row
}

// Action is one event a Connector yields from NextAction.
type Action struct {
	Kind ActionKind

	// Table/Ops/TxID are meaningful for TableAction.
	Table string
	Ops   []RowOp
	TxID  *uint64

	// DDL is meaningful for SchemaChange.
	DDL string
}

// Connector is the engine-specific half of CDC ingestion: it knows how
// to snapshot an upstream database and how to yield its subsequent
// change stream one action at a time. MySQLConnector and
// PostgresConnector are this module's two implementations.
type Connector interface {
	// Snapshot performs a full initial load of every source table into
	// its corresponding base table via sink's TableHandle, returning the
	// replication position to resume streaming from afterward. Called
	// only when the controller has no stored offset for any table.
	Snapshot(ctx context.Context, sink TableSink) (flowtype.ReplicationOffset, error)

	// NextAction blocks until the next upstream event is available and
	// returns it along with the replication offset it occurred at.
	// lastPos is the offset streaming should resume from (the minimum
	// of all stored per-table/schema offsets, per spec §4.9).
	NextAction(ctx context.Context, lastPos flowtype.ReplicationOffset) (Action, flowtype.ReplicationOffset, error)

	// Close releases the connector's upstream connection(s).
	Close() error
}

// TableSink is the subset of controller.Controller's table API a
// Connector's Snapshot phase needs: listing source tables is
// engine-specific, but writing snapshot rows always goes through the
// same batched TableHandle.PerformAll.
type TableSink interface {
	Table(name string) (TableWriter, error)
}

// TableWriter is the subset of *controller.TableHandle a Connector
// writes snapshot/stream rows through.
type TableWriter interface {
	PerformAll(records []flowtype.Record) error
	SetReplicationOffset(offset flowtype.ReplicationOffset) error
}
