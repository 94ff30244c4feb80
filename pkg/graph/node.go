package graph

import "github.com/flowbase/flowbase/pkg/flowtype"

// NodeID stably identifies a node for the lifetime of the graph, even
// after the node is marked dropped.
type NodeID uint64

// DomainID identifies a domain once the placer has assigned nodes to
// it. DomainUnassigned marks a node that has not yet been placed.
type DomainID uint32

const DomainUnassigned DomainID = 0

// Tag identifies a precomputed replay path (spec §4.6, §9
// "Cycles in ownership").
type Tag uint32

// ShardingDescriptor is None or HashBy(column), per spec §3.
type ShardingDescriptor struct {
	Sharded bool
	Column  int
}

// Unsharded is the zero sharding descriptor.
var Unsharded = ShardingDescriptor{}

// HashBy returns a descriptor that hash-partitions on column.
func HashBy(column int) ShardingDescriptor {
	return ShardingDescriptor{Sharded: true, Column: column}
}

// Node is one vertex of the operator graph.
type Node struct {
	ID       NodeID
	Name     string
	Schema   *flowtype.ColumnSet
	Operator OperatorKind
	Sharding ShardingDescriptor

	// Domain and LocalIndex are set by the placer; DomainUnassigned
	// means "not yet placed".
	Domain     DomainID
	LocalIndex int

	// Materialized is true for any node whose output is stored
	// (readers always are; internal nodes are materialized when some
	// downstream replay path needs to source from them).
	Materialized bool
	// Partial distinguishes full materialization ("every key ever
	// written is present") from partial ("keys present only once
	// filled"). Meaningless when Materialized is false.
	Partial bool

	// Dropped marks a node retired by a migration. Dropped nodes are
	// never physically removed so NodeIDs stay stable (spec §3
	// Lifecycle).
	Dropped bool

	// ReplicationOffset is populated only for Base and Reader nodes
	// and is monotone non-decreasing (spec §3 Invariants).
	ReplicationOffset flowtype.ReplicationOffset
}

// Edge connects two nodes. An edge crossing a domain boundary is kept
// as a plain edge; no egress or ingress nodes are inserted for it, and
// packets along it are handed to the domain.Router.
type Edge struct {
	From         NodeID
	To           NodeID
	Materialized bool
}
