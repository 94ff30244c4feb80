package graph

import "github.com/flowbase/flowbase/pkg/flowtype"

// Migration is a planned set of graph additions produced by the recipe
// compiler (spec §6, supplemented feature 5) and applied by the
// controller during the Planning/Installing phases of a migration
// (spec §4.7). Nodes and edges reference each other and the
// pre-existing graph purely by name, never by NodeID — the compiler
// runs before any node it describes exists, and a migration must
// remain a plain, serializable value with no back-pointers into the
// Graph it will be applied to (spec §9 "back-references: store as a
// plain identifier, resolve through the graph, never as a pointer").
type Migration struct {
	// Statement is the original DDL text, kept for logging and for the
	// idempotency check extend_recipe performs against a provided offset.
	Statement string

	Nodes []PendingNode
	Edges []PendingEdge
}

// PendingNode describes one node to create. Name must be unique against
// both the live graph and the rest of this migration's Nodes.
type PendingNode struct {
	Name         string
	Operator     OperatorKind
	Schema       *flowtype.ColumnSet
	Sharding     ShardingDescriptor
	Materialized bool
	Partial      bool
}

// PendingEdge wires From -> To, where each endpoint names either a node
// already in the live graph (a pre-existing table or view the new
// nodes read from) or one of this migration's own PendingNodes. The
// special name "$source" refers to the graph's synthetic source node,
// the sole permitted ancestor of a Base node.
type PendingEdge struct {
	From, To     string
	Materialized bool
}

// SourceRef is the PendingEdge.From value for a Base node's mandatory
// edge from the graph's synthetic source.
const SourceRef = "$source"
