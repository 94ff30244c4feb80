package domain

import (
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
	"github.com/flowbase/flowbase/pkg/readstate"
)

// Index name conventions used by the runtime to resolve the named
// opstate.Index a given operator kind needs out of its declared State
// (spec §3 "indices declared" at node-creation time). A single
// operator only ever uses the subset relevant to its Kind.
const (
	IndexPrimary   = "primary"    // Base: row storage keyed by primary key
	IndexGroup     = "groupby"    // Aggregate/TopK: the group-by index
	IndexUnmatched = "unmatched"  // Join (left): left rows currently NULL-padded
	IndexDistinct  = "distinct"   // Union: distinct-dedup index
	IndexJoinLeft  = "join-left"  // Join: left-side rows, keyed by OnLeft, read by the right arrival
	IndexJoinRight = "join-right" // Join: right-side rows, keyed by OnRight, read by the left arrival
)

// NodeRuntime is everything a domain needs to drive one operator
// instance: its graph definition, its declared opstate, and — for
// Reader nodes only — the materialized read-state store external
// clients query against (spec §4.1, §4.4).
type NodeRuntime struct {
	Node   *graph.Node
	State  *opstate.State
	Reader *readstate.Store // non-nil only for KindReader nodes
}

// NewNodeRuntime builds the runtime for node, declaring whatever
// indices its operator kind requires.
func NewNodeRuntime(n *graph.Node) *NodeRuntime {
	rt := &NodeRuntime{Node: n, State: opstate.NewState()}

	switch n.Operator.Kind {
	case graph.KindBase:
		cols := n.Operator.Base.PrimaryKey
		rt.State.AddIndex(IndexPrimary, cols, false)
	case graph.KindAggregate:
		rt.State.AddIndex(IndexGroup, n.Operator.Aggregate.GroupBy, n.Partial)
	case graph.KindTopK:
		rt.State.AddIndex(IndexGroup, n.Operator.TopK.GroupBy, n.Partial)
	case graph.KindJoin:
		rt.State.AddIndex(IndexJoinLeft, n.Operator.Join.OnLeft, n.Partial)
		rt.State.AddIndex(IndexJoinRight, n.Operator.Join.OnRight, n.Partial)
		if n.Operator.Join.Kind == graph.JoinLeft {
			rt.State.AddIndex(IndexUnmatched, n.Operator.Join.OnLeft, false)
		}
	case graph.KindUnion:
		if n.Operator.Union.Distinct {
			// Distinct dedup keys on the full, post-mapping row, so
			// its column set spans every output column.
			rt.State.AddIndex(IndexDistinct, fullRowColumns(n), false)
		}
	case graph.KindReader:
		rt.Reader = readstate.NewStore()
	}
	return rt
}

// fullRowColumns returns 0..N-1 for a node's live output schema,
// used to key a whole-row distinct index.
func fullRowColumns(n *graph.Node) []int {
	if n.Schema == nil {
		return nil
	}
	live := n.Schema.Live()
	cols := make([]int, len(live))
	for i := range live {
		cols[i] = i
	}
	return cols
}
