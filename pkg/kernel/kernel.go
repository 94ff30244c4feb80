package kernel

import (
	"fmt"

	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
)

// Input bundles everything a stateful kernel needs beyond the delta
// itself: which input edge it arrived on (Join, Union need to know),
// whether this is a replay fill, and the operator's declared state.
type Input struct {
	FromLeft   bool // Join: true if delta arrived on the left input
	InputIndex int  // Union: which input this delta arrived on
	ReplayMode bool

	GroupIndex   *opstate.Index  // Aggregate/TopK: the group-by index
	UnmatchedIdx *opstate.Index  // Join: left-unmatched tracking index
	DistinctIdx  *opstate.Index  // Union: distinct-dedup index
	OtherSide    OtherSideLookup // Join: lookup into the other side's state
	OwnSide      OtherSideLookup // Join: lookup into the arriving side's own pre-delta state
}

// Run dispatches delta to the kernel named by op.Kind, returning the
// output delta and any group/join keys that missed a partial index.
func Run(op graph.OperatorKind, in Input, delta flowtype.Delta) (flowtype.Delta, []flowtype.Key, error) {
	switch op.Kind {
	case graph.KindIdentity, graph.KindIngress, graph.KindEgress, graph.KindDesharder, graph.KindBase:
		out, err := Identity(delta)
		return out, nil, err
	case graph.KindFilter:
		out, err := Filter(op.Filter, delta)
		return out, nil, err
	case graph.KindProject:
		out, err := Project(op.Project, delta)
		return out, nil, err
	case graph.KindUnion:
		out, err := Union(op.Union, in.InputIndex, delta, in.DistinctIdx)
		return out, nil, err
	case graph.KindAggregate:
		return Aggregate(op.Aggregate, in.GroupIndex, in.ReplayMode, delta)
	case graph.KindTopK:
		return TopK(op.TopK, in.GroupIndex, in.ReplayMode, delta)
	case graph.KindJoin:
		return Join(op.Join, in.FromLeft, in.OtherSide, in.OwnSide, in.UnmatchedIdx, delta)
	default:
		return flowtype.Delta{}, nil, fmt.Errorf("kernel: unsupported operator kind %s", op.Kind)
	}
}
