package replay_test

import (
	"testing"
	"time"

	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/replay"
	"github.com/flowbase/flowbase/pkg/router"
	"github.com/stretchr/testify/require"
)

// buildCrossDomainReplayGraph wires a materialized base (domain 1) into
// a partial Aggregate (domain 2), and registers the replay path a miss
// against the aggregate must walk back along.
func buildCrossDomainReplayGraph(t *testing.T) (*graph.Graph, *graph.Node, *graph.Node, graph.Tag) {
	t.Helper()
	g := graph.NewGraph()

	base := g.AddNode("base", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	base.Domain = 1

	agg := g.AddNode("agg", graph.OperatorKind{Kind: graph.KindAggregate, Aggregate: &graph.AggregateConfig{
		GroupBy: []int{0}, Function: graph.AggCount, InputColumn: 0,
	}}, nil, graph.Unsharded)
	agg.Partial = true
	agg.Domain = 2

	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))
	require.NoError(t, g.AddEdge(base.ID, agg.ID, true))

	tag := g.RegisterReplayPath([]graph.NodeID{base.ID, agg.ID})
	return g, base, agg, tag
}

func intRec(vals ...int64) flowtype.Record {
	values := make([]flowtype.Value, len(vals))
	for i, v := range vals {
		values[i] = flowtype.NewInt64(v)
	}
	return flowtype.Record{Values: values, Sign: flowtype.Positive}
}

// setupReplayCluster wires two in-process Domains (base's and agg's)
// behind a shared router.Router, and an agg-side replay.Coordinator
// pointed at that same router, mirroring how a real worker assembles
// these three pieces.
func setupReplayCluster(t *testing.T) (g *graph.Graph, base, agg *graph.Node, baseDomain, aggDomain *domain.Domain, r *router.Router) {
	t.Helper()
	g, base, agg, _ = buildCrossDomainReplayGraph(t)

	r = router.New(router.Config{WorkerID: "solo", Graph: g})
	coord := replay.New(replay.Config{Graph: g, Router: r})

	baseDomain = domain.New(domain.Config{ID: 1, Graph: g, Router: r})
	baseDomain.InstallNode(base)

	aggDomain = domain.New(domain.Config{ID: 2, Graph: g, Router: r, Replay: coord})
	aggDomain.InstallNode(agg)

	r.AddLocalDomain(1, baseDomain)
	r.AddLocalDomain(2, aggDomain)

	return g, base, agg, baseDomain, aggDomain, r
}

func TestCoordinatorFillsPartialAggregateAcrossDomains(t *testing.T) {
	g, base, agg, baseDomain, aggDomain, _ := setupReplayCluster(t)

	go baseDomain.Run()
	defer baseDomain.Stop()
	go aggDomain.Run()
	defer aggDomain.Stop()

	// Seed the materialized base with two rows under key 7, arriving
	// directly (as if already replicated), before the aggregate ever
	// sees a request for that key.
	baseDomain.Submit(domain.NewRegular(base.ID, g.SourceID, flowtype.Delta{Records: []flowtype.Record{
		intRec(7, 1),
		intRec(7, 2),
	}}))
	require.Eventually(t, func() bool {
		rt, ok := baseDomain.Runtime(base.ID)
		if !ok {
			return false
		}
		idx, ok := rt.State.Index(domain.IndexPrimary)
		if !ok {
			return false
		}
		return len(idx.RawLookup(flowtype.Key{flowtype.NewInt64(7)})) == 2
	}, time.Second, time.Millisecond)

	// A live packet against the aggregate for a key it has never been
	// filled for should miss and trigger a replay that walks back to
	// base, reads the two seeded rows, and fills the group — all
	// without the test ever touching the Coordinator's internals.
	aggDomain.Submit(domain.NewRegular(agg.ID, base.ID, flowtype.Delta{Records: []flowtype.Record{
		intRec(7, 3),
	}}))

	require.Eventually(t, func() bool {
		rt, ok := aggDomain.Runtime(agg.ID)
		if !ok {
			return false
		}
		idx, ok := rt.State.Index(domain.IndexGroup)
		if !ok {
			return false
		}
		return idx.IsFilled(flowtype.Key{flowtype.NewInt64(7)})
	}, time.Second, time.Millisecond)
}
