package domain

import (
	"testing"
	"time"

	"github.com/flowbase/flowbase/pkg/expr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLinearGraph wires source -> base -> filter(a > 1) -> reader,
// all in one domain, mirroring the simplest shape of scenario S1.
func buildLinearGraph(t *testing.T) (*graph.Graph, *Domain) {
	t.Helper()
	g := graph.NewGraph()

	base := g.AddNode("articles", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))

	filter := g.AddNode("filter", graph.OperatorKind{Kind: graph.KindFilter, Filter: &graph.FilterConfig{
		Predicate: expr.Binary{Op: expr.OpGt, Left: expr.ColumnRef{Index: 0}, Right: expr.IntLit(1)},
	}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(base.ID, filter.ID, false))

	reader := g.AddNode("reader", graph.OperatorKind{Kind: graph.KindReader, Reader: &graph.ReaderConfig{KeyColumns: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(filter.ID, reader.ID, true))

	d := New(Config{ID: 1, Graph: g})
	d.InstallNode(base)
	d.InstallNode(filter)
	d.InstallNode(reader)
	return g, d
}

func intRec(sign flowtype.Sign, vals ...int64) flowtype.Record {
	values := make([]flowtype.Value, len(vals))
	for i, v := range vals {
		values[i] = flowtype.NewInt64(v)
	}
	return flowtype.Record{Values: values, Sign: sign}
}

func TestRegularPacketPropagatesThroughFilterToReader(t *testing.T) {
	g, d := buildLinearGraph(t)
	baseID := g.Descendants(g.SourceID)[0]

	go d.Run()
	defer d.Stop()

	d.Submit(NewRegular(baseID, g.SourceID, flowtype.Delta{Records: []flowtype.Record{
		intRec(flowtype.Positive, 5),
		intRec(flowtype.Positive, 1),
	}}))

	readerID := g.Descendants(g.Descendants(baseID)[0])[0]
	require.Eventually(t, func() bool {
		rt, ok := d.Runtime(readerID)
		if !ok {
			return false
		}
		rows, err := rt.Reader.Get(flowtype.Key{flowtype.NewInt64(5)})
		return err == nil && len(rows) == 1
	}, time.Second, time.Millisecond)

	rt, _ := d.Runtime(readerID)
	_, err := rt.Reader.Get(flowtype.Key{flowtype.NewInt64(1)})
	assert.Error(t, err, "row filtered out (a=1 fails a>1) should never reach the reader")
}

func TestControlInstallAndRemoveNode(t *testing.T) {
	g, d := buildLinearGraph(t)
	baseID := g.Descendants(g.SourceID)[0]

	d.RemoveNode(baseID)
	_, ok := d.Runtime(baseID)
	assert.False(t, ok)

	n, _ := g.Node(baseID)
	d.InstallNode(n)
	_, ok = d.Runtime(baseID)
	assert.True(t, ok)
}

type fakeReplay struct {
	requested [][]flowtype.Key
	evicted   [][]flowtype.Key
}

func (f *fakeReplay) RequestReplay(origin graph.NodeID, keys []flowtype.Key) error {
	f.requested = append(f.requested, keys)
	return nil
}

func (f *fakeReplay) NotifyEvicted(node graph.NodeID, keys []flowtype.Key) error {
	f.evicted = append(f.evicted, keys)
	return nil
}

func TestAggregateMissTriggersReplayRequest(t *testing.T) {
	g := graph.NewGraph()
	base := g.AddNode("base", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))
	agg := g.AddNode("agg", graph.OperatorKind{Kind: graph.KindAggregate, Aggregate: &graph.AggregateConfig{
		GroupBy: []int{0}, Function: graph.AggCount, InputColumn: 0,
	}}, nil, graph.Unsharded)
	agg.Partial = true
	require.NoError(t, g.AddEdge(base.ID, agg.ID, true))

	replay := &fakeReplay{}
	d := New(Config{ID: 1, Graph: g, Replay: replay})
	d.InstallNode(base)
	d.InstallNode(agg)

	go d.Run()
	defer d.Stop()

	d.Submit(NewRegular(agg.ID, base.ID, flowtype.Delta{Records: []flowtype.Record{intRec(flowtype.Positive, 7, 1)}}))

	require.Eventually(t, func() bool {
		return len(replay.requested) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, flowtype.NewInt64(7), replay.requested[0][0][0])
}

func TestEvictionClearsIndexAndNotifiesReplayCoordinator(t *testing.T) {
	g := graph.NewGraph()
	base := g.AddNode("base", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))

	replay := &fakeReplay{}
	d := New(Config{ID: 1, Graph: g, Replay: replay})
	d.InstallNode(base)

	go d.Run()
	defer d.Stop()

	key := flowtype.Key{flowtype.NewInt64(3)}
	d.Submit(NewEviction(base.ID, []flowtype.Key{key}))

	require.Eventually(t, func() bool {
		return len(replay.evicted) == 1
	}, time.Second, time.Millisecond)
}

func TestPriorityQueuePromotesControlOverRegular(t *testing.T) {
	q := newPacketQueue(nil)
	q.push(Packet{Kind: Regular})
	q.push(Packet{Kind: Timestamp})
	q.push(Packet{Kind: Control})
	q.push(Packet{Kind: Eviction})

	first, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, Control, first.Kind)

	second, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, Eviction, second.Kind)
}

func TestJoinOnSingleNodeMatchesAcrossBothSides(t *testing.T) {
	g := graph.NewGraph()
	left := g.AddNode("left", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	right := g.AddNode("right", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, left.ID, true))
	require.NoError(t, g.AddEdge(g.SourceID, right.ID, true))

	join := g.AddNode("join", graph.OperatorKind{Kind: graph.KindJoin, Join: &graph.JoinConfig{
		Kind: graph.JoinInner, OnLeft: []int{0}, OnRight: []int{0}, LeftCols: 2, RightCols: 2,
	}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(left.ID, join.ID, true))
	require.NoError(t, g.AddEdge(right.ID, join.ID, true))

	reader := g.AddNode("reader", graph.OperatorKind{Kind: graph.KindReader, Reader: &graph.ReaderConfig{KeyColumns: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(join.ID, reader.ID, true))

	d := New(Config{ID: 1, Graph: g})
	d.InstallNode(left)
	d.InstallNode(right)
	d.InstallNode(join)
	d.InstallNode(reader)

	go d.Run()
	defer d.Stop()

	leftRow := flowtype.Record{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("l")}, Sign: flowtype.Positive}
	rightRow := flowtype.Record{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("r")}, Sign: flowtype.Positive}

	d.Submit(NewRegular(join.ID, left.ID, flowtype.Delta{Records: []flowtype.Record{leftRow}}))
	d.Submit(NewRegular(join.ID, right.ID, flowtype.Delta{Records: []flowtype.Record{rightRow}}))

	require.Eventually(t, func() bool {
		rt, ok := d.Runtime(reader.ID)
		if !ok {
			return false
		}
		rows, err := rt.Reader.Get(flowtype.Key{flowtype.NewInt64(1)})
		return err == nil && len(rows) == 1
	}, time.Second, time.Millisecond)
}

func TestSharderFansRecordsOutByHashOfColumn(t *testing.T) {
	g := graph.NewGraph()
	base := g.AddNode("base", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))

	sharder := g.AddNode("sharder", graph.OperatorKind{Kind: graph.KindSharder, Shard: &graph.ShardConfig{Column: 0, NumShards: 2}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(base.ID, sharder.ID, false))

	shard0 := g.AddNode("shard0-reader", graph.OperatorKind{Kind: graph.KindReader, Reader: &graph.ReaderConfig{KeyColumns: []int{0}}}, nil, graph.Unsharded)
	shard1 := g.AddNode("shard1-reader", graph.OperatorKind{Kind: graph.KindReader, Reader: &graph.ReaderConfig{KeyColumns: []int{0}}}, nil, graph.Unsharded)
	require.NoError(t, g.AddEdge(sharder.ID, shard0.ID, true))
	require.NoError(t, g.AddEdge(sharder.ID, shard1.ID, true))

	d := New(Config{ID: 1, Graph: g})
	d.InstallNode(base)
	d.InstallNode(sharder)
	d.InstallNode(shard0)
	d.InstallNode(shard1)

	go d.Run()
	defer d.Stop()

	// Send a spread of keys and confirm every row lands in the shard
	// its own hash selects, and the two shards between them see every
	// row exactly once.
	var records []flowtype.Record
	for i := int64(0); i < 20; i++ {
		records = append(records, intRec(flowtype.Positive, i))
	}
	d.Submit(NewRegular(sharder.ID, base.ID, flowtype.Delta{Records: records}))

	require.Eventually(t, func() bool {
		rt0, ok0 := d.Runtime(shard0.ID)
		rt1, ok1 := d.Runtime(shard1.ID)
		if !ok0 || !ok1 {
			return false
		}
		total := 0
		for i := int64(0); i < 20; i++ {
			key := flowtype.Key{flowtype.NewInt64(i)}
			rows0, _ := rt0.Reader.Get(key)
			rows1, _ := rt1.Reader.Get(key)
			total += len(rows0) + len(rows1)
			if len(rows0) > 0 && len(rows1) > 0 {
				return false // a key must land in exactly one shard
			}
		}
		return total == 20
	}, time.Second, time.Millisecond)
}
