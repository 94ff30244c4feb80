package kernel

import (
	"testing"

	"github.com/flowbase/flowbase/pkg/expr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intRec(sign flowtype.Sign, vals ...int64) flowtype.Record {
	values := make([]flowtype.Value, len(vals))
	for i, v := range vals {
		values[i] = flowtype.NewInt64(v)
	}
	return flowtype.Record{Values: values, Sign: sign}
}

// TestUnionBasicPropagation mirrors scenario S1: union of two bases
// keyed by column a, with inserts/deletes from both sides.
func TestUnionBasicPropagation(t *testing.T) {
	cfg := &graph.UnionConfig{Mappings: [][]int{{0, 1}, {0, 1}}}

	out, err := Union(cfg, 0, flowtype.Delta{Records: []flowtype.Record{intRec(flowtype.Positive, 1, 2)}}, nil)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, int64(2), mustInt(out.Records[0].Values[1]))

	out, err = Union(cfg, 1, flowtype.Delta{Records: []flowtype.Record{intRec(flowtype.Positive, 1, 4)}}, nil)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
}

func mustInt(v flowtype.Value) int64 {
	i, _ := v.AsInt()
	return i
}

// TestAggregateEvictionRefillMatchesS3 mirrors scenario S3: sum by a,
// evict the group, refill it by replay, insert a new row, and check the
// final sum is 65 (the refilled 10+20+30 plus the new 5).
func TestAggregateEvictionRefillMatchesS3(t *testing.T) {
	idx := opstate.NewIndex([]int{0}, true)
	cfg := &graph.AggregateConfig{GroupBy: []int{0}, Function: graph.AggSum, InputColumn: 1}

	idx.MarkFilled(opstate.Row{flowtype.NewInt64(1)})

	delta := flowtype.Delta{Records: []flowtype.Record{
		intRec(flowtype.Positive, 1, 10),
		intRec(flowtype.Positive, 1, 20),
		intRec(flowtype.Positive, 1, 30),
	}}
	out, misses, err := Aggregate(cfg, idx, false, delta)
	require.NoError(t, err)
	require.Empty(t, misses)
	last := out.Records[len(out.Records)-1]
	assert.Equal(t, flowtype.Positive, last.Sign)
	assert.InDelta(t, 60.0, mustFloat(last.Values[1]), 0.001)

	idx.Evict(opstate.Row{flowtype.NewInt64(1)})

	_, misses, err = Aggregate(cfg, idx, true, delta)
	require.NoError(t, err)
	require.Empty(t, misses)

	out, misses, err = Aggregate(cfg, idx, false, flowtype.Delta{Records: []flowtype.Record{intRec(flowtype.Positive, 1, 5)}})
	require.NoError(t, err)
	require.Empty(t, misses)
	require.Len(t, out.Records, 2)
	assert.Equal(t, flowtype.Negative, out.Records[0].Sign)
	assert.InDelta(t, 60.0, mustFloat(out.Records[0].Values[1]), 0.001)
	assert.Equal(t, flowtype.Positive, out.Records[1].Sign)
	assert.InDelta(t, 65.0, mustFloat(out.Records[1].Values[1]), 0.001)
}

func mustFloat(v flowtype.Value) float64 {
	f, _ := v.AsFloat()
	return f
}

func TestAggregateUnfilledGroupReportsMiss(t *testing.T) {
	idx := opstate.NewIndex([]int{0}, true)
	cfg := &graph.AggregateConfig{GroupBy: []int{0}, Function: graph.AggCount, InputColumn: 0}

	_, misses, err := Aggregate(cfg, idx, false, flowtype.Delta{Records: []flowtype.Record{intRec(flowtype.Positive, 1, 99)}})
	require.NoError(t, err)
	require.Len(t, misses, 1)
}

func TestFilterDropsFalseAndNull(t *testing.T) {
	cfg := &graph.FilterConfig{Predicate: expr.Binary{Op: expr.OpGt, Left: expr.ColumnRef{Index: 0}, Right: expr.IntLit(1)}}
	delta := flowtype.Delta{Records: []flowtype.Record{
		intRec(flowtype.Positive, 5),
		intRec(flowtype.Positive, 1),
	}}
	out, err := Filter(cfg, delta)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, int64(5), mustInt(out.Records[0].Values[0]))
}

func TestJoinInnerCrossProduct(t *testing.T) {
	cfg := &graph.JoinConfig{Kind: graph.JoinInner, OnLeft: []int{0}, OnRight: []int{0}, LeftCols: 2, RightCols: 2}
	lookup := func(key opstate.Row) ([]opstate.Row, error) {
		return []opstate.Row{{flowtype.NewInt64(1), flowtype.NewText("r")}}, nil
	}
	delta := flowtype.Delta{Records: []flowtype.Record{
		{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("l")}, Sign: flowtype.Positive},
	}}
	out, misses, err := Join(cfg, true, lookup, nil, nil, delta)
	require.NoError(t, err)
	require.Empty(t, misses)
	require.Len(t, out.Records, 1)
	assert.Equal(t, 4, len(out.Records[0].Values))
}

func TestJoinLeftUnmatchedEmitsPaddedRow(t *testing.T) {
	cfg := &graph.JoinConfig{Kind: graph.JoinLeft, OnLeft: []int{0}, OnRight: []int{0}, LeftCols: 2, RightCols: 1}
	lookup := func(key opstate.Row) ([]opstate.Row, error) { return nil, nil }
	delta := flowtype.Delta{Records: []flowtype.Record{
		{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("l")}, Sign: flowtype.Positive},
	}}
	out, misses, err := Join(cfg, true, lookup, nil, nil, delta)
	require.NoError(t, err)
	require.Empty(t, misses)
	require.Len(t, out.Records, 1)
	assert.True(t, out.Records[0].Values[2].IsNull())
}

// TestJoinRightSideFirstMatchRetractsPad mirrors the §8 boundary
// property: a right row arriving as the first match for an
// already-padded left row must retract the prior NULL-padded record,
// not just emit the new joined row.
func TestJoinRightSideFirstMatchRetractsPad(t *testing.T) {
	cfg := &graph.JoinConfig{Kind: graph.JoinLeft, OnLeft: []int{0}, OnRight: []int{0}, LeftCols: 2, RightCols: 1}
	unmatchedIdx := opstate.NewIndex([]int{0}, false)
	leftRow := flowtype.Record{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("l")}, Sign: flowtype.Positive}

	noLeftMatch := func(key opstate.Row) ([]opstate.Row, error) { return nil, nil }
	out, misses, err := Join(cfg, true, noLeftMatch, nil, unmatchedIdx, flowtype.Delta{Records: []flowtype.Record{leftRow}})
	require.NoError(t, err)
	require.Empty(t, misses)
	require.Len(t, out.Records, 1)
	assert.True(t, out.Records[0].Values[2].IsNull())

	leftMatch := func(key opstate.Row) ([]opstate.Row, error) {
		return []opstate.Row{{flowtype.NewInt64(1), flowtype.NewText("l")}}, nil
	}
	noRightRowsYet := func(key opstate.Row) ([]opstate.Row, error) { return nil, nil }
	rightRow := flowtype.Record{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("r")}, Sign: flowtype.Positive}
	out, misses, err = Join(cfg, false, leftMatch, noRightRowsYet, unmatchedIdx, flowtype.Delta{Records: []flowtype.Record{rightRow}})
	require.NoError(t, err)
	require.Empty(t, misses)
	require.Len(t, out.Records, 2)

	var sawRetraction, sawJoinedRow bool
	for _, rec := range out.Records {
		if rec.Values[2].IsNull() && rec.Sign == flowtype.Negative {
			sawRetraction = true
		}
		if !rec.Values[2].IsNull() && rec.Sign == flowtype.Positive {
			sawJoinedRow = true
		}
	}
	assert.True(t, sawRetraction, "expected the stale NULL-padded row to be retracted")
	assert.True(t, sawJoinedRow, "expected the new joined row to be emitted")

	rightDelete := flowtype.Record{Values: []flowtype.Value{flowtype.NewInt64(1), flowtype.NewText("r")}, Sign: flowtype.Negative}
	hadOneRightRow := func(key opstate.Row) ([]opstate.Row, error) {
		return []opstate.Row{{flowtype.NewInt64(1), flowtype.NewText("r")}}, nil
	}
	out, misses, err = Join(cfg, false, leftMatch, hadOneRightRow, unmatchedIdx, flowtype.Delta{Records: []flowtype.Record{rightDelete}})
	require.NoError(t, err)
	require.Empty(t, misses)

	var sawRepad, sawRetractedJoin bool
	for _, rec := range out.Records {
		if rec.Values[2].IsNull() && rec.Sign == flowtype.Positive {
			sawRepad = true
		}
		if !rec.Values[2].IsNull() && rec.Sign == flowtype.Negative {
			sawRetractedJoin = true
		}
	}
	assert.True(t, sawRepad, "expected the left row to be re-padded with NULL once its last match is gone")
	assert.True(t, sawRetractedJoin, "expected the stale joined row to be retracted")
}

func TestTopKDisplacesLowestRankedEntry(t *testing.T) {
	idx := opstate.NewIndex([]int{0}, false)
	cfg := &graph.TopKConfig{GroupBy: []int{0}, OrderBy: []graph.OrderKey{{Column: 1, Desc: true}}, K: 2}

	seed := flowtype.Delta{Records: []flowtype.Record{
		intRec(flowtype.Positive, 1, 10),
		intRec(flowtype.Positive, 1, 20),
	}}
	_, _, err := TopK(cfg, idx, false, seed)
	require.NoError(t, err)

	out, misses, err := TopK(cfg, idx, false, flowtype.Delta{Records: []flowtype.Record{intRec(flowtype.Positive, 1, 30)}})
	require.NoError(t, err)
	require.Empty(t, misses)

	var sawRetract, sawInsert bool
	for _, r := range out.Records {
		v := mustInt(r.Values[1])
		if r.Sign == flowtype.Negative && v == 10 {
			sawRetract = true
		}
		if r.Sign == flowtype.Positive && v == 30 {
			sawInsert = true
		}
	}
	assert.True(t, sawRetract, "lowest-ranked entry should be displaced")
	assert.True(t, sawInsert, "new highest entry should be admitted")
}
