package kernel

import (
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
)

// Aggregate applies delta to idx (an index over cfg.GroupBy) and
// returns the retract-old/insert-new pair for every group touched, per
// spec §4.3: "on +r emits -old,+new for the group key; on -r
// symmetrically."
//
// If idx is partial and a group key has not been filled, that key is
// reported in misses instead of being processed; the caller buffers
// the record and issues an upquery, then replays this same call in
// replayMode once the fill completes. In replayMode no retraction is
// emitted even if the group already held rows, since those rows are
// themselves part of the in-progress fill and downstream has not seen
// any of them yet.
func Aggregate(cfg *graph.AggregateConfig, idx *opstate.Index, replayMode bool, delta flowtype.Delta) (out flowtype.Delta, misses []flowtype.Key, err error) {
	var outRecs []flowtype.Record
	for _, rec := range delta.Records {
		groupVals := make([]flowtype.Value, len(cfg.GroupBy))
		for i, c := range cfg.GroupBy {
			groupVals[i] = rec.Values[c]
		}
		groupKey := opstate.Row(groupVals)

		if idx.Partial && !replayMode && !idx.IsFilled(groupKey) {
			misses = append(misses, flowtype.Key(groupKey))
			continue
		}

		before, hadBefore := reduceGroup(cfg, idx, groupKey)

		if rec.Sign == flowtype.Positive {
			idx.Insert(opstate.Row(rec.Values))
		} else {
			idx.Remove(opstate.Row(rec.Values))
		}

		after, hasAfter := reduceGroup(cfg, idx, groupKey)

		if hadBefore && !replayMode {
			outRecs = append(outRecs, flowtype.Record{Values: withAggValue(groupVals, before), Sign: flowtype.Negative})
		}
		if hasAfter {
			outRecs = append(outRecs, flowtype.Record{Values: withAggValue(groupVals, after), Sign: flowtype.Positive})
		}

		if replayMode && idx.Partial {
			idx.MarkFilled(groupKey)
		}
	}
	return flowtype.Delta{Records: outRecs}, misses, nil
}

func withAggValue(groupVals []flowtype.Value, agg flowtype.Value) []flowtype.Value {
	out := make([]flowtype.Value, len(groupVals)+1)
	copy(out, groupVals)
	out[len(groupVals)] = agg
	return out
}

func reduceGroup(cfg *graph.AggregateConfig, idx *opstate.Index, groupKey opstate.Row) (flowtype.Value, bool) {
	rows := idx.RawLookup(groupKey)
	if len(rows) == 0 {
		return flowtype.Null, false
	}
	return reduceRows(cfg.Function, cfg.InputColumn, rows), true
}

func reduceRows(fn graph.AggFunc, col int, rows []opstate.Row) flowtype.Value {
	switch fn {
	case graph.AggCount:
		return flowtype.NewInt64(int64(len(rows)))
	case graph.AggSum:
		if len(rows) > 0 && isIntegerKind(rows[0][col].Kind()) {
			var sum int64
			for _, r := range rows {
				n, _ := r[col].AsInt()
				sum += n
			}
			return flowtype.NewInt64(sum)
		}
		var sum float64
		for _, r := range rows {
			f, _ := r[col].AsFloat()
			sum += f
		}
		return flowtype.NewDouble(sum, 6)
	case graph.AggAvg:
		var sum float64
		for _, r := range rows {
			f, _ := r[col].AsFloat()
			sum += f
		}
		return flowtype.NewDouble(sum/float64(len(rows)), 6)
	case graph.AggMin:
		min := rows[0][col]
		for _, r := range rows[1:] {
			if r[col].Compare(min) < 0 {
				min = r[col]
			}
		}
		return min
	case graph.AggMax:
		max := rows[0][col]
		for _, r := range rows[1:] {
			if r[col].Compare(max) > 0 {
				max = r[col]
			}
		}
		return max
	default:
		return flowtype.Null
	}
}

func isIntegerKind(k flowtype.Kind) bool {
	switch k {
	case flowtype.KindInt32, flowtype.KindInt64, flowtype.KindUint32, flowtype.KindUint64:
		return true
	default:
		return false
	}
}
