package kernel

import (
	"sort"

	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
)

// TopK applies delta to idx (an index over cfg.GroupBy holding every
// group member) and emits the difference between the group's top-K
// rows before and after the mutation: a displaced row retracted, the
// newly-admitted row inserted. Ties are broken by the full row value,
// giving a deterministic order regardless of insertion sequence (spec
// §4.3 "stable tuple" tie-break).
func TopK(cfg *graph.TopKConfig, idx *opstate.Index, replayMode bool, delta flowtype.Delta) (out flowtype.Delta, misses []flowtype.Key, err error) {
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

		before := topRows(cfg, idx.RawLookup(groupKey))

		if rec.Sign == flowtype.Positive {
			idx.Insert(opstate.Row(rec.Values))
		} else {
			idx.Remove(opstate.Row(rec.Values))
		}

		after := topRows(cfg, idx.RawLookup(groupKey))

		beforeSet := rowFingerprints(before)
		afterSet := rowFingerprints(after)

		if !replayMode {
			for _, r := range before {
				if _, stillIn := afterSet[r.Fingerprint()]; !stillIn {
					outRecs = append(outRecs, flowtype.Record{Values: r, Sign: flowtype.Negative})
				}
			}
		}
		for _, r := range after {
			if _, wasIn := beforeSet[r.Fingerprint()]; !wasIn {
				outRecs = append(outRecs, flowtype.Record{Values: r, Sign: flowtype.Positive})
			}
		}

		if replayMode && idx.Partial {
			idx.MarkFilled(groupKey)
		}
	}
	return flowtype.Delta{Records: outRecs}, misses, nil
}

func rowFingerprints(rows []opstate.Row) map[string]struct{} {
	set := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		set[r.Fingerprint()] = struct{}{}
	}
	return set
}

func topRows(cfg *graph.TopKConfig, rows []opstate.Row) []opstate.Row {
	sorted := append([]opstate.Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessRow(cfg.OrderBy, sorted[i], sorted[j])
	})
	if len(sorted) > cfg.K {
		sorted = sorted[:cfg.K]
	}
	return sorted
}

func lessRow(orderBy []graph.OrderKey, a, b opstate.Row) bool {
	for _, ord := range orderBy {
		c := a[ord.Column].Compare(b[ord.Column])
		if c == 0 {
			continue
		}
		if ord.Desc {
			return c > 0
		}
		return c < 0
	}
	// Tie-break on the full row so ordering is deterministic
	// independent of insertion order.
	return a.Compare(b) < 0
}
