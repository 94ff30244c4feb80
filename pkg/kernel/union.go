package kernel

import (
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
)

// Union renames inbound columns per cfg.Mappings[inputIndex] and
// forwards the result. Duplicates are preserved (multiset semantics)
// unless cfg.Distinct is set, in which case distinctIdx (a full index
// keyed by every output column) tracks multiplicity so only the first
// occurrence of a row is forwarded as an insert and only the last as a
// retraction.
func Union(cfg *graph.UnionConfig, inputIndex int, delta flowtype.Delta, distinctIdx *opstate.Index) (flowtype.Delta, error) {
	mapping := cfg.Mappings[inputIndex]
	out := make([]flowtype.Record, 0, len(delta.Records))
	for _, rec := range delta.Records {
		vals := make([]flowtype.Value, len(mapping))
		for i, col := range mapping {
			vals[i] = rec.Values[col]
		}
		mapped := flowtype.Record{Values: vals, Sign: rec.Sign}

		if !cfg.Distinct || distinctIdx == nil {
			out = append(out, mapped)
			continue
		}

		row := opstate.Row(vals)
		if rec.Sign == flowtype.Positive {
			existing := distinctIdx.RawLookup(row)
			distinctIdx.Insert(row)
			if len(existing) == 0 {
				out = append(out, mapped)
			}
		} else {
			distinctIdx.Remove(row)
			if len(distinctIdx.RawLookup(row)) == 0 {
				out = append(out, mapped)
			}
		}
	}
	return flowtype.Delta{Records: out}, nil
}
