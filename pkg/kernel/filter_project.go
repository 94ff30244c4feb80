package kernel

import (
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
)

// Filter drops records whose predicate does not evaluate to true;
// NULL (unknown) is treated as false, per spec §4.3's 3-valued logic.
func Filter(cfg *graph.FilterConfig, delta flowtype.Delta) (flowtype.Delta, error) {
	var out []flowtype.Record
	for _, rec := range delta.Records {
		v, err := cfg.Predicate.Eval(rec.Values)
		if err != nil {
			return flowtype.Delta{}, err
		}
		if b, ok := v.AsBool(); ok && b {
			out = append(out, rec)
		}
	}
	return flowtype.Delta{Records: out}, nil
}

// Project reorders/drops columns and evaluates computed expressions.
// cfg.Emit[i] >= 0 selects input column i; -1 evaluates
// cfg.Computed[i] against the input row instead.
func Project(cfg *graph.ProjectConfig, delta flowtype.Delta) (flowtype.Delta, error) {
	out := make([]flowtype.Record, 0, len(delta.Records))
	for _, rec := range delta.Records {
		vals := make([]flowtype.Value, len(cfg.Emit))
		for i, col := range cfg.Emit {
			if col >= 0 {
				vals[i] = rec.Values[col]
				continue
			}
			v, err := cfg.Computed[i].Eval(rec.Values)
			if err != nil {
				return flowtype.Delta{}, err
			}
			vals[i] = v
		}
		out = append(out, flowtype.Record{Values: vals, Sign: rec.Sign})
	}
	return flowtype.Delta{Records: out}, nil
}

// Identity forwards the delta unchanged.
func Identity(delta flowtype.Delta) (flowtype.Delta, error) {
	return delta, nil
}
