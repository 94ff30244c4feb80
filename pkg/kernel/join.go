package kernel

import (
	"errors"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/opstate"
)

// OtherSideLookup fetches the matching rows on the side of the join
// opposite the one a delta arrived from. The domain backs it with the
// join node's own per-side opstate.Index, which may be partial and
// return *flowerr.NeedsReplay.
type OtherSideLookup func(key opstate.Row) ([]opstate.Row, error)

// Join cross-produces a delta arriving on one side against the
// matching rows on the other side, per spec §4.3. For Left joins,
// unmatchedIdx (a full index keyed by the left join columns, storing
// left rows currently padded with NULL because they had no match)
// tracks which left rows are in the unmatched state so a later
// companion delta that changes the match count can retract or emit
// exactly one padded row rather than a duplicate.
//
// A delta arriving on the right can itself flip a key's match count
// between zero and nonzero, so ownSide — a lookup into the *arriving*
// side's own index, as it stood before this delta is applied — lets
// Join detect that transition within the same call: own(key) run
// before the caller applies this delta's rows to that index reports
// how many right rows already existed for key, which combined with
// rec.Sign tells Join whether this row is the first match a padded
// left row gains, or the last match a left row loses.
func Join(cfg *graph.JoinConfig, fromLeft bool, other, ownSide OtherSideLookup, unmatchedIdx *opstate.Index, delta flowtype.Delta) (out flowtype.Delta, misses []flowtype.Key, err error) {
	var outRecs []flowtype.Record
	onCols := cfg.OnRight
	if fromLeft {
		onCols = cfg.OnLeft
	}

	for _, rec := range delta.Records {
		keyVals := make([]flowtype.Value, len(onCols))
		for i, c := range onCols {
			keyVals[i] = rec.Values[c]
		}
		key := opstate.Row(keyVals)

		matches, lookupErr := other(key)
		if lookupErr != nil {
			var nr *flowerr.NeedsReplay
			if errors.As(lookupErr, &nr) {
				misses = append(misses, flowtype.Key(key))
				continue
			}
			return flowtype.Delta{}, misses, lookupErr
		}

		if len(matches) == 0 {
			if cfg.Kind == graph.JoinLeft && fromLeft {
				outRecs = append(outRecs, padded(rec, cfg, rec.Sign))
				if unmatchedIdx != nil {
					trackUnmatched(unmatchedIdx, rec)
				}
			}
			continue
		}

		if fromLeft {
			if unmatchedIdx != nil {
				untrackUnmatched(unmatchedIdx, rec)
			}
			for _, m := range matches {
				outRecs = append(outRecs, combine(rec, m, fromLeft, rec.Sign))
			}
			continue
		}

		if cfg.Kind == graph.JoinLeft && unmatchedIdx != nil && ownSide != nil {
			before, ownErr := ownSide(key)
			if ownErr == nil {
				after := len(before)
				if rec.Sign == flowtype.Positive {
					after++
				} else {
					after--
				}
				switch {
				case len(before) == 0 && after > 0:
					// This right row is the first match any of matches
					// (the left rows under this key) has ever had:
					// retract their NULL pad.
					for _, m := range matches {
						left := flowtype.Record{Values: []flowtype.Value(m), Sign: flowtype.Positive}
						outRecs = append(outRecs, padded(left, cfg, flowtype.Negative))
						untrackUnmatched(unmatchedIdx, left)
					}
				case len(before) > 0 && after <= 0:
					// This right delete removes the last match: re-pad
					// the left rows under this key with NULL.
					for _, m := range matches {
						left := flowtype.Record{Values: []flowtype.Value(m), Sign: flowtype.Positive}
						outRecs = append(outRecs, padded(left, cfg, flowtype.Positive))
						trackUnmatched(unmatchedIdx, left)
					}
				}
			}
		}

		for _, m := range matches {
			outRecs = append(outRecs, combine(rec, m, fromLeft, rec.Sign))
		}
	}
	return flowtype.Delta{Records: outRecs}, misses, nil
}

func combine(rec flowtype.Record, other opstate.Row, fromLeft bool, sign flowtype.Sign) flowtype.Record {
	var vals []flowtype.Value
	if fromLeft {
		vals = append(append([]flowtype.Value(nil), rec.Values...), other...)
	} else {
		vals = append(append([]flowtype.Value(nil), other...), rec.Values...)
	}
	return flowtype.Record{Values: vals, Sign: sign}
}

func padded(rec flowtype.Record, cfg *graph.JoinConfig, sign flowtype.Sign) flowtype.Record {
	vals := make([]flowtype.Value, 0, cfg.LeftCols+cfg.RightCols)
	vals = append(vals, rec.Values...)
	for i := 0; i < cfg.RightCols; i++ {
		vals = append(vals, flowtype.Null)
	}
	return flowtype.Record{Values: vals, Sign: sign}
}

func trackUnmatched(idx *opstate.Index, rec flowtype.Record) {
	if rec.Sign == flowtype.Positive {
		idx.Insert(opstate.Row(rec.Values))
	} else {
		idx.Remove(opstate.Row(rec.Values))
	}
}

func untrackUnmatched(idx *opstate.Index, rec flowtype.Record) {
	// A left row that now has at least one match is no longer
	// unmatched; drop any record of it regardless of sign so a later
	// delete doesn't mistake it for still-padded.
	idx.Remove(opstate.Row(rec.Values))
}
