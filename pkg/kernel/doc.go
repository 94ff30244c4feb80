/*
Package kernel implements the pure operator delta-transform functions
from spec §4.3: Filter, Project, Join, Aggregate, Union, TopK, and
Identity.

Each kernel takes an input flowtype.Delta and the operator's own
opstate.State (or, for Join, a lookup callback into the other side's
state) and returns an output Delta plus the set of group/join keys
that missed a partial index, so the domain executor can buffer the
input and issue an upquery (spec §4.6) rather than the kernel doing so
itself — kernels never touch the packet router or replay engine
directly, which is what keeps them pure and unit-testable.

A replayMode flag tells Aggregate and TopK to suppress retractions of
prior state, since during a replay fill the downstream side has not
seen any of this key's data yet (spec §4.6 "replay mode").
*/
package kernel
