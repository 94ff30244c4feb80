/*
Package replay implements FlowBase's upquery / partial-replay engine
(spec §4.6, C6): what happens after a domain's kernel reports a miss
against a partial index.

Coordinator implements domain.ReplayCoordinator. RequestReplay(origin,
keys) is called from inside a domain's own single-threaded loop —
either directly, when a live packet misses a partial index, or via a
ReplayRequest packet a Coordinator itself sent one hop upstream. Given
a registered replay path (graph.RegisterReplayPath / graph.ReplayPath)
whose source is always a fully-materialized node, Coordinator resolves
where `origin` sits on that path and either:

  - origin is the path's materialized source: nothing for the
    coordinator to do — pkg/domain's own handleReplayRequest already
    reads that node's state directly (it owns the thread) and starts
    the Replay chain flowing forward;
  - origin is anywhere else on the path: Coordinator asks the
    immediate upstream hop to continue, via a ReplayRequest packet
    sent through domain.Router. Since Router resolves any NodeID to
    either a local Domain.Submit or a remote clusterrpc call, this
    recursion walks all the way back to the materialized source
    regardless of how many domain or worker boundaries lie in between,
    with no special-casing for either case in this package.

Coordinator deduplicates by (Tag, key fingerprint): a key already
in-flight for a given replay path is not requested a second time, so
concurrent misses against the same uncovered key collapse into one
upstream replay instead of one per miss (spec §9's interleaving rule).
NotifyEvicted does the mirror-image job for spec §4.6's eviction
coupling: when a node's replay source evicts a key, every registered
downstream path rooted there is told to evict it too, so a reader
never serves a key whose upstream backing was dropped.
*/
package replay
