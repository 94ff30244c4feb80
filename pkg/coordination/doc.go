/*
Package coordination implements FlowBase's abstract coordination
authority (spec §4.8, C8): leader election, worker membership, and a
generic optimistic read-modify-write primitive, backed by an embedded
raft quorum instead of an external consul/etcd cluster.

Authority is the abstract interface the controller (pkg/controller)
depends on. RaftAuthority is the concrete implementation: every node
runs a raft.Raft instance over a small generic key/value FSM (fsm.go),
and every Authority operation becomes either a local read of the FSM's
applied state or a raft.Apply of a Command (commands.go). Because
raft.Apply only succeeds on the current leader, "this node is leader"
falls directly out of raft's own leader election — BecomeLeader simply
writes this node's payload into the reserved leader key if it can
(i.e. if it is the raft leader), and every other Authority method that
needs leadership (SurrenderLeadership, the worker-registration writes)
rejects with flowerr.ErrNotLeader when raft.Raft.State() is not Leader.

All keys are namespaced under Config.Deployment (`consensus/consul.rs`'s
deployment-prefix technique, carried over so one raft quorum could in
principle back multiple FlowBase deployments without key collisions,
even though nothing here currently shares a quorum across deployments).

TryGetLeader reads the leader key from the FSM on every poll and
compares the raft log's AppliedIndex to the index observed on the
previous call: an unchanged index is reported as Unchanged, any other
as NewLeader, in the spirit of ConsulAuthorityInner's
cached-modification-index trick.
*/
package coordination
