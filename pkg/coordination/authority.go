package coordination

import "time"

// WorkerID identifies a registered worker process.
type WorkerID string

// WorkerDescriptor is the payload a worker registers itself with and
// refreshes on every heartbeat.
type WorkerDescriptor struct {
	ID            WorkerID
	Address       string // clusterrpc listen address, for pkg/router's remote dialer
	Healthy       bool
	LastHeartbeat time.Time
}

// LeaderStatus is TryGetLeader's result: whether the leader payload
// changed since the last observation, per spec §4.8.
type LeaderStatus int

const (
	// NoLeader: no one currently holds the leader key.
	NoLeader LeaderStatus = iota
	// Unchanged: the leader key's value is the same one last observed;
	// the caller's cached copy is still valid.
	Unchanged
	// NewLeader: the leader key changed (or appeared) since last observed.
	NewLeader
)

func (s LeaderStatus) String() string {
	switch s {
	case NoLeader:
		return "no_leader"
	case Unchanged:
		return "unchanged"
	case NewLeader:
		return "new_leader"
	default:
		return "unknown"
	}
}

// Authority is FlowBase's abstract coordination interface (spec §4.8):
// leader election, worker membership, and a generic optimistic
// read-modify-write primitive, over an external consensus-capable
// store. RaftAuthority is the only implementation this module ships,
// but the controller depends only on this interface so a future
// consul- or etcd-backed implementation could be substituted without
// touching pkg/controller.
type Authority interface {
	// Init establishes this node's session with the coordination
	// backend. Must be called once before any other method.
	Init() error

	// BecomeLeader attempts to acquire the leader key, storing payload
	// as its value. Returns becameLeader=true iff this node now holds
	// leadership; if another node already holds it, returns
	// becameLeader=false and that node's payload.
	BecomeLeader(payload []byte) (leaderPayload []byte, becameLeader bool, err error)

	// GetLeader blocks until a leader exists, returning its payload.
	GetLeader() ([]byte, error)

	// TryGetLeader is GetLeader's non-blocking, change-detecting
	// counterpart: it never blocks, and reports Unchanged (still
	// returning the current payload) when nothing was applied since the
	// previous call.
	TryGetLeader() (LeaderStatus, []byte, error)

	// SurrenderLeadership releases the leader key without tearing down
	// this node's session, so it may attempt to reacquire it later.
	// Returns flowerr.ErrNotLeader if this node does not hold it.
	SurrenderLeadership() error

	// RegisterWorker admits a new worker, or refreshes an existing
	// registration with the same ID, returning its WorkerID. A
	// descriptor with an empty ID is always given a fresh one.
	RegisterWorker(desc WorkerDescriptor) (WorkerID, error)

	// WorkerHeartbeat refreshes id's LastHeartbeat.
	WorkerHeartbeat(id WorkerID) error

	// GetWorkers returns every currently registered worker.
	GetWorkers() ([]WorkerDescriptor, error)

	// WorkerData returns the descriptors for exactly the given ids,
	// omitting any id that is not (or no longer) registered.
	WorkerData(ids []WorkerID) ([]WorkerDescriptor, error)

	// ReadModifyWrite performs an optimistic compare-and-set loop
	// against path: reads the current value (nil if absent), applies f,
	// and commits the result only if nothing else modified path in the
	// meantime, retrying on conflict.
	ReadModifyWrite(path string, f func(current []byte) ([]byte, error)) error
}
