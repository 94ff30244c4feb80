package framework

import (
	"sync"

	"github.com/flowbase/flowbase/pkg/coordination"
)

// singleNodeAuthority is an in-memory, single-process
// coordination.Authority: enough for the controller's leader-gating
// and worker-listing needs in a one-node test cluster, without paying
// for a real raft quorum. Mirrors pkg/controller/controller_test.go's
// fakeAuthority — this module's established pattern for standing in
// for coordination.RaftAuthority in tests that don't exercise
// consensus itself.
type singleNodeAuthority struct {
	mu            sync.Mutex
	leaderPayload []byte
	workers       []coordination.WorkerDescriptor
}

func newSingleNodeAuthority() *singleNodeAuthority {
	return &singleNodeAuthority{}
}

func (a *singleNodeAuthority) Init() error { return nil }

func (a *singleNodeAuthority) BecomeLeader(payload []byte) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.leaderPayload == nil {
		a.leaderPayload = payload
		return payload, true, nil
	}
	return a.leaderPayload, false, nil
}

func (a *singleNodeAuthority) GetLeader() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaderPayload, nil
}

func (a *singleNodeAuthority) TryGetLeader() (coordination.LeaderStatus, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.leaderPayload == nil {
		return coordination.NoLeader, nil, nil
	}
	return coordination.Unchanged, a.leaderPayload, nil
}

func (a *singleNodeAuthority) SurrenderLeadership() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaderPayload = nil
	return nil
}

func (a *singleNodeAuthority) RegisterWorker(desc coordination.WorkerDescriptor) (coordination.WorkerID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workers = append(a.workers, desc)
	return desc.ID, nil
}

func (a *singleNodeAuthority) WorkerHeartbeat(id coordination.WorkerID) error { return nil }

func (a *singleNodeAuthority) GetWorkers() ([]coordination.WorkerDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]coordination.WorkerDescriptor(nil), a.workers...), nil
}

func (a *singleNodeAuthority) WorkerData(ids []coordination.WorkerID) ([]coordination.WorkerDescriptor, error) {
	return a.GetWorkers()
}

func (a *singleNodeAuthority) ReadModifyWrite(path string, f func([]byte) ([]byte, error)) error {
	_, err := f(nil)
	return err
}

var _ coordination.Authority = (*singleNodeAuthority)(nil)
