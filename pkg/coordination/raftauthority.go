package coordination

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

const (
	leaderPollInterval = 50 * time.Millisecond
	applyTimeout       = 5 * time.Second
	maxCASAttempts     = 10
)

// Config parameterizes RaftAuthority with this module's Config-struct
// constructor idiom.
type Config struct {
	NodeID     string
	BindAddr   string
	DataDir    string
	Deployment string // namespaces every key, so one quorum could back multiple deployments
	Bootstrap  bool   // true for the first node of a new cluster
	Logger     zerolog.Logger
}

// RaftAuthority implements Authority over an embedded hashicorp/raft
// quorum: every node runs the same tiny key/value FSM (fsm.go), and
// "this node is leader" for Authority's purposes is defined as "this
// node is the raft leader" — no separate session/lock layer is needed
// on top, since raft.Apply itself only ever succeeds on the leader.
type RaftAuthority struct {
	cfg  Config
	raft *raft.Raft
	fsm  *authorityFSM
	log  zerolog.Logger

	stopCh chan struct{}

	mu               sync.Mutex
	lastAppliedIndex uint64
}

// New builds a RaftAuthority: sets up the TCP transport, the
// raft-boltdb log/stable stores, and the file snapshot store, the same
// pieces and order as the teacher's Manager.Bootstrap/Join (
// pkg/manager/manager.go), generalized to not bootstrap a cluster
// configuration itself — call Init for that, mirroring how this
// module's other constructors separate "assembled" from "running".
func New(cfg Config) (*RaftAuthority, error) {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("coordination")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("coordination: create data dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	// Tuned down from hashicorp/raft's WAN-oriented defaults
	// (HeartbeatTimeout/ElectionTimeout=1s) for faster failover on a
	// LAN deployment, the same values the teacher's Manager.Bootstrap
	// uses.
	raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	raftConfig.ElectionTimeout = 500 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("coordination: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("coordination: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("coordination: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("coordination: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("coordination: create stable store: %w", err)
	}

	fsm := newAuthorityFSM()
	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("coordination: create raft: %w", err)
	}

	a := &RaftAuthority{
		cfg:    cfg,
		raft:   r,
		fsm:    fsm,
		log:    logger,
		stopCh: make(chan struct{}),
	}
	go a.watchLeadership()
	return a, nil
}

var _ Authority = (*RaftAuthority)(nil)

// Init bootstraps a fresh single-node cluster configuration when
// cfg.Bootstrap is set. Joining nodes instead wait to be admitted by
// the current leader's AddVoter, so Init is a no-op for them.
func (a *RaftAuthority) Init() error {
	if !a.cfg.Bootstrap {
		return nil
	}
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(a.cfg.NodeID), Address: raft.ServerAddress(a.cfg.BindAddr)},
		},
	}
	if err := a.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("coordination: bootstrap cluster: %w", err)
	}
	a.refreshPeerGauge()
	return nil
}

// AddVoter admits a new node into the raft configuration. Only the
// current leader may call this successfully, same as the teacher's
// Manager.AddVoter.
func (a *RaftAuthority) AddVoter(nodeID, address string) error {
	if a.raft.State() != raft.Leader {
		return flowerr.ErrNotLeader
	}
	if err := a.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("coordination: add voter: %w", err)
	}
	a.refreshPeerGauge()
	return nil
}

// Shutdown stops the leadership watcher and the underlying raft
// instance.
func (a *RaftAuthority) Shutdown() error {
	close(a.stopCh)
	return a.raft.Shutdown().Error()
}

func (a *RaftAuthority) watchLeadership() {
	for {
		select {
		case isLeader := <-a.raft.LeaderCh():
			if isLeader {
				metrics.RaftLeader.Set(1)
			} else {
				metrics.RaftLeader.Set(0)
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *RaftAuthority) refreshPeerGauge() {
	future := a.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return
	}
	metrics.RaftPeers.Set(float64(len(future.Configuration().Servers)))
}

func (a *RaftAuthority) namespaced(key string) string {
	return a.cfg.Deployment + "/" + key
}

func (a *RaftAuthority) leaderKey() string { return a.namespaced("leader") }

func (a *RaftAuthority) workerKey(id WorkerID) string {
	return a.namespaced("workers/" + string(id))
}

func (a *RaftAuthority) workersPrefix() string { return a.namespaced("workers/") }

// apply submits cmd to the raft log and waits for it to commit,
// translating raft's own not-leader error and this FSM's CAS-conflict
// sentinel into the errors callers actually care about.
func (a *RaftAuthority) apply(cmd Command) error {
	data, err := marshalCommand(cmd)
	if err != nil {
		return fmt.Errorf("coordination: marshal command: %w", err)
	}

	timer := metrics.NewTimer()
	future := a.raft.Apply(data, applyTimeout)
	err = future.Error()
	timer.ObserveDuration(metrics.RaftApplyDuration)
	if err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return flowerr.ErrNotLeader
		}
		return fmt.Errorf("coordination: raft apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if respErr, ok := resp.(error); ok && respErr != nil {
			return respErr
		}
	}
	return nil
}

// BecomeLeader implements Authority.
func (a *RaftAuthority) BecomeLeader(payload []byte) ([]byte, bool, error) {
	if a.raft.State() != raft.Leader {
		current, _ := a.fsm.get(a.leaderKey())
		return current, false, nil
	}
	if err := a.apply(Command{Op: opPut, Key: a.leaderKey(), Value: payload}); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// GetLeader implements Authority.
func (a *RaftAuthority) GetLeader() ([]byte, error) {
	for {
		if payload, ok := a.fsm.get(a.leaderKey()); ok {
			return payload, nil
		}
		time.Sleep(leaderPollInterval)
	}
}

// TryGetLeader implements Authority.
func (a *RaftAuthority) TryGetLeader() (LeaderStatus, []byte, error) {
	idx := a.raft.AppliedIndex()

	a.mu.Lock()
	unchanged := idx == a.lastAppliedIndex
	a.mu.Unlock()

	payload, ok := a.fsm.get(a.leaderKey())
	if !ok {
		return NoLeader, nil, nil
	}

	a.mu.Lock()
	a.lastAppliedIndex = idx
	a.mu.Unlock()

	if unchanged {
		return Unchanged, payload, nil
	}
	return NewLeader, payload, nil
}

// SurrenderLeadership implements Authority.
func (a *RaftAuthority) SurrenderLeadership() error {
	if a.raft.State() != raft.Leader {
		return flowerr.ErrNotLeader
	}
	return a.apply(Command{Op: opDel, Key: a.leaderKey()})
}

// RegisterWorker implements Authority.
func (a *RaftAuthority) RegisterWorker(desc WorkerDescriptor) (WorkerID, error) {
	if desc.ID == "" {
		desc.ID = WorkerID(uuid.New().String())
	}
	desc.Healthy = true
	desc.LastHeartbeat = time.Now()

	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("coordination: marshal worker descriptor: %w", err)
	}
	if err := a.apply(Command{Op: opPut, Key: a.workerKey(desc.ID), Value: data}); err != nil {
		return "", err
	}
	a.refreshWorkerGauge()
	return desc.ID, nil
}

// WorkerHeartbeat implements Authority.
func (a *RaftAuthority) WorkerHeartbeat(id WorkerID) error {
	err := a.ReadModifyWrite(a.unprefixedWorkerPath(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fmt.Errorf("coordination: worker %q is not registered", id)
		}
		var desc WorkerDescriptor
		if err := json.Unmarshal(current, &desc); err != nil {
			return nil, fmt.Errorf("coordination: unmarshal worker descriptor: %w", err)
		}
		desc.Healthy = true
		desc.LastHeartbeat = time.Now()
		return json.Marshal(desc)
	})
	if err != nil {
		return err
	}
	a.refreshWorkerGauge()
	return nil
}

// unprefixedWorkerPath exists because ReadModifyWrite itself applies
// the deployment namespace prefix (it is also used directly by
// callers with their own unprefixed paths), so WorkerHeartbeat must
// hand it the same relative path RegisterWorker stored under.
func (a *RaftAuthority) unprefixedWorkerPath(id WorkerID) string {
	return "workers/" + string(id)
}

// GetWorkers implements Authority.
func (a *RaftAuthority) GetWorkers() ([]WorkerDescriptor, error) {
	raw := a.fsm.scanPrefix(a.workersPrefix())
	out := make([]WorkerDescriptor, 0, len(raw))
	for _, v := range raw {
		var desc WorkerDescriptor
		if err := json.Unmarshal(v, &desc); err != nil {
			return nil, fmt.Errorf("coordination: unmarshal worker descriptor: %w", err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// WorkerData implements Authority.
func (a *RaftAuthority) WorkerData(ids []WorkerID) ([]WorkerDescriptor, error) {
	out := make([]WorkerDescriptor, 0, len(ids))
	for _, id := range ids {
		v, ok := a.fsm.get(a.workerKey(id))
		if !ok {
			continue
		}
		var desc WorkerDescriptor
		if err := json.Unmarshal(v, &desc); err != nil {
			return nil, fmt.Errorf("coordination: unmarshal worker descriptor: %w", err)
		}
		out = append(out, desc)
	}
	return out, nil
}

func (a *RaftAuthority) refreshWorkerGauge() {
	workers, err := a.GetWorkers()
	if err != nil {
		return
	}
	healthy, unhealthy := 0, 0
	for _, w := range workers {
		if w.Healthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	metrics.WorkersTotal.WithLabelValues("healthy").Set(float64(healthy))
	metrics.WorkersTotal.WithLabelValues("unhealthy").Set(float64(unhealthy))
}

// ReadModifyWrite implements Authority. path is relative to this
// authority's deployment namespace.
func (a *RaftAuthority) ReadModifyWrite(path string, f func(current []byte) ([]byte, error)) error {
	key := a.namespaced(path)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, exists := a.fsm.get(key)
		var expected []byte
		if exists {
			expected = current
		}

		next, err := f(current)
		if err != nil {
			return err
		}

		err = a.apply(Command{Op: opCAS, Key: key, Value: next, Expected: expected, HadExpected: exists})
		if err == nil {
			return nil
		}
		if errors.Is(err, errCASConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("coordination: read-modify-write on %q did not converge after %d attempts", path, maxCASAttempts)
}
