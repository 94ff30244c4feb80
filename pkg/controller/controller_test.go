package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/coordination"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthority is a single-node, in-memory coordination.Authority:
// just enough for the controller's leader-gating and worker-listing
// needs without pulling in raft.
type fakeAuthority struct {
	mu            sync.Mutex
	leaderPayload []byte
	workers       []coordination.WorkerDescriptor
}

func (f *fakeAuthority) Init() error { return nil }

func (f *fakeAuthority) BecomeLeader(payload []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaderPayload == nil {
		f.leaderPayload = payload
		return payload, true, nil
	}
	return f.leaderPayload, false, nil
}

func (f *fakeAuthority) GetLeader() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderPayload, nil
}

func (f *fakeAuthority) TryGetLeader() (coordination.LeaderStatus, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaderPayload == nil {
		return coordination.NoLeader, nil, nil
	}
	return coordination.Unchanged, f.leaderPayload, nil
}

func (f *fakeAuthority) SurrenderLeadership() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderPayload = nil
	return nil
}

func (f *fakeAuthority) setLeader(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderPayload = payload
}

func (f *fakeAuthority) RegisterWorker(desc coordination.WorkerDescriptor) (coordination.WorkerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers = append(f.workers, desc)
	return desc.ID, nil
}

func (f *fakeAuthority) WorkerHeartbeat(id coordination.WorkerID) error { return nil }

func (f *fakeAuthority) GetWorkers() ([]coordination.WorkerDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]coordination.WorkerDescriptor(nil), f.workers...), nil
}

func (f *fakeAuthority) WorkerData(ids []coordination.WorkerID) ([]coordination.WorkerDescriptor, error) {
	return f.GetWorkers()
}

func (f *fakeAuthority) ReadModifyWrite(path string, fn func([]byte) ([]byte, error)) error {
	_, err := fn(nil)
	return err
}

// fakeDispatcher stands in for a real pkg/router.Router: it records
// every forwarded packet and answers Lookup from a pluggable function,
// so these tests exercise Controller/TableHandle/ViewHandle's own
// logic (placement, state machine, leader gating, request shaping)
// without standing up a full running domain.Domain loop — that
// integration is pkg/router and pkg/domain's own test responsibility.
type fakeDispatcher struct {
	mu       sync.Mutex
	forwards []domain.Packet
	lookupFn func(*clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error)
}

func (f *fakeDispatcher) Forward(p domain.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, p)
	return nil
}

func (f *fakeDispatcher) Lookup(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
	if f.lookupFn != nil {
		return f.lookupFn(req)
	}
	return &clusterrpc.LookupResponse{}, nil
}

func (f *fakeDispatcher) installPackets() []domain.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Packet
	for _, p := range f.forwards {
		if p.Kind == domain.Control && p.Op == domain.ControlInstallNode {
			out = append(out, p)
		}
	}
	return out
}

func newTestController(t *testing.T) (*Controller, *fakeAuthority, *fakeDispatcher) {
	t.Helper()
	g := graph.NewGraph()
	placement := graph.NewPlacement()
	auth := &fakeAuthority{}
	_, _, err := auth.BecomeLeader([]byte("worker-1"))
	require.NoError(t, err)
	_, err = auth.RegisterWorker(coordination.WorkerDescriptor{ID: "worker-1", Address: "local", Healthy: true})
	require.NoError(t, err)

	disp := &fakeDispatcher{}
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := New(Config{WorkerID: "worker-1", Graph: g, Placement: placement, Authority: auth, Router: disp, Store: store})
	t.Cleanup(c.Close)
	return c, auth, disp
}

func TestExtendRecipeInstallsTableAndCache(t *testing.T) {
	c, _, disp := newTestController(t)

	err := c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil)
	require.NoError(t, err)
	assert.Equal(t, Active, c.State())
	assert.Len(t, disp.installPackets(), 1, "one Base node installed")

	err = c.ExtendRecipe(`CREATE CACHE ALWAYS all_articles FROM SELECT * FROM articles;`, nil)
	require.NoError(t, err)
	assert.Equal(t, Active, c.State())

	n, ok := c.cfg.Graph.NodeByName("all_articles")
	require.True(t, ok)
	assert.Equal(t, graph.KindReader, n.Operator.Kind)
	assert.False(t, n.Partial, "CREATE CACHE ALWAYS is fully materialized")

	stmts, err := c.cfg.Store.LoadRecipe()
	require.NoError(t, err)
	assert.Len(t, stmts, 2)
}

func TestExtendRecipePlacesEachNodeOnARegisteredWorker(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))

	n, ok := c.cfg.Graph.NodeByName("articles")
	require.True(t, ok)
	worker, ok := c.cfg.Placement.WorkerFor(n.Domain)
	require.True(t, ok)
	assert.Equal(t, "worker-1", worker)
}

func TestExtendRecipeRejectsNonLeader(t *testing.T) {
	c, auth, _ := newTestController(t)
	auth.setLeader([]byte("someone-else"))

	err := c.ExtendRecipe(`CREATE TABLE t (id INT PRIMARY KEY);`, nil)
	assert.ErrorIs(t, err, flowerr.ErrNotLeader)
}

func TestExtendRecipeRejectsBadDDL(t *testing.T) {
	c, _, _ := newTestController(t)
	err := c.ExtendRecipe(`CREATE TABLE (totally broken`, nil)
	assert.Error(t, err)
	assert.Equal(t, Active, c.State(), "a failed migration leaves the prior state machine position, not stuck mid-transition")
}

func TestTableInsertForwardsBatchedDelta(t *testing.T) {
	c, _, disp := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))

	table, err := c.Table("articles")
	require.NoError(t, err)
	require.NoError(t, table.Insert([]flowtype.Value{flowtype.NewInt32(1), flowtype.NewText("hello")}))

	disp.mu.Lock()
	defer disp.mu.Unlock()
	require.Len(t, disp.forwards, 2, "one install packet, one regular write")
	last := disp.forwards[len(disp.forwards)-1]
	assert.Equal(t, domain.Regular, last.Kind)
	require.Len(t, last.Delta.Records, 1)
	assert.Equal(t, flowtype.Positive, last.Delta.Records[0].Sign)
}

func TestTableInsertOrUpdateEmitsRetractAndInsert(t *testing.T) {
	c, _, disp := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))

	table, err := c.Table("articles")
	require.NoError(t, err)
	old := []flowtype.Value{flowtype.NewInt32(1), flowtype.NewText("old")}
	fresh := []flowtype.Value{flowtype.NewInt32(1), flowtype.NewText("new")}
	require.NoError(t, table.InsertOrUpdate(old, fresh))

	disp.mu.Lock()
	defer disp.mu.Unlock()
	last := disp.forwards[len(disp.forwards)-1]
	require.Len(t, last.Delta.Records, 2)
	assert.Equal(t, flowtype.Negative, last.Delta.Records[0].Sign)
	assert.Equal(t, flowtype.Positive, last.Delta.Records[1].Sign)
}

func TestTableRejectsUnknownTable(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.Table("nope")
	assert.Error(t, err)
}

func TestTableRejectsWriteOnNonBaseNode(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))
	require.NoError(t, c.ExtendRecipe(`CREATE CACHE ALWAYS all_articles FROM SELECT * FROM articles;`, nil))

	_, err := c.Table("all_articles")
	assert.Error(t, err)
}

func TestViewLookupReturnsRowsOnHit(t *testing.T) {
	c, _, disp := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))
	require.NoError(t, c.ExtendRecipe(`CREATE CACHE ALWAYS all_articles FROM SELECT * FROM articles;`, nil))

	want := []flowtype.Key{{flowtype.NewInt32(1), flowtype.NewText("hello")}}
	disp.lookupFn = func(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
		return &clusterrpc.LookupResponse{Rows: want}, nil
	}

	view, err := c.View("all_articles")
	require.NoError(t, err)
	rows, ok, err := view.Lookup(context.Background(), flowtype.Key{flowtype.NewInt32(1)}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, rows)
}

func TestViewLookupMissReturnsFalseWithoutBlocking(t *testing.T) {
	c, _, disp := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))
	require.NoError(t, c.ExtendRecipe(`CREATE CACHE ALWAYS all_articles FROM SELECT * FROM articles;`, nil))

	disp.lookupFn = func(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
		return &clusterrpc.LookupResponse{Missed: true, NeedsReplayKey: req.Key}, nil
	}

	view, err := c.View("all_articles")
	require.NoError(t, err)
	rows, ok, err := view.Lookup(context.Background(), flowtype.Key{flowtype.NewInt32(1)}, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rows)
}

func TestViewLookupBlocksUntilFilled(t *testing.T) {
	c, _, disp := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))
	require.NoError(t, c.ExtendRecipe(`CREATE CACHE ALWAYS all_articles FROM SELECT * FROM articles;`, nil))

	var calls int
	want := []flowtype.Key{{flowtype.NewInt32(1)}}
	disp.lookupFn = func(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
		calls++
		if calls < 3 {
			return &clusterrpc.LookupResponse{Missed: true}, nil
		}
		return &clusterrpc.LookupResponse{Rows: want}, nil
	}

	view, err := c.View("all_articles")
	require.NoError(t, err)
	rows, ok, err := view.Lookup(context.Background(), flowtype.Key{flowtype.NewInt32(1)}, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, rows)
	assert.Equal(t, 3, calls)
}

func TestViewRejectsUnknownView(t *testing.T) {
	c, _, _ := newTestController(t)
	_, err := c.View("nope")
	assert.Error(t, err)
}

func TestSetReplicationOffsetSendsTimestampPacket(t *testing.T) {
	c, _, disp := newTestController(t)
	require.NoError(t, c.ExtendRecipe(`CREATE TABLE articles (id INT PRIMARY KEY, title TEXT NOT NULL);`, nil))

	table, err := c.Table("articles")
	require.NoError(t, err)
	offset := flowtype.ReplicationOffset{Label: "binlog", Position: 42}
	require.NoError(t, table.SetReplicationOffset(offset))

	disp.mu.Lock()
	defer disp.mu.Unlock()
	last := disp.forwards[len(disp.forwards)-1]
	assert.Equal(t, domain.Timestamp, last.Kind)
	assert.Equal(t, offset, last.Offset)
}
