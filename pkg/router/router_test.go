package router

import (
	"testing"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	received []domain.Packet
	err      error
}

func (f *fakeRemote) Forward(p domain.Packet) error {
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, p)
	return nil
}

func (f *fakeRemote) Lookup(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &clusterrpc.LookupResponse{}, nil
}

func buildTwoDomainGraph(t *testing.T) (*graph.Graph, *graph.Node, *graph.Node) {
	t.Helper()
	g := graph.NewGraph()
	local := g.AddNode("local-base", graph.OperatorKind{Kind: graph.KindBase, Base: &graph.BaseConfig{PrimaryKey: []int{0}}}, nil, graph.Unsharded)
	local.Domain = 1
	remote := g.AddNode("remote-reader", graph.OperatorKind{Kind: graph.KindReader, Reader: &graph.ReaderConfig{KeyColumns: []int{0}}}, nil, graph.Unsharded)
	remote.Domain = 2
	require.NoError(t, g.AddEdge(local.ID, remote.ID, true))
	return g, local, remote
}

func TestForwardToLocalDomainSubmitsDirectly(t *testing.T) {
	g, local, remote := buildTwoDomainGraph(t)
	placement := graph.NewPlacement()
	placement.Assign(1, []graph.NodeID{local.ID}, 1, "worker-a")
	placement.Assign(2, []graph.NodeID{remote.ID}, 1, "worker-b")

	d := domain.New(domain.Config{ID: 2, Graph: g})
	d.InstallNode(remote)

	r := New(Config{WorkerID: "worker-b", Graph: g, Placement: placement})
	r.AddLocalDomain(2, d)

	pkt := domain.NewRegular(remote.ID, local.ID, flowtype.Delta{})
	require.NoError(t, r.Forward(pkt))

	rt, ok := d.Runtime(remote.ID)
	require.True(t, ok)
	assert.NotNil(t, rt)
}

func TestForwardToRemoteWorkerDialsAndInvokes(t *testing.T) {
	g, local, remote := buildTwoDomainGraph(t)
	placement := graph.NewPlacement()
	placement.Assign(1, []graph.NodeID{local.ID}, 1, "worker-a")
	placement.Assign(2, []graph.NodeID{remote.ID}, 1, "worker-b")

	remoteTransport := &fakeRemote{}
	dialed := make([]string, 0, 1)
	r := New(Config{
		WorkerID:  "worker-a",
		Graph:     g,
		Placement: placement,
		Dial: func(addr string) (ReadTransport, error) {
			dialed = append(dialed, addr)
			return remoteTransport, nil
		},
	})

	pkt := domain.NewRegular(remote.ID, local.ID, flowtype.Delta{})
	require.NoError(t, r.Forward(pkt))
	require.NoError(t, r.Forward(pkt))

	assert.Equal(t, []string{"worker-b"}, dialed, "second Forward should reuse the cached transport, not re-dial")
	assert.Len(t, remoteTransport.received, 2)
}

func TestForwardUnknownNodeErrors(t *testing.T) {
	g, _, _ := buildTwoDomainGraph(t)
	placement := graph.NewPlacement()
	r := New(Config{WorkerID: "worker-a", Graph: g, Placement: placement})

	pkt := domain.NewRegular(graph.NodeID(9999), graph.NodeID(1), flowtype.Delta{})
	err := r.Forward(pkt)
	assert.Error(t, err)
}

func TestForwardInvalidatesCacheOnTransportError(t *testing.T) {
	g, local, remote := buildTwoDomainGraph(t)
	placement := graph.NewPlacement()
	placement.Assign(1, []graph.NodeID{local.ID}, 1, "worker-a")
	placement.Assign(2, []graph.NodeID{remote.ID}, 1, "worker-b")

	calls := 0
	r := New(Config{
		WorkerID:  "worker-a",
		Graph:     g,
		Placement: placement,
		Dial: func(addr string) (ReadTransport, error) {
			calls++
			if calls == 1 {
				return &fakeRemote{err: assertErr}, nil
			}
			return &fakeRemote{}, nil
		},
	})

	pkt := domain.NewRegular(remote.ID, local.ID, flowtype.Delta{})
	require.Error(t, r.Forward(pkt))
	require.NoError(t, r.Forward(pkt))
	assert.Equal(t, 2, calls, "a failed call should force a re-dial on the next Forward")
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeReplayCoordinator struct {
	requested []flowtype.Key
}

func (f *fakeReplayCoordinator) RequestReplay(origin graph.NodeID, keys []flowtype.Key) error {
	f.requested = append(f.requested, keys...)
	return nil
}

func (f *fakeReplayCoordinator) NotifyEvicted(node graph.NodeID, keys []flowtype.Key) error {
	return nil
}

// TestLookupMissDispatchesReplayRequest covers spec §4.6/§8 invariant
// 3: a reader-lookup miss against a local, still-uncovered key must
// kick off an upquery rather than leaving the caller to poll forever.
func TestLookupMissDispatchesReplayRequest(t *testing.T) {
	g := graph.NewGraph()
	reader := g.AddNode("reader", graph.OperatorKind{Kind: graph.KindReader, Reader: &graph.ReaderConfig{KeyColumns: []int{0}}}, nil, graph.Unsharded)
	reader.Domain = 1
	reader.Partial = true

	placement := graph.NewPlacement()
	placement.Assign(1, []graph.NodeID{reader.ID}, 1, "worker-a")

	d := domain.New(domain.Config{ID: 1, Graph: g})
	d.InstallNode(reader)

	r := New(Config{WorkerID: "worker-a", Graph: g, Placement: placement})
	r.AddLocalDomain(1, d)

	fake := &fakeReplayCoordinator{}
	r.SetReplay(fake)

	key := flowtype.Key{flowtype.NewInt64(1)}
	resp, err := r.Lookup(&clusterrpc.LookupRequest{Node: reader.ID, Key: key})
	require.NoError(t, err)
	assert.True(t, resp.Missed)
	require.Len(t, fake.requested, 1)
	assert.Equal(t, key, fake.requested[0])
}
