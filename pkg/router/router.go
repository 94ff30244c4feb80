package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/readstate"
	"github.com/rs/zerolog"
)

// ReadTransport is a remote worker connection capable of both
// forwarding write packets and serving reads against a Reader node it
// hosts locally — the two RPCs a cross-worker ViewHandle/TableHandle
// needs (spec §6's Write/Read APIs). *clusterrpc.Client implements
// both.
type ReadTransport interface {
	domain.Router
	Lookup(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error)
}

// RemoteDialer opens a transport to another worker's cluster-RPC
// listener. Production wiring passes clusterrpc.Dial; tests pass a
// fake that records calls without opening a socket.
type RemoteDialer func(workerAddr string) (ReadTransport, error)

// Config parameterizes Router with this module's usual Config-struct
// constructor idiom.
type Config struct {
	WorkerID  string
	Graph     *graph.Graph
	Placement *graph.Placement
	Dial      RemoteDialer
	Logger    zerolog.Logger
}

// Router implements domain.Router by resolving a packet's destination
// node to its owning domain, then to either a local Domain.Submit or a
// cached remote clusterrpc connection.
type Router struct {
	workerID  string
	graph     *graph.Graph
	placement *graph.Placement
	dial      RemoteDialer
	log       zerolog.Logger

	mu      sync.RWMutex
	local   map[graph.DomainID]*domain.Domain
	remotes map[string]ReadTransport // workerID -> open transport
	replay  domain.ReplayCoordinator
}

// New builds a Router. Local domains are attached afterward via
// AddLocalDomain as this worker starts them.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("router")
	}
	dial := cfg.Dial
	if dial == nil {
		dial = defaultDial
	}
	return &Router{
		workerID:  cfg.WorkerID,
		graph:     cfg.Graph,
		placement: cfg.Placement,
		dial:      dial,
		log:       logger,
		local:     make(map[graph.DomainID]*domain.Domain),
		remotes:   make(map[string]ReadTransport),
	}
}

func defaultDial(addr string) (ReadTransport, error) {
	return clusterrpc.Dial(clusterrpc.ClientConfig{Addr: addr})
}

// AddLocalDomain registers d as one this worker executes directly, so
// packets addressed into it skip the network entirely.
func (r *Router) AddLocalDomain(id graph.DomainID, d *domain.Domain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[id] = d
}

// RemoveLocalDomain undoes AddLocalDomain, e.g. after a migration moves
// a domain off this worker.
func (r *Router) RemoveLocalDomain(id graph.DomainID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.local, id)
}

// SetReplay wires the ReplayCoordinator a reader-lookup miss dispatches
// its upquery through. A Router and its Coordinator can't be built in
// one step — the Coordinator's own forwarding transport is this same
// Router — so this is set once, right after both exist, the same way
// AddLocalDomain attaches a domain after the fact.
func (r *Router) SetReplay(rc domain.ReplayCoordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replay = rc
}

// Forward implements domain.Router.
func (r *Router) Forward(p domain.Packet) error {
	node, ok := r.graph.Node(p.Dest)
	if !ok {
		return fmt.Errorf("router: packet addressed to unknown node %d", p.Dest)
	}

	r.mu.RLock()
	d, isLocal := r.local[node.Domain]
	r.mu.RUnlock()
	if isLocal {
		d.Submit(p)
		return nil
	}

	workerID, ok := r.placement.WorkerFor(node.Domain)
	if !ok {
		return fmt.Errorf("router: domain %d has no placement", node.Domain)
	}
	if workerID == r.workerID {
		return fmt.Errorf("router: domain %d is placed on this worker (%s) but has no local Domain registered", node.Domain, r.workerID)
	}

	transport, err := r.remoteTransport(workerID)
	if err != nil {
		return fmt.Errorf("router: dial worker %s: %w", workerID, err)
	}
	if err := transport.Forward(p); err != nil {
		r.log.Warn().Err(err).Str("worker", workerID).Uint64("dest", uint64(p.Dest)).Msg("forward to remote worker failed")
		r.invalidateRemote(workerID)
		return err
	}
	return nil
}

// Lookup resolves req.Node's owning domain and serves the read from
// the local readstate.Store if this worker hosts it, or forwards the
// RPC to whichever remote worker does.
func (r *Router) Lookup(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
	node, ok := r.graph.Node(req.Node)
	if !ok {
		return nil, fmt.Errorf("router: lookup addressed to unknown node %d", req.Node)
	}

	r.mu.RLock()
	d, isLocal := r.local[node.Domain]
	r.mu.RUnlock()
	if isLocal {
		rt, ok := d.Runtime(req.Node)
		if !ok || rt.Reader == nil {
			return nil, fmt.Errorf("router: node %d has no local reader", req.Node)
		}
		resp := lookupLocal(rt.Reader, req)
		r.triggerReplayOnMiss(req, resp)
		return resp, nil
	}

	workerID, ok := r.placement.WorkerFor(node.Domain)
	if !ok {
		return nil, fmt.Errorf("router: domain %d has no placement", node.Domain)
	}
	if workerID == r.workerID {
		return nil, fmt.Errorf("router: domain %d is placed on this worker (%s) but has no local Domain registered", node.Domain, r.workerID)
	}
	transport, err := r.remoteTransport(workerID)
	if err != nil {
		return nil, fmt.Errorf("router: dial worker %s: %w", workerID, err)
	}
	resp, err := transport.Lookup(req)
	if err != nil {
		r.invalidateRemote(workerID)
		return nil, err
	}
	return resp, nil
}

// triggerReplayOnMiss dispatches the upquery a reader miss needs (spec
// §4.6, §8 invariant 3): without this, a partial reader's coverage gap
// is never filled and blocking lookups would poll until their context
// times out. The Coordinator's own claim/dedup logic (pkg/replay)
// provides the at-most-one-replay-per-fingerprint guarantee, so this
// is safe to call on every miss — repeated calls for an in-flight key
// are no-ops.
//
// Range misses aren't retried here: a replay path is keyed by point
// key, and a reader has no way to enumerate the individual keys inside
// an uncovered sub-range, so range-partial backfill isn't supported by
// this replay model.
func (r *Router) triggerReplayOnMiss(req *clusterrpc.LookupRequest, resp *clusterrpc.LookupResponse) {
	if !resp.Missed || req.Range || r.replay == nil {
		return
	}
	if err := r.replay.RequestReplay(req.Node, []flowtype.Key{resp.NeedsReplayKey}); err != nil {
		r.log.Warn().Err(err).Uint64("node", uint64(req.Node)).Msg("replay request on lookup miss failed")
	}
}

func lookupLocal(store *readstate.Store, req *clusterrpc.LookupRequest) *clusterrpc.LookupResponse {
	offset, _ := store.Offset()
	if !req.Range {
		rows, err := store.Get(readstate.Row(req.Key))
		if err != nil {
			return &clusterrpc.LookupResponse{Missed: true, NeedsReplayKey: req.Key, Offset: offset}
		}
		return &clusterrpc.LookupResponse{Rows: rows, Offset: offset}
	}

	rows, err := store.Range(readstate.Row(req.Lo), readstate.Row(req.Hi))
	if err != nil {
		var uncovered *flowerr.UncoveredRange
		if errors.As(err, &uncovered) {
			missing := make([]clusterrpc.LookupInterval, len(uncovered.Missing))
			for i, iv := range uncovered.Missing {
				missing[i] = clusterrpc.LookupInterval{Low: iv.Low, High: iv.High}
			}
			return &clusterrpc.LookupResponse{Missed: true, MissingRanges: missing, Offset: offset}
		}
		return &clusterrpc.LookupResponse{Missed: true, Offset: offset}
	}
	return &clusterrpc.LookupResponse{Rows: rows, Offset: offset}
}

func (r *Router) remoteTransport(workerID string) (ReadTransport, error) {
	r.mu.RLock()
	t, ok := r.remotes[workerID]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.remotes[workerID]; ok {
		return t, nil
	}
	t, err := r.dial(workerID)
	if err != nil {
		return nil, err
	}
	r.remotes[workerID] = t
	return t, nil
}

// invalidateRemote drops a cached transport after a failed call so the
// next Forward re-dials, rather than wedging every future packet to a
// worker that has restarted on a new connection.
func (r *Router) invalidateRemote(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, workerID)
}
