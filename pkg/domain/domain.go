package domain

import (
	"fmt"
	"reflect"
	"time"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/kernel"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/metrics"
	"github.com/flowbase/flowbase/pkg/opstate"
	"github.com/flowbase/flowbase/pkg/readstate"
	"github.com/rs/zerolog"
)

// Router delivers a packet to a node this domain does not itself own —
// a neighbor in another domain, possibly on another worker (spec
// §4.5). A Domain never addresses a transport or another domain's
// internals directly; pkg/router supplies the concrete implementation,
// which hands the packet straight to the owning domain, locally or
// over the cluster transport.
type Router interface {
	Forward(p Packet) error
}

// ReplayCoordinator is asked to start or attach to a replay when a
// kernel reports a miss against a partial index, and to be told when
// an eviction uncovers keys a downstream reader had previously been
// filled for (spec §4.6). pkg/replay supplies the concrete
// implementation.
type ReplayCoordinator interface {
	RequestReplay(origin graph.NodeID, keys []flowtype.Key) error
	NotifyEvicted(node graph.NodeID, keys []flowtype.Key) error
}

// Config parameterizes a Domain, mirroring the Config-struct
// constructor idiom used throughout this codebase's worker/manager
// packages.
type Config struct {
	ID       graph.DomainID
	Graph    *graph.Graph
	Router   Router
	Replay   ReplayCoordinator
	Priority func(Packet) int // nil selects DefaultPriority
	Logger   zerolog.Logger
}

// Domain owns a subset of the operator graph's nodes and drives them
// with a single-threaded, run-to-completion loop over a priority
// queue of packets (spec §4.4, §5).
type Domain struct {
	id     graph.DomainID
	graph  *graph.Graph
	router Router
	replay ReplayCoordinator
	log    zerolog.Logger

	nodes map[graph.NodeID]*NodeRuntime

	inbox  chan Packet
	stopCh chan struct{}
	done   chan struct{}
	queue  *packetQueue
}

// New builds a Domain with no nodes installed yet; nodes arrive via
// Control(ControlInstallNode) packets, matching how the controller
// drives migrations incrementally (spec §3 Lifecycle).
func New(cfg Config) *Domain {
	logger := cfg.Logger
	if reflect.DeepEqual(logger, zerolog.Logger{}) {
		logger = log.WithComponent("domain")
	}
	return &Domain{
		id:     cfg.ID,
		graph:  cfg.Graph,
		router: cfg.Router,
		replay: cfg.Replay,
		log:    logger.With().Uint32("domain", uint32(cfg.ID)).Logger(),
		nodes:  make(map[graph.NodeID]*NodeRuntime),
		inbox:  make(chan Packet, 1024),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		queue:  newPacketQueue(cfg.Priority),
	}
}

// InstallNode adds a node's runtime to this domain directly, used by
// tests and by the Control(ControlInstallNode) handler alike.
func (d *Domain) InstallNode(n *graph.Node) {
	d.nodes[n.ID] = NewNodeRuntime(n)
}

// RemoveNode drops a node's runtime, used by Control(ControlRemoveNode).
func (d *Domain) RemoveNode(id graph.NodeID) {
	delete(d.nodes, id)
}

// Runtime exposes a node's runtime for tests and for pkg/replay to
// drive fills directly into opstate/readstate.
func (d *Domain) Runtime(id graph.NodeID) (*NodeRuntime, bool) {
	rt, ok := d.nodes[id]
	return rt, ok
}

// Submit hands a packet to the domain from another goroutine (another
// domain's forwarder, the router's inbound transport handler, or the
// replay engine). It never blocks the caller on internal processing —
// only on the inbox channel filling up, which signals genuine
// backpressure.
func (d *Domain) Submit(p Packet) {
	d.inbox <- p
}

// Run drains the inbox into the priority queue and processes packets
// to completion, one at a time, until Stop is called. It is meant to
// be the body of the one goroutine that owns this domain, following
// the for-select-stopCh run-loop idiom used for every long-running
// worker in this codebase.
func (d *Domain) Run() {
	defer close(d.done)
	for {
		select {
		case <-d.stopCh:
			d.drainQueue()
			return
		case p := <-d.inbox:
			d.queue.push(p)
			d.drainInboxNonBlocking()
			d.processQueue()
		}
	}
}

// Stop signals Run to return after finishing any packet already in
// flight, and blocks until it has.
func (d *Domain) Stop() {
	close(d.stopCh)
	<-d.done
}

func (d *Domain) drainInboxNonBlocking() {
	for {
		select {
		case p := <-d.inbox:
			d.queue.push(p)
		default:
			return
		}
	}
}

func (d *Domain) drainQueue() {
	for d.queue.len() > 0 {
		d.processQueue()
	}
}

func (d *Domain) processQueue() {
	for d.queue.len() > 0 {
		metrics.PacketQueueDepth.WithLabelValues(d.domainLabel()).Set(float64(d.queue.len()))
		p, ok := d.queue.pop()
		if !ok {
			return
		}
		start := time.Now()
		if err := d.handlePacket(p); err != nil {
			d.log.Error().Err(err).Str("kind", p.Kind.String()).Uint64("dest", uint64(p.Dest)).Msg("packet handling failed")
		}
		metrics.PacketsProcessedTotal.WithLabelValues(d.domainLabel(), p.Kind.String()).Inc()
		metrics.PacketProcessDuration.WithLabelValues(d.domainLabel(), p.Kind.String()).Observe(time.Since(start).Seconds())
	}
}

func (d *Domain) domainLabel() string { return fmt.Sprintf("%d", d.id) }

// handlePacket is the single dispatch point named by spec §4.4's
// "packet handling contract".
func (d *Domain) handlePacket(p Packet) error {
	switch p.Kind {
	case Regular:
		return d.handleRegular(p, false, 0)
	case Replay:
		return d.handleRegular(p, true, p.Tag)
	case ReplayRequest:
		return d.handleReplayRequest(p)
	case Control:
		return d.handleControl(p)
	case Eviction:
		return d.handleEviction(p)
	case Timestamp:
		return d.handleTimestamp(p)
	default:
		return fmt.Errorf("domain: unknown packet kind %d", p.Kind)
	}
}

func (d *Domain) handleRegular(p Packet, replayMode bool, tag graph.Tag) error {
	rt, ok := d.nodes[p.Dest]
	if !ok {
		return &flowerr.InvariantViolated{Detail: fmt.Sprintf("domain %d received packet for unowned node %d", d.id, p.Dest)}
	}

	var out flowtype.Delta
	var misses []flowtype.Key
	var err error

	if rt.Node.Operator.Kind == graph.KindReader {
		// A Reader has no kernel of its own: it materializes whatever
		// arrives verbatim into its read-state store (spec §4.1).
		out = p.Delta
	} else if rt.Node.Operator.Kind == graph.KindSharder {
		// A Sharder fans a single delta out across N descendant edges
		// by hash(column) mod N rather than broadcasting it to all of
		// them (spec §4.5), so it takes its own forwarding path instead
		// of falling through to the uniform d.forward below.
		return d.forwardSharded(rt, p, tag, replayMode)
	} else {
		in := d.kernelInput(rt, p, replayMode)
		out, misses, err = kernel.Run(rt.Node.Operator, in, p.Delta)
		if err != nil {
			return err
		}
		// Aggregate/TopK mutate their group index internally, and
		// Union's distinct index is managed inside kernel.Union itself;
		// a Join node still needs its own incoming rows recorded under
		// whichever side they arrived on so the *other* side can find
		// them, and a plain pass-through node needs its declared index
		// (if any) populated from the raw delta.
		switch rt.Node.Operator.Kind {
		case graph.KindAggregate, graph.KindTopK, graph.KindUnion:
		case graph.KindJoin:
			applyToJoinSideIndex(rt, p.Delta, in.FromLeft)
		default:
			applyToPrimaryIndex(rt, p.Delta)
		}
	}

	if len(misses) > 0 && d.replay != nil {
		if err := d.replay.RequestReplay(p.Dest, misses); err != nil {
			return err
		}
	}

	if rt.Reader != nil {
		publishToReader(rt.Reader, rt.Node.Operator, out)
	}

	if out.Empty() && !replayMode {
		// A live packet producing no rows (e.g. everything was filtered
		// out) has nothing for a descendant to do. A replay producing no
		// rows is itself meaningful — a downstream partial index still
		// needs to see this hop complete so it can mark the key filled
		// (spec §4.6); skipping it here would leave that key missing
		// forever, re-triggering the same upquery on every future miss.
		return nil
	}
	return d.forward(p.Dest, tag, out, replayMode)
}

// kernelInput resolves the per-kind Input the kernel needs, including
// OtherSideLookup for Join, which reads the join node's own per-side
// opstate indices (see joinOtherSideLookup).
func (d *Domain) kernelInput(rt *NodeRuntime, p Packet, replayMode bool) kernel.Input {
	in := kernel.Input{ReplayMode: replayMode}

	switch rt.Node.Operator.Kind {
	case graph.KindAggregate, graph.KindTopK:
		idx, _ := rt.State.Index(IndexGroup)
		in.GroupIndex = idx
	case graph.KindUnion:
		in.InputIndex = d.inputIndexOf(rt.Node, p.FromEdge)
		if idx, ok := rt.State.Index(IndexDistinct); ok {
			in.DistinctIdx = idx
		}
	case graph.KindJoin:
		ancestors := d.graph.Ancestors(rt.Node.ID)
		in.FromLeft = len(ancestors) == 0 || ancestors[0] == p.FromEdge
		if unmatched, ok := rt.State.Index(IndexUnmatched); ok {
			in.UnmatchedIdx = unmatched
		}
		in.OtherSide = joinOtherSideLookup(rt, in.FromLeft)
		in.OwnSide = joinOtherSideLookup(rt, !in.FromLeft)
	}
	return in
}

func (d *Domain) inputIndexOf(n *graph.Node, fromEdge graph.NodeID) int {
	for i, a := range d.graph.Ancestors(n.ID) {
		if a == fromEdge {
			return i
		}
	}
	return 0
}

// joinOtherSideLookup reads the opposite side's materialization. Both
// sides of a join are always indices declared on this same join node
// (spec §3: a Join node has two ancestors but is itself one domain
// member), so the lookup never needs to cross a domain or worker
// boundary — unlike a plain Aggregate/TopK group index, which is never
// looked up from outside its own node at all.
func joinOtherSideLookup(rt *NodeRuntime, fromLeft bool) kernel.OtherSideLookup {
	name := IndexJoinLeft
	if fromLeft {
		name = IndexJoinRight
	}
	return func(key opstate.Row) ([]opstate.Row, error) {
		idx, ok := rt.State.Index(name)
		if !ok {
			return nil, nil
		}
		return idx.Lookup(key)
	}
}

// applyToPrimaryIndex mutates stateless/pass-through node indices
// (Base, Filter, Project) directly from the delta, since those
// kernels are pure functions that don't themselves touch opstate the
// way Aggregate/TopK/Join do internally.
func applyToPrimaryIndex(rt *NodeRuntime, delta flowtype.Delta) {
	idx, ok := rt.State.Index(IndexPrimary)
	if !ok {
		idx, ok = rt.State.Index(IndexDistinct)
		if !ok {
			return
		}
	}
	for _, rec := range delta.Records {
		if rec.Sign == flowtype.Positive {
			idx.Insert(opstate.Row(rec.Values))
		} else {
			idx.Remove(opstate.Row(rec.Values))
		}
	}
}

// applyToJoinSideIndex records a Join node's raw incoming rows under
// whichever side's index the delta arrived on, which is what the
// OtherSideLookup callback on the *opposite* input reads from. The
// kernel itself never writes either side's index — it only ever reads
// the other side's copy.
func applyToJoinSideIndex(rt *NodeRuntime, delta flowtype.Delta, fromLeft bool) {
	name := IndexJoinRight
	if fromLeft {
		name = IndexJoinLeft
	}
	idx, ok := rt.State.Index(name)
	if !ok {
		return
	}
	for _, rec := range delta.Records {
		if rec.Sign == flowtype.Positive {
			idx.Insert(opstate.Row(rec.Values))
		} else {
			idx.Remove(opstate.Row(rec.Values))
		}
	}
}

// publishToReader materializes out into store and marks each key it
// touches covered (spec §4.1's coverage set). A row reaching a reader
// at all — whether it arrived on the live path or as the result of a
// completed replay — is by construction the dataflow's current,
// correct answer for that key, so there is nothing further to wait on:
// Store.Get/Range gate every read on coverage (readstate/store.go), so
// without this a reader's keys would never leave the uncovered state
// and every lookup would report NeedsReplay/Missed forever, even one
// that already has the row in hand.
func publishToReader(store *readstate.Store, op graph.OperatorKind, out flowtype.Delta) {
	if out.Empty() || op.Reader == nil {
		return
	}
	keyCols := op.Reader.KeyColumns
	for _, rec := range out.Records {
		key := readstate.Row(rec.Project(keyCols).Values)
		store.Put(key, rec.Sign == flowtype.Positive, readstate.Row(rec.Values))
		store.MarkFilled(key)
	}
	store.Publish()
}

// handleReplayRequest is reached when a ReplayRequest packet a
// coordinator sent one hop upstream arrives here (p.Dest is then that
// hop's node, on this domain); a node's own kernel miss goes to
// d.replay.RequestReplay instead and does not pass through here. If
// p.Dest is the materialized source of its replay path, this domain
// can answer it immediately, safely, from its own single-threaded
// state — no further hop needed. Otherwise the coordinator must keep
// walking backward, so this just re-enters RequestReplay.
func (d *Domain) handleReplayRequest(p Packet) error {
	if path, ok := d.graph.ReplayPath(p.Tag); ok && len(path) > 0 && path[0] == p.Dest {
		delta, err := d.readMaterialized(p.Dest, p.Keys)
		if err != nil {
			return err
		}
		// Forward even an empty delta: a key genuinely absent upstream
		// still needs this hop's "replay complete" signal to propagate,
		// so a downstream partial index can mark it filled instead of
		// missing on it forever.
		return d.forward(p.Dest, p.Tag, delta, true)
	}
	if d.replay == nil {
		return fmt.Errorf("domain: no replay coordinator configured")
	}
	return d.replay.RequestReplay(p.Dest, p.Keys)
}

// readMaterialized reads the current rows for keys directly out of
// id's own declared index. Only valid when id is known (by the
// caller) to be a replay path's materialized source, since a partial
// index would itself report flowerr.NeedsReplay for an unfilled key.
func (d *Domain) readMaterialized(id graph.NodeID, keys []flowtype.Key) (flowtype.Delta, error) {
	rt, ok := d.nodes[id]
	if !ok {
		return flowtype.Delta{}, &flowerr.InvariantViolated{Detail: fmt.Sprintf("domain %d asked to source a replay from unowned node %d", d.id, id)}
	}
	idx, ok := rt.State.Index(IndexPrimary)
	if !ok {
		idx, ok = rt.State.Index(IndexGroup)
	}
	if !ok {
		return flowtype.Delta{}, &flowerr.InvariantViolated{Detail: fmt.Sprintf("node %d has no materialized index to source a replay from", id)}
	}

	var records []flowtype.Record
	for _, k := range keys {
		rows, err := idx.Lookup(opstate.Row(k))
		if err != nil {
			continue // genuinely absent upstream; nothing to replay for this key
		}
		for _, row := range rows {
			records = append(records, flowtype.Record{Values: []flowtype.Value(row), Sign: flowtype.Positive})
		}
	}
	return flowtype.Delta{Records: records}, nil
}

func (d *Domain) handleControl(p Packet) error {
	switch p.Op {
	case ControlInstallNode:
		n, ok := d.graph.Node(p.Dest)
		if !ok {
			return fmt.Errorf("domain: control install references unknown node %d", p.Dest)
		}
		d.InstallNode(n)
	case ControlRemoveNode:
		d.RemoveNode(p.Dest)
	case ControlSetOffset:
		rt, ok := d.nodes[p.Dest]
		if ok && rt.Reader != nil {
			rt.Reader.SetOffset(p.Offset)
			rt.Reader.Publish()
		}
	case ControlAddIndex:
		// Reserved for future index additions driven by the recipe
		// compiler; no-op until a caller needs it.
	}
	return nil
}

func (d *Domain) handleEviction(p Packet) error {
	rt, ok := d.nodes[p.Dest]
	if !ok {
		return nil
	}
	for _, idx := range rt.State.Indices() {
		for _, k := range p.Keys {
			idx.Evict(opstate.Row(k))
		}
	}
	if rt.Reader != nil {
		for _, k := range p.Keys {
			rt.Reader.Evict(flowtype.Key(k))
		}
		rt.Reader.Publish()
	}
	metrics.EvictionsTotal.WithLabelValues(fmt.Sprintf("%d", p.Dest)).Add(float64(len(p.Keys)))
	if d.replay != nil {
		return d.replay.NotifyEvicted(p.Dest, p.Keys)
	}
	return nil
}

func (d *Domain) handleTimestamp(p Packet) error {
	rt, ok := d.nodes[p.Dest]
	if !ok {
		return nil
	}
	rt.Node.ReplicationOffset = p.Offset
	if rt.Reader != nil {
		rt.Reader.SetOffset(p.Offset)
		rt.Reader.Publish()
	}
	return nil
}

// forwardSharded implements a Sharder node's hash-repartition forward:
// each record goes to exactly one of the node's descendant edges,
// chosen by hash(record[Column]) mod NumShards, with descendant order
// (as returned by Graph.Descendants) taken as shard index order. This
// is the one place in the domain executor where a single input packet
// produces more than one distinct output delta.
func (d *Domain) forwardSharded(rt *NodeRuntime, p Packet, tag graph.Tag, replayMode bool) error {
	cfg := rt.Node.Operator.Shard
	descendants := d.graph.Descendants(rt.Node.ID)
	if cfg == nil || len(descendants) == 0 {
		return nil
	}
	numShards := cfg.NumShards
	if numShards <= 0 || numShards > len(descendants) {
		numShards = len(descendants)
	}

	byShard := make([][]flowtype.Record, numShards)
	for _, rec := range p.Delta.Records {
		shard := int(rec.Values[cfg.Column].Hash() % uint64(numShards))
		byShard[shard] = append(byShard[shard], rec)
	}

	kind := Regular
	if replayMode {
		kind = Replay
	}
	for shard, recs := range byShard {
		if len(recs) == 0 {
			continue
		}
		to := descendants[shard]
		pkt := Packet{Kind: kind, Dest: to, FromEdge: rt.Node.ID, Delta: flowtype.Delta{Records: recs}, Tag: tag}
		if _, local := d.nodes[to]; local {
			d.queue.push(pkt)
			continue
		}
		if d.router == nil {
			return fmt.Errorf("domain: sharder %d has a cross-domain descendant %d but no router is configured", rt.Node.ID, to)
		}
		if err := d.router.Forward(pkt); err != nil {
			return err
		}
	}
	return nil
}

// forward pushes out to every downstream node. A descendant owned by
// this domain is enqueued locally (preserving per-edge FIFO via the
// same priority queue); a descendant owned by another domain goes
// through the router, which crosses the process boundary when needed.
func (d *Domain) forward(from graph.NodeID, tag graph.Tag, out flowtype.Delta, replayMode bool) error {
	for _, to := range d.graph.Descendants(from) {
		kind := Regular
		if replayMode {
			kind = Replay
		}
		pkt := Packet{Kind: kind, Dest: to, FromEdge: from, Delta: out, Tag: tag}
		if _, local := d.nodes[to]; local {
			d.queue.push(pkt)
			continue
		}
		if d.router == nil {
			return fmt.Errorf("domain: node %d has a cross-domain descendant %d but no router is configured", from, to)
		}
		if err := d.router.Forward(pkt); err != nil {
			return err
		}
	}
	return nil
}
