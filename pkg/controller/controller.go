package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/coordination"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/metrics"
	"github.com/flowbase/flowbase/pkg/recipe"
	"github.com/rs/zerolog"
)

// Dispatcher is everything the controller needs from the transport
// layer: forwarding control/write packets to a node's owning domain,
// and reading from a Reader node that domain materializes. *router.
// Router implements this directly.
type Dispatcher interface {
	domain.Router
	Lookup(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error)
}

// Config parameterizes Controller with this module's Config-struct
// constructor idiom.
type Config struct {
	WorkerID  string // this node's identity, used as the leader-election payload
	Graph     *graph.Graph
	Placement *graph.Placement
	Authority coordination.Authority
	Router    Dispatcher
	Store     *Store
	Logger    zerolog.Logger
}

// command is one graph-mutating operation serialized through the
// controller's run loop (spec §9's "all mutation goes through a
// command channel").
type command struct {
	run  func() error
	done chan error
}

// Controller is FlowBase's control plane. Reads/writes against
// installed tables and views (TableHandle/ViewHandle) talk to domains
// directly through Router and never touch commandCh; only
// ExtendRecipe and future graph-mutating operations do.
type Controller struct {
	cfg Config
	log zerolog.Logger

	commandCh chan command
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu          sync.RWMutex
	state       MigrationState
	nextDomain  graph.DomainID
	nextWorker  int
	recipeSeq   uint64
	acceptWrite bool
}

// New builds a Controller and starts its run loop. Call Close to stop
// it.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("controller")
	}
	c := &Controller{
		cfg:         cfg,
		log:         logger,
		commandCh:   make(chan command),
		stopCh:      make(chan struct{}),
		state:       Active,
		acceptWrite: true,
	}
	// nextDomain resumes above every domain already placed, so a
	// restarted controller replaying its persisted recipe doesn't
	// collide with domain IDs a prior incarnation already assigned.
	for id := range cfg.Placement.Domains {
		if id >= c.nextDomain {
			c.nextDomain = id + 1
		}
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Close stops the run loop, waiting for any in-flight command to
// finish.
func (c *Controller) Close() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case cmd := <-c.commandCh:
			cmd.done <- cmd.run()
		case <-c.stopCh:
			return
		}
	}
}

// submit enqueues fn to run serially on the controller's single
// command-processing goroutine and blocks until it completes.
func (c *Controller) submit(fn func() error) error {
	done := make(chan error, 1)
	select {
	case c.commandCh <- command{run: fn, done: done}:
	case <-c.stopCh:
		return fmt.Errorf("controller: closed")
	}
	select {
	case err := <-done:
		return err
	case <-c.stopCh:
		return fmt.Errorf("controller: closed")
	}
}

// isLeader reports whether this node currently holds controller
// leadership, defined (per pkg/coordination's design note) as holding
// the raft leader key with this node's own WorkerID as the payload.
func (c *Controller) isLeader() (bool, error) {
	_, payload, err := c.cfg.Authority.TryGetLeader()
	if err != nil {
		return false, err
	}
	return string(payload) == c.cfg.WorkerID, nil
}

// State reports the current migration state machine position.
func (c *Controller) State() MigrationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s MigrationState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// AcceptingWrites reports whether TableHandle writes should currently
// be accepted: false only while a migration is Installing (spec §4.7
// "base-table writes paused only during Installing").
func (c *Controller) AcceptingWrites() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acceptWrite
}

// ExtendRecipe compiles and installs ddl (spec §6's extend_recipe),
// driving the Quiescing → Planning → Installing → Backfilling → Active
// state machine. offset, when non-nil, is persisted as ddl's
// replication-offset fence so a crash-and-replay of the recipe history
// can detect this statement already landed and skip re-applying its
// side effects a second time.
func (c *Controller) ExtendRecipe(ddl string, offset *flowtype.ReplicationOffset) error {
	if ok, err := c.isLeader(); err != nil {
		return err
	} else if !ok {
		return flowerr.ErrNotLeader
	}
	if offset != nil {
		applied, err := c.cfg.Store.Offset(ddl)
		if err != nil {
			return err
		}
		if !applied.IsZero() && !applied.Less(*offset) {
			return nil
		}
	}

	start := time.Now()
	var finalState MigrationState
	err := c.submit(func() error {
		return c.extendRecipeLocked(ddl, offset, &finalState)
	})
	metrics.MigrationDuration.WithLabelValues(finalState.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MigrationsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.MigrationsTotal.WithLabelValues("installed").Inc()
	return nil
}

// extendRecipeLocked drives Quiescing through Active. A failure at any
// point restores the state machine to Active rather than leaving it
// stuck mid-transition: an aborted migration has no partially-visible
// effect a caller needs reflected in the state, since nothing partial
// was published to the graph.
func (c *Controller) extendRecipeLocked(ddl string, offset *flowtype.ReplicationOffset, finalState *MigrationState) (err error) {
	defer func() {
		if err != nil {
			c.setState(Active)
		}
	}()

	c.setState(Quiescing)
	*finalState = Quiescing

	c.setState(Planning)
	mig, err := recipe.Compile(ddl, c.cfg.Graph)
	if err != nil {
		return fmt.Errorf("controller: compile recipe: %w", err)
	}
	plan, err := c.planPlacement(mig)
	if err != nil {
		return fmt.Errorf("controller: plan placement: %w", err)
	}

	c.setState(Installing)
	c.mu.Lock()
	c.acceptWrite = false
	c.mu.Unlock()
	installed, err := c.installMigration(mig, plan)
	c.mu.Lock()
	c.acceptWrite = true
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("controller: install migration: %w", err)
	}

	c.setState(Backfilling)
	if err := c.registerReplayPaths(installed); err != nil {
		return fmt.Errorf("controller: register replay paths: %w", err)
	}

	if offset != nil {
		if err := c.cfg.Store.SetOffset(ddl, *offset); err != nil {
			return fmt.Errorf("controller: persist offset: %w", err)
		}
	}
	c.recipeSeq++
	if err := c.cfg.Store.AppendStatement(c.recipeSeq, ddl); err != nil {
		return fmt.Errorf("controller: persist recipe statement: %w", err)
	}

	c.setState(Active)
	*finalState = Active
	c.log.Info().Str("ddl", ddl).Int("nodes", len(mig.Nodes)).Msg("migration installed")
	return nil
}

// placementPlan assigns each PendingNode a DomainID and a worker.
type placementPlan struct {
	domainOf map[string]graph.DomainID
	workerOf map[graph.DomainID]string
}

// planPlacement gives every node in mig its own single-node domain,
// assigned round-robin across currently registered workers — the
// simplest placement policy that still exercises cross-worker
// forwarding (spec §3's domains, each independently placeable). A
// future placer could co-locate a migration's whole chain on one
// domain; nothing here depends on one node per domain.
func (c *Controller) planPlacement(mig *graph.Migration) (*placementPlan, error) {
	workers, err := c.cfg.Authority.GetWorkers()
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers registered to place new nodes on")
	}

	plan := &placementPlan{domainOf: make(map[string]graph.DomainID), workerOf: make(map[graph.DomainID]string)}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pn := range mig.Nodes {
		d := c.nextDomain
		c.nextDomain++
		w := workers[c.nextWorker%len(workers)]
		c.nextWorker++
		plan.domainOf[pn.Name] = d
		plan.workerOf[d] = string(w.ID)
	}
	return plan, nil
}

// installedNode is one node this migration just created, for
// registerReplayPaths to consume.
type installedNode struct {
	id   graph.NodeID
	node *graph.Node
}

// installMigration realizes mig against the live graph: creates each
// PendingNode (setting Domain/Materialized/Partial), wires its edges
// (resolving SourceRef and cross-migration PendingEdge references by
// name), records the new domains in Placement, and sends a
// ControlInstallNode packet to each node's owning domain so
// NewNodeRuntime declares its opstate/readstate indices there (spec
// §9: the controller only mutates the graph and notifies domains, the
// domain itself derives its own runtime state from Node.Operator.Kind).
func (c *Controller) installMigration(mig *graph.Migration, plan *placementPlan) ([]installedNode, error) {
	created := make(map[string]graph.NodeID, len(mig.Nodes))
	var installed []installedNode

	for _, pn := range mig.Nodes {
		n := c.cfg.Graph.AddNode(pn.Name, pn.Operator, pn.Schema, pn.Sharding)
		n.Materialized = pn.Materialized
		n.Partial = pn.Partial
		n.Domain = plan.domainOf[pn.Name]
		created[pn.Name] = n.ID
		installed = append(installed, installedNode{id: n.ID, node: n})

		worker := plan.workerOf[n.Domain]
		c.cfg.Placement.Assign(n.Domain, []graph.NodeID{n.ID}, 1, worker)
	}

	for _, pe := range mig.Edges {
		from, err := c.resolveEdgeEndpoint(pe.From, created)
		if err != nil {
			return nil, err
		}
		to, err := c.resolveEdgeEndpoint(pe.To, created)
		if err != nil {
			return nil, err
		}
		if err := c.cfg.Graph.AddEdge(from, to, pe.Materialized); err != nil {
			return nil, err
		}
	}

	if err := c.cfg.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("graph invalid after migration: %w", err)
	}

	for _, in := range installed {
		pkt := domain.Packet{Kind: domain.Control, Op: domain.ControlInstallNode, Dest: in.id}
		if err := c.cfg.Router.Forward(pkt); err != nil {
			return nil, fmt.Errorf("install node %q: %w", in.node.Name, err)
		}
	}
	return installed, nil
}

func (c *Controller) resolveEdgeEndpoint(name string, created map[string]graph.NodeID) (graph.NodeID, error) {
	if name == graph.SourceRef {
		return c.cfg.Graph.SourceID, nil
	}
	if id, ok := created[name]; ok {
		return id, nil
	}
	if n, ok := c.cfg.Graph.NodeByName(name); ok {
		return n.ID, nil
	}
	return 0, fmt.Errorf("migration references unknown node %q", name)
}

// registerReplayPaths records, for every newly installed partial
// Reader, the path of ancestor node IDs a miss against it should
// upquery along (spec §4.6): the straight-line ancestor chain back to
// the nearest branch point or base table, ordered from that ancestor
// down to the reader, with the graph's source node left out. Full (non-partial)
// readers need no replay path — spec §4.7's Backfilling phase is
// exactly the span during which a partial reader's keys fill lazily
// on first miss, driven by pkg/replay via this registered path.
func (c *Controller) registerReplayPaths(installed []installedNode) error {
	for _, in := range installed {
		if in.node.Operator.Kind != graph.KindReader || !in.node.Partial {
			continue
		}
		chain := c.ancestorChain(in.id)
		if n := len(chain); n > 1 && chain[n-1] == c.cfg.Graph.SourceID {
			chain = chain[:n-1]
		}
		path := make([]graph.NodeID, len(chain))
		for i, id := range chain {
			path[len(chain)-1-i] = id
		}
		c.cfg.Graph.RegisterReplayPath(path)
	}
	return nil
}

// ancestorChain walks straight-line ancestors from id back to the
// nearest branch point or the graph's source, matching this
// compiler's current one-parent-per-operator shape (Join is the only
// multi-ancestor kind pkg/recipe emits, and Join nodes are always
// fully materialized or sit upstream of the reader rather than being
// readers themselves).
func (c *Controller) ancestorChain(id graph.NodeID) []graph.NodeID {
	chain := []graph.NodeID{id}
	cur := id
	for {
		ancestors := c.cfg.Graph.Ancestors(cur)
		if len(ancestors) != 1 {
			break
		}
		cur = ancestors[0]
		chain = append(chain, cur)
		if cur == c.cfg.Graph.SourceID {
			break
		}
	}
	return chain
}

func isZeroLogger(logger zerolog.Logger) bool {
	return logger.GetLevel() == zerolog.Disabled && !logger.Debug().Enabled()
}
