// Package workerrt turns a worker process's placement assignment into
// running domains: the glue between pkg/controller (which only knows
// it forwards a packet to a DomainID) and pkg/domain (which only knows
// how to run one, once told to). Both cmd/flowbase and test/framework
// wire a LocalWorker the same way.
package workerrt

import (
	"fmt"
	"sync"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/replay"
	"github.com/flowbase/flowbase/pkg/router"
	"github.com/rs/zerolog"
)

// LocalWorker wraps a *router.Router and lazily instantiates a
// domain.Domain the first time a packet addresses a domain this
// worker's placement owns but hasn't instantiated yet. The controller
// allocates DomainIDs and installs nodes into them in the same call
// (spec §3's Planning and Installing happen back to back), so no
// earlier hook exists for a worker process to pre-create domains.
type LocalWorker struct {
	router   *router.Router
	graph    *graph.Graph
	workerID string
	log      zerolog.Logger
	replay   *replay.Coordinator

	mu      sync.Mutex
	domains map[graph.DomainID]*domain.Domain
}

// New builds a LocalWorker over rtr. If logger is the zero value, a
// component logger is created. A single replay.Coordinator is shared
// across every domain this worker starts — and wired into rtr itself
// via SetReplay — so a reader-lookup miss and a kernel-reported miss
// both dedupe against the same in-flight claim set.
func New(rtr *router.Router, g *graph.Graph, workerID string, logger zerolog.Logger) *LocalWorker {
	if isZeroLogger(logger) {
		logger = log.WithComponent("workerrt")
	}
	coord := replay.New(replay.Config{
		Graph:  g,
		Router: rtr,
		Logger: logger,
	})
	rtr.SetReplay(coord)
	return &LocalWorker{
		router:   rtr,
		graph:    g,
		workerID: workerID,
		log:      logger,
		replay:   coord,
		domains:  make(map[graph.DomainID]*domain.Domain),
	}
}

// Forward implements controller.Dispatcher (via domain.Router).
func (w *LocalWorker) Forward(p domain.Packet) error {
	node, ok := w.graph.Node(p.Dest)
	if !ok {
		return fmt.Errorf("workerrt: packet addressed to unknown node %d", p.Dest)
	}
	if err := w.ensureLocalDomain(node.Domain); err != nil {
		return err
	}
	return w.router.Forward(p)
}

// Lookup implements controller.Dispatcher.
func (w *LocalWorker) Lookup(req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
	return w.router.Lookup(req)
}

// Router exposes the underlying *router.Router, e.g. for wiring into
// a clusterrpc transport server.
func (w *LocalWorker) Router() *router.Router { return w.router }

// ensureLocalDomain creates and starts a Domain for id the first time
// it's addressed. This worker is presumed to own any domain it's asked
// to forward a packet into and hasn't seen before — true for every
// single-node deployment and every test/framework harness node, since
// the controller only ever routes a freshly-placed domain's install
// packets to the worker that placement actually assigned it to.
func (w *LocalWorker) ensureLocalDomain(id graph.DomainID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.domains[id]; ok {
		return nil
	}

	d := domain.New(domain.Config{
		ID:     id,
		Graph:  w.graph,
		Router: w.router,
		Replay: w.replay,
		Logger: w.log,
	})
	go d.Run()
	w.router.AddLocalDomain(id, d)
	w.domains[id] = d
	w.log.Info().Uint32("domain", uint32(id)).Msg("started local domain")
	return nil
}

// StopAll stops every domain this worker started, for graceful
// shutdown or test teardown.
func (w *LocalWorker) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, d := range w.domains {
		d.Stop()
		w.router.RemoveLocalDomain(id)
		delete(w.domains, id)
	}
}

func isZeroLogger(logger zerolog.Logger) bool {
	return logger.GetLevel() == zerolog.Disabled && !logger.Debug().Enabled()
}
