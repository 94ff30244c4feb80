// Package framework is an in-process FlowBase cluster harness for
// test/integration: it wires a real graph, router, controller, and
// lazily-started domains together behind a thin handle, the way
// _examples/cuemby-warren/test/framework stands up a real (if
// VM-backed) cluster for its own e2e suite — generalized here to a
// single-process, single-worker topology since nothing in this
// module's testable properties (spec §8) requires multiple processes.
package framework

import (
	"fmt"
	"testing"

	"github.com/flowbase/flowbase/pkg/controller"
	"github.com/flowbase/flowbase/pkg/coordination"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/router"
	"github.com/flowbase/flowbase/pkg/workerrt"
	"github.com/rs/zerolog"
)

const workerID = "worker-1"

// Cluster is one in-process FlowBase node: graph, placement,
// coordination, router, lazily-started domains, and the controller
// sitting on top of all of it. Tests drive it through ApplyDDL,
// Table, View, and Evict.
type Cluster struct {
	Graph     *graph.Graph
	Placement *graph.Placement
	Ctrl      *controller.Controller

	authority *singleNodeAuthority
	router    *router.Router
	worker    *workerrt.LocalWorker
}

// NewCluster builds and starts a single-node cluster, registering its
// teardown with t.Cleanup.
func NewCluster(t *testing.T) *Cluster {
	t.Helper()

	g := graph.NewGraph()
	placement := graph.NewPlacement()
	authority := newSingleNodeAuthority()
	if err := authority.Init(); err != nil {
		t.Fatalf("init authority: %v", err)
	}
	if _, err := authority.RegisterWorker(coordination.WorkerDescriptor{ID: workerID, Address: "local", Healthy: true}); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if _, _, err := authority.BecomeLeader([]byte(workerID)); err != nil {
		t.Fatalf("become leader: %v", err)
	}

	rtr := router.New(router.Config{WorkerID: workerID, Graph: g, Placement: placement})
	worker := workerrt.New(rtr, g, workerID, zerolog.Logger{})

	store, err := controller.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open controller store: %v", err)
	}

	ctrl := controller.New(controller.Config{
		WorkerID:  workerID,
		Graph:     g,
		Placement: placement,
		Authority: authority,
		Router:    worker,
		Store:     store,
	})

	c := &Cluster{
		Graph:     g,
		Placement: placement,
		Ctrl:      ctrl,
		authority: authority,
		router:    rtr,
		worker:    worker,
	}
	t.Cleanup(func() {
		ctrl.Close()
		worker.StopAll()
		store.Close()
	})
	return c
}

// ApplyDDL compiles and installs one recipe statement.
func (c *Cluster) ApplyDDL(ddl string) error {
	return c.Ctrl.ExtendRecipe(ddl, nil)
}

// Table returns a handle to write rows into a base table.
func (c *Cluster) Table(name string) (*controller.TableHandle, error) {
	return c.Ctrl.Table(name)
}

// View returns a handle to read from a materialized view.
func (c *Cluster) View(name string) (*controller.ViewHandle, error) {
	return c.Ctrl.View(name)
}

// Evict drops the given keys from the named operator's state, for
// tests exercising spec §8's eviction/refill invariant. name must
// refer to a node that carries materialized state (an Aggregate,
// Join, or Reader).
func (c *Cluster) Evict(name string, keys []flowtype.Key) error {
	node, ok := c.Graph.NodeByName(name)
	if !ok {
		return fmt.Errorf("framework: no node named %q", name)
	}
	return c.worker.Forward(domain.NewEviction(node.ID, keys))
}
