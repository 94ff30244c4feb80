package graph

import (
	"fmt"
	"sync"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
)

// Graph is the directed, mostly acyclic operator graph with a single
// synthetic source (spec §3). It is owned by the controller; all
// mutation during a migration goes through AddNode/AddEdge/MarkDropped
// rather than direct field writes, so Validate can be called after
// every migration step.
type Graph struct {
	mu sync.RWMutex

	nodes map[NodeID]*Node
	edges []Edge

	// out/in are adjacency indices kept in sync with edges, so
	// Ancestors/Descendants don't rescan the full edge list.
	out map[NodeID][]NodeID
	in  map[NodeID][]NodeID

	nextNodeID NodeID
	SourceID   NodeID

	replayPaths map[Tag][]NodeID
	nextTag     Tag
}

// NewGraph creates an empty graph containing only the synthetic
// source node.
func NewGraph() *Graph {
	g := &Graph{
		nodes:       make(map[NodeID]*Node),
		out:         make(map[NodeID][]NodeID),
		in:          make(map[NodeID][]NodeID),
		replayPaths: make(map[Tag][]NodeID),
	}
	source := &Node{ID: g.allocID(), Name: "source", Operator: OperatorKind{Kind: KindIdentity}}
	g.nodes[source.ID] = source
	g.SourceID = source.ID
	return g
}

func (g *Graph) allocID() NodeID {
	g.nextNodeID++
	return g.nextNodeID
}

// AddNode creates a new node with no edges. Callers wire it with
// AddEdge; base nodes must subsequently be connected to SourceID.
func (g *Graph) AddNode(name string, op OperatorKind, schema *flowtype.ColumnSet, sharding ShardingDescriptor) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := &Node{
		ID:       g.allocID(),
		Name:     name,
		Schema:   schema,
		Operator: op,
		Sharding: sharding,
		Domain:   DomainUnassigned,
	}
	g.nodes[n.ID] = n
	return n
}

// AddEdge wires from -> to. Edges are not deduplicated; the same pair
// may legitimately appear more than once is not expected but is not
// rejected here, since Validate is the single source of truth for
// structural correctness.
func (g *Graph) AddEdge(from, to NodeID, materialized bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("graph: unknown source node %d", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("graph: unknown destination node %d", to)
	}
	g.edges = append(g.edges, Edge{From: from, To: to, Materialized: materialized})
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
	return nil
}

// Node returns the node by id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// NodeByName returns the live (non-dropped) node with the given name.
// The recipe compiler uses this to resolve a migration's FROM/JOIN
// table and view references against the graph as it stood before the
// migration being compiled.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.Name == name && !n.Dropped {
			return n, true
		}
	}
	return nil, false
}

// Ancestors returns the direct upstream neighbors of id.
func (g *Graph) Ancestors(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]NodeID(nil), g.in[id]...)
}

// Descendants returns the direct downstream neighbors of id.
func (g *Graph) Descendants(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]NodeID(nil), g.out[id]...)
}

// MarkDropped retires a node without removing it, so NodeIDs remain
// stable for anything still referencing them (spec §3 Lifecycle).
func (g *Graph) MarkDropped(id NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("graph: unknown node %d", id)
	}
	n.Dropped = true
	return nil
}

// RegisterReplayPath allocates a fresh Tag for a precomputed sequence
// of nodes from a materialized source down to the node that needs
// fill, and stores it in the side table. Nodes themselves only ever
// carry Tags, never pointers into this table, keeping the
// reader-to-source back-reference acyclic (spec §9).
func (g *Graph) RegisterReplayPath(path []NodeID) Tag {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextTag++
	tag := g.nextTag
	g.replayPaths[tag] = append([]NodeID(nil), path...)
	return tag
}

// ReplayPath looks up a previously registered path by Tag.
func (g *Graph) ReplayPath(tag Tag) ([]NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.replayPaths[tag]
	return p, ok
}

// ReplayPathsFrom returns every Tag whose path is rooted at source,
// used by eviction propagation (spec §4.6 "Eviction coupling") to find
// every downstream reader that must be told a key became uncovered.
func (g *Graph) ReplayPathsFrom(source NodeID) []Tag {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var tags []Tag
	for tag, path := range g.replayPaths {
		if len(path) > 0 && path[0] == source {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ReplayPathsTo returns every Tag whose path terminates at dest, and
// dest's position within each such path. pkg/replay uses this to turn
// a miss reported at dest into the registered path(s) it must walk
// backward along to find a materialized source.
func (g *Graph) ReplayPathsTo(dest NodeID) map[Tag]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Tag]int)
	for tag, path := range g.replayPaths {
		for i, n := range path {
			if n == dest {
				out[tag] = i
				break
			}
		}
	}
	return out
}

// Validate checks the structural invariants from spec §3:
//   - every non-source node has at least one ancestor
//   - every base node's sole ancestor is the source
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, n := range g.nodes {
		if n.Dropped {
			continue
		}
		if id == g.SourceID {
			continue
		}
		ancestors := g.in[id]
		if len(ancestors) == 0 {
			return &flowerr.InvariantViolated{Detail: fmt.Sprintf("node %d (%s) has no ancestor", id, n.Name)}
		}
		if n.Operator.Kind == KindBase {
			if len(ancestors) != 1 || ancestors[0] != g.SourceID {
				return &flowerr.InvariantViolated{Detail: fmt.Sprintf("base node %d (%s) must have the source as its sole ancestor", id, n.Name)}
			}
		}
	}
	return nil
}
