package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseNodeMustDescendFromSource(t *testing.T) {
	g := NewGraph()
	base := g.AddNode("t", OperatorKind{Kind: KindBase, Base: &BaseConfig{}}, nil, Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))
	assert.NoError(t, g.Validate())
}

func TestNodeWithoutAncestorFailsValidate(t *testing.T) {
	g := NewGraph()
	g.AddNode("orphan", OperatorKind{Kind: KindIdentity}, nil, Unsharded)
	assert.Error(t, g.Validate())
}

func TestBaseNodeWithNonSourceAncestorFailsValidate(t *testing.T) {
	g := NewGraph()
	a := g.AddNode("a", OperatorKind{Kind: KindIdentity}, nil, Unsharded)
	base := g.AddNode("t", OperatorKind{Kind: KindBase, Base: &BaseConfig{}}, nil, Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, a.ID, true))
	require.NoError(t, g.AddEdge(a.ID, base.ID, true))
	assert.Error(t, g.Validate())
}

func TestDroppedNodeSkipsValidation(t *testing.T) {
	g := NewGraph()
	orphan := g.AddNode("orphan", OperatorKind{Kind: KindIdentity}, nil, Unsharded)
	require.NoError(t, g.MarkDropped(orphan.ID))
	assert.NoError(t, g.Validate())
}

func TestReplayPathRegistrationAndLookup(t *testing.T) {
	g := NewGraph()
	base := g.AddNode("t", OperatorKind{Kind: KindBase, Base: &BaseConfig{}}, nil, Unsharded)
	reader := g.AddNode("v", OperatorKind{Kind: KindReader, Reader: &ReaderConfig{KeyColumns: []int{0}}}, nil, Unsharded)
	require.NoError(t, g.AddEdge(g.SourceID, base.ID, true))
	require.NoError(t, g.AddEdge(base.ID, reader.ID, false))

	tag := g.RegisterReplayPath([]NodeID{base.ID, reader.ID})
	path, ok := g.ReplayPath(tag)
	require.True(t, ok)
	assert.Equal(t, []NodeID{base.ID, reader.ID}, path)

	tags := g.ReplayPathsFrom(base.ID)
	require.Len(t, tags, 1)
	assert.Equal(t, tag, tags[0])
}
