package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/privmap/pkg/types"
)

func newTestGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		g.AddNode(&Node{ID: id, Name: id, Kind: types.KindUser})
	}
	return g
}

func TestAddEdgeDeduplicates(t *testing.T) {
	g := newTestGraph(t, "a", "b")

	require.True(t, g.AddEdge(Edge{Source: "a", Target: "b", Label: "AssumeRole"}))
	require.True(t, g.AddEdge(Edge{Source: "a", Target: "b", Label: "AssumeRole"}))
	assert.Equal(t, 1, g.EdgeCount())

	// Same endpoints, different label: a distinct edge of the multigraph.
	require.True(t, g.AddEdge(Edge{Source: "a", Target: "b", Label: "PutUserPolicy"}))
	assert.Equal(t, 2, g.EdgeCount())
}

func TestAddEdgeRejectsDanglingEndpoint(t *testing.T) {
	g := newTestGraph(t, "a")

	assert.False(t, g.AddEdge(Edge{Source: "a", Target: "ghost", Label: "AssumeRole"}))
	assert.False(t, g.AddEdge(Edge{Source: "ghost", Target: "a", Label: "AssumeRole"}))
	assert.Equal(t, 0, g.EdgeCount())
}

func TestSelfLoop(t *testing.T) {
	g := newTestGraph(t, "a")
	require.True(t, g.AddEdge(Edge{Source: "a", Target: "a", Label: "CreatePolicyVersion"}))

	edges := g.EdgesFrom("a")
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].Target)
}

func TestIterationIsSorted(t *testing.T) {
	g := newTestGraph(t, "c", "a", "b")
	require.True(t, g.AddEdge(Edge{Source: "c", Target: "a", Label: "Z"}))
	require.True(t, g.AddEdge(Edge{Source: "a", Target: "c", Label: "Y"}))
	require.True(t, g.AddEdge(Edge{Source: "a", Target: "b", Label: "X"}))

	var nodeIDs []string
	for _, n := range g.Nodes() {
		nodeIDs = append(nodeIDs, n.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, nodeIDs)

	edges := g.Edges()
	require.Len(t, edges, 3)
	assert.Equal(t, "X", edges[0].Label)
	assert.Equal(t, "Y", edges[1].Label)
	assert.Equal(t, "Z", edges[2].Label)
}

func TestEqualIsStructural(t *testing.T) {
	build := func() *Graph {
		g := newTestGraph(t, "a", "b")
		g.AddEdge(Edge{Source: "a", Target: "b", Label: "AssumeRole"})
		return g
	}

	assert.True(t, build().Equal(build()))

	other := build()
	other.AddEdge(Edge{Source: "b", Target: "a", Label: "AssumeRole"})
	assert.False(t, build().Equal(other))

	renamed := newTestGraph(t, "a")
	renamed.AddNode(&Node{ID: "b", Name: "not-b", Kind: types.KindUser})
	renamed.AddEdge(Edge{Source: "a", Target: "b", Label: "AssumeRole"})
	assert.False(t, build().Equal(renamed))
}
