package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, ids []string, edges [][2]string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, id := range ids {
		g.AddNode(id, nil)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := chain(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())

	// Duplicate edges are ignored.
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 2, g.EdgeCount())
}

func TestGraph_AddEdge_Errors(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))

	var cycleErr *CycleError
	require.ErrorAs(t, g.AddEdge("a", "a"), &cycleErr)
	assert.Equal(t, []string{"a", "a"}, cycleErr.Path)
}

func TestGraph_ParentsAndChildrenFollowInsertionOrder(t *testing.T) {
	g := chain(t, []string{"z", "y", "x"}, [][2]string{{"x", "z"}, {"y", "z"}})

	assert.Equal(t, []string{"y", "x"}, g.GetParents("z"))
	assert.Equal(t, []string{"z"}, g.GetChildren("x"))
}

func TestGraph_HasCycle(t *testing.T) {
	acyclic := chain(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})
	has, _ := acyclic.HasCycle()
	assert.False(t, has)

	cyclic := chain(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	has, path := cyclic.HasCycle()
	require.True(t, has)
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)
}

func TestGraph_TopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges [][2]string
		want  []string
	}{
		{
			name: "unrelated nodes keep insertion order",
			ids:  []string{"stg_orders", "stg_customers", "stg_payments"},
			want: []string{"stg_orders", "stg_customers", "stg_payments"},
		},
		{
			name:  "dependency declared before its parent",
			ids:   []string{"fct_orders", "stg_orders"},
			edges: [][2]string{{"stg_orders", "fct_orders"}},
			want:  []string{"stg_orders", "fct_orders"},
		},
		{
			name:  "diamond",
			ids:   []string{"a", "c", "b", "d"},
			edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
			want:  []string{"a", "c", "b", "d"},
		},
		{
			name:  "ready node beats later independent node",
			ids:   []string{"b", "x", "a"},
			edges: [][2]string{{"a", "b"}},
			want:  []string{"x", "a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := chain(t, tt.ids, tt.edges)
			sorted, err := g.TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, nodeIDs(sorted))
		})
	}
}

func TestGraph_TopologicalSort_WithCycle(t *testing.T) {
	g := chain(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})

	_, err := g.TopologicalSort()
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
}

func TestGraph_GetExecutionLevels(t *testing.T) {
	g := chain(t, []string{"d", "a", "b", "c"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})

	levels, err := g.GetExecutionLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)
}

func TestGraph_AffectedAndUpstream(t *testing.T) {
	g := chain(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"b", "c"}, {"a", "d"}})

	assert.Equal(t, []string{"b", "c"}, g.GetAffectedNodes([]string{"b"}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.GetAffectedNodes([]string{"a", "missing"}))
	assert.Equal(t, []string{"a", "b"}, g.GetUpstreamNodes("c"))
	assert.Empty(t, g.GetUpstreamNodes("a"))
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := chain(t, []string{"c", "a", "b"}, [][2]string{{"a", "b"}})

	assert.Equal(t, []string{"c", "a"}, g.GetRoots())
	assert.Equal(t, []string{"c", "b"}, g.GetLeaves())
}

func TestGraph_Subgraph(t *testing.T) {
	g := chain(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})

	sub := g.Subgraph([]string{"c", "b"})
	assert.Equal(t, []string{"b", "c"}, sub.IDs())
	assert.Equal(t, 1, sub.EdgeCount())
	assert.Equal(t, []string{"b"}, sub.GetParents("c"))
}
