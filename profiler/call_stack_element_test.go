package profiler

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree() *CallStackElement {
	root := NewCallStackElement(nil, "GET /orders", time.Time{})
	root.ExecutionTime = 100 * time.Millisecond

	load := NewCallStackElement(root, "loadOrders", time.Time{})
	load.ExecutionTime = 60 * time.Millisecond
	q1 := NewCallStackElement(load, "SELECT orders", time.Time{})
	q1.ExecutionTime = 40 * time.Millisecond
	q2 := NewCallStackElement(load, "SELECT items", time.Time{})
	q2.ExecutionTime = 3 * time.Millisecond

	cache := NewCallStackElement(root, "cache.get", time.Time{})
	cache.ExecutionTime = 4 * time.Millisecond
	NewCallStackElement(cache, "redis GET", time.Time{}).ExecutionTime = 3 * time.Millisecond

	render := NewCallStackElement(root, "render", time.Time{})
	render.ExecutionTime = 10 * time.Millisecond
	return root
}

func TestRemoveCallsFasterThan(t *testing.T) {
	tree := buildTree()
	tree.RemoveCallsFasterThan(5 * time.Millisecond)

	want := node("GET /orders", 100*time.Millisecond,
		node("loadOrders", 60*time.Millisecond,
			node("SELECT orders", 40*time.Millisecond)),
		node("render", 10*time.Millisecond))
	if diff := cmp.Diff(want, tree, treeCmp); diff != "" {
		t.Errorf("pruned tree mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveCallsFasterThanKeepsBoundary(t *testing.T) {
	tree := buildTree()
	tree.RemoveCallsFasterThan(10 * time.Millisecond)

	var signatures []string
	tree.Walk(func(_ int, e *CallStackElement) { signatures = append(signatures, e.Signature) })
	assert.Equal(t, []string{"GET /orders", "loadOrders", "SELECT orders", "render"}, signatures)
}

func TestPrunedTimeIsNotFoldedIntoAncestorTotals(t *testing.T) {
	tree := buildTree()
	before := tree.SelfTime()
	tree.RemoveCallsFasterThan(5 * time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, tree.ExecutionTime)
	assert.Equal(t, 60*time.Millisecond, tree.Children[0].ExecutionTime)
	// the pruned cache.get (4ms) shows up as root self time
	assert.Equal(t, before+4*time.Millisecond, tree.SelfTime())
	// the pruned SELECT items (3ms) shows up as loadOrders self time
	assert.Equal(t, 20*time.Millisecond, tree.Children[0].SelfTime())
}

func TestRemoveCallsFasterThanZeroKeepsEverything(t *testing.T) {
	tree := buildTree()
	n := tree.Count()
	tree.RemoveCallsFasterThan(0)
	assert.Equal(t, n, tree.Count())
}

func TestCallTreeJSONRoundTrip(t *testing.T) {
	tree := buildTree()
	data, err := MarshalCallTree(tree)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"signature":"GET /orders"`)
	assert.Contains(t, string(data), `"executionTime":100000000`)

	decoded, err := UnmarshalCallTree(data)
	require.NoError(t, err)
	assert.Equal(t, tree.Count(), decoded.Count())
	assert.Same(t, decoded, decoded.Children[0].Parent())
}

func TestCallTreeString(t *testing.T) {
	out := buildTree().String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3+7)
	assert.Contains(t, lines[3], "GET /orders")
	assert.Contains(t, lines[4], "  loadOrders")
	assert.Contains(t, lines[5], "    SELECT orders")
	assert.Contains(t, lines[3], "100.0%")
}
