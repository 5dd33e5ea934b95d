package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FraMan97/hydfs/internal/model"
)

func testNode(host, port string, epoch uint32) model.NodeId {
	return model.NodeId{Host: host, Port: port, Epoch: epoch}
}

func TestReplicasDistinctAndOrdered(t *testing.T) {
	r := New()
	nodes := []model.NodeId{
		testNode("localhost", "12345", 1),
		testNode("localhost", "12346", 1),
		testNode("localhost", "12347", 1),
		testNode("localhost", "12348", 1),
	}
	for _, n := range nodes {
		r.Add(n)
	}

	replicas := r.Replicas("hello.txt", 3)
	require.Len(t, replicas, 3)

	seen := make(map[string]struct{})
	for _, n := range replicas {
		_, dup := seen[n.String()]
		assert.False(t, dup, "replica set contains %s twice", n)
		seen[n.String()] = struct{}{}
	}

	// The coordinator is the first node at or past the file's position.
	pos := model.FilePosition("hello.txt")
	entries := r.Entries()
	var want model.NodeId
	found := false
	for _, e := range entries {
		if e.Position >= pos {
			want = e.Node
			found = true
			break
		}
	}
	if !found {
		want = entries[0].Node // wrapped
	}
	assert.True(t, replicas[0].Equal(want))
}

func TestSuccessorsWrapAndCap(t *testing.T) {
	r := New()
	a := testNode("a", "1", 1)
	b := testNode("b", "2", 1)
	r.Add(a)
	r.Add(b)

	// Asking for more successors than nodes returns every node once.
	succ := r.Successors(0, 5)
	require.Len(t, succ, 2)

	// Starting past the last position wraps to the beginning.
	entries := r.Entries()
	last := entries[len(entries)-1].Position
	wrapped := r.Successors(last+1, 1)
	require.Len(t, wrapped, 1)
	assert.True(t, wrapped[0].Equal(entries[0].Node))
}

func TestEmptyRing(t *testing.T) {
	r := New()
	assert.Nil(t, r.Replicas("anything", 3))
	assert.Equal(t, 0, r.Size())
}

func TestRemove(t *testing.T) {
	r := New()
	a := testNode("a", "1", 1)
	b := testNode("b", "2", 1)
	r.Add(a)
	r.Add(b)
	r.Remove(a)

	assert.False(t, r.Has(a))
	assert.True(t, r.Has(b))
	assert.Equal(t, 1, r.Size())

	// Removing a stale incarnation must not evict the current one.
	b2 := testNode("b", "2", 2)
	r.Add(b2)
	r.Remove(b)
	assert.True(t, r.Has(b2))
}

func TestSamePositionLastWriterWins(t *testing.T) {
	r := New()
	n1 := testNode("host", "9000", 7)
	n2 := testNode("host", "9000", 7) // identical id, same position
	r.Add(n1)
	r.Add(n2)
	assert.Equal(t, 1, r.Size())
}
