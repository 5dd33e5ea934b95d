package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FraMan97/hydfs/internal/model"
)

func entry(host, port string, status Status) Entry {
	return Entry{
		Node:        model.NodeId{Host: host, Port: port, Epoch: 1},
		Status:      status,
		Updated:     time.Now(),
		StatusSince: time.Now(),
	}
}

func TestPutGetRemove(t *testing.T) {
	l := NewList()
	e := entry("a", "1", Alive)
	l.Put(e)

	got, ok := l.Get(e.Node)
	require.True(t, ok)
	assert.Equal(t, Alive, got.Status)

	l.Remove(e.Node)
	_, ok = l.Get(e.Node)
	assert.False(t, ok)
}

func TestSetStatusReportsTransition(t *testing.T) {
	l := NewList()
	e := entry("a", "1", Alive)
	l.Put(e)

	prev, ok := l.SetStatus(e.Node, Suspect)
	require.True(t, ok)
	assert.Equal(t, Alive, prev)

	got, _ := l.Get(e.Node)
	assert.Equal(t, Suspect, got.Status)

	_, ok = l.SetStatus(model.NodeId{Host: "ghost", Port: "0", Epoch: 1}, Dead)
	assert.False(t, ok)
}

func TestSelectKRandomExcludesSelfAndDown(t *testing.T) {
	l := NewList()
	self := model.NodeId{Host: "self", Port: "1", Epoch: 1}
	l.Put(Entry{Node: self, Status: Alive})
	l.Put(entry("up", "2", Alive))
	l.Put(entry("sus", "3", Suspect))
	l.Put(entry("down", "4", Dead))
	l.Put(entry("gone", "5", Left))

	picked := l.SelectKRandom(10, self)
	names := make(map[string]bool)
	for _, e := range picked {
		names[e.Node.Host] = true
	}
	assert.False(t, names["self"])
	assert.False(t, names["down"])
	assert.False(t, names["gone"])
	assert.True(t, names["up"])
	assert.True(t, names["sus"], "suspects still get pinged")
	assert.Len(t, picked, 2)
}

func TestSnapshotSorted(t *testing.T) {
	l := NewList()
	l.Put(entry("b", "2", Alive))
	l.Put(entry("a", "1", Alive))
	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Node.Host)
	assert.Equal(t, "b", snap[1].Node.Host)
}

func TestModeHelpers(t *testing.T) {
	assert.True(t, GossipSuspect.Suspicion())
	assert.True(t, PingAckSuspect.Suspicion())
	assert.False(t, Gossip.Suspicion())
	assert.False(t, PingAck.Suspicion())
	assert.Equal(t, "ALIVE", Alive.String())
	assert.Equal(t, "LEFT", Left.String())
}
