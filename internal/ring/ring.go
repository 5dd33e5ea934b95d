package ring

import (
	"sort"
	"sync"

	"github.com/FraMan97/hydfs/internal/model"
)

// Entry pairs a ring position with the node that owns it.
type Entry struct {
	Position uint64
	Node     model.NodeId
}

// Ring is the consistent-hash ring mapping nodes and file names to 64-bit
// positions. Reads are concurrent, mutations exclusive. Two nodes hashing to
// the same position is last-writer-wins; true rejoins differ in epoch so the
// replacement is the newer incarnation.
type Ring struct {
	mu        sync.RWMutex
	positions []uint64
	nodes     map[uint64]model.NodeId
}

func New() *Ring {
	return &Ring{nodes: make(map[uint64]model.NodeId)}
}

func (r *Ring) Add(node model.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := node.Position()
	if _, ok := r.nodes[pos]; !ok {
		i := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= pos })
		r.positions = append(r.positions, 0)
		copy(r.positions[i+1:], r.positions[i:])
		r.positions[i] = pos
	}
	r.nodes[pos] = node
}

func (r *Ring) Remove(node model.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := node.Position()
	current, ok := r.nodes[pos]
	if !ok || !current.Equal(node) {
		return
	}
	delete(r.nodes, pos)
	i := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= pos })
	if i < len(r.positions) && r.positions[i] == pos {
		r.positions = append(r.positions[:i], r.positions[i+1:]...)
	}
}

func (r *Ring) Has(node model.NodeId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.nodes[node.Position()]
	return ok && current.Equal(node)
}

func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Successors returns up to n distinct nodes starting at the first position
// >= pos, wrapping at the end of the ring.
func (r *Ring) Successors(pos uint64, n int) []model.NodeId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.positions) == 0 || n <= 0 {
		return nil
	}
	if n > len(r.positions) {
		n = len(r.positions)
	}

	start := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= pos })
	out := make([]model.NodeId, 0, n)
	for i := 0; i < n; i++ {
		p := r.positions[(start+i)%len(r.positions)]
		out = append(out, r.nodes[p])
	}
	return out
}

// Replicas returns the replica set of a file: the n successors of its hash
// position. The first entry is the file's coordinator.
func (r *Ring) Replicas(name string, n int) []model.NodeId {
	return r.Successors(model.FilePosition(name), n)
}

// Entries returns all (position, node) pairs sorted by position.
func (r *Ring) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, Entry{Position: p, Node: r.nodes[p]})
	}
	return out
}
