// Package fileops is the file-operations coordinator: it drives
// create/get/append/merge/ls against the replica set the ring picks, owns
// the request-reply rendezvous for synchronous calls, and handles the file
// plane's inbound messages.
package fileops

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sync/errgroup"

	"github.com/FraMan97/hydfs/internal/cache"
	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/ring"
	"github.com/FraMan97/hydfs/internal/store"
	"github.com/FraMan97/hydfs/internal/tracker"
	"github.com/FraMan97/hydfs/internal/transport"
	"github.com/FraMan97/hydfs/internal/wire"
)

type Handler struct {
	self    model.NodeId
	net     *transport.UDP
	ring    *ring.Ring
	store   *store.Store
	tracker *tracker.Tracker
	cache   *cache.LocalCache

	seqMu sync.Mutex
	seq   map[string]uint32 // per-file append counter for this client

	pending      *pendingTable
	decodeErrors atomic.Uint64
}

func New(self model.NodeId, net *transport.UDP, r *ring.Ring, st *store.Store,
	tr *tracker.Tracker, c *cache.LocalCache) *Handler {
	return &Handler{
		self:    self,
		net:     net,
		ring:    r,
		store:   st,
		tracker: tr,
		cache:   c,
		seq:     make(map[string]uint32),
		pending: newPendingTable(),
	}
}

// ClientID is this node's identity on the wire: its ring position.
func (h *Handler) ClientID() uint64 {
	return h.self.Position()
}

func (h *Handler) clientIDString() string {
	return strconv.FormatUint(h.ClientID(), 10)
}

// DecodeErrors reports how many inbound datagrams failed to decode.
func (h *Handler) DecodeErrors() uint64 {
	return h.decodeErrors.Load()
}

func (h *Handler) nextSeq(name string) uint32 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	v := h.seq[name]
	h.seq[name] = v + 1
	return v
}

// markCreated reserves sequence 0 for the create block, so this client's
// first append does not collide with it.
func (h *Handler) markCreated(name string) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	if h.seq[name] == 0 {
		h.seq[name] = 1
	}
}

func (h *Handler) lastSeq(name string) uint32 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	return h.seq[name]
}

// loadLocal resolves a create/append payload: the local cache first, then
// the filesystem (caching the result).
func (h *Handler) loadLocal(name string) ([]byte, bool) {
	if data, ok := h.cache.Get(name); ok {
		return data, true
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, false
	}
	if err := h.cache.Put(name, data); err != nil {
		log.Printf("[FileOps] - Failed to cache %s: %v\n", name, err)
	}
	return data, true
}

// deliverLocal lands fetched file contents in the cache and on disk.
func (h *Handler) deliverLocal(name string, data []byte) {
	if err := h.cache.Put(name, data); err != nil {
		log.Printf("[FileOps] - Failed to cache %s: %v\n", name, err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		log.Printf("[FileOps] - Failed to write %s: %v\n", name, err)
	}
}

func (h *Handler) send(kind wire.Kind, body []byte, dest *net.UDPAddr) bool {
	if err := h.net.Send(kind, body, dest); err != nil {
		log.Printf("[FileOps] - %v\n", err)
		return false
	}
	return true
}

func (h *Handler) sendToNode(kind wire.Kind, body []byte, node model.NodeId) bool {
	addr, err := transport.Resolve(node)
	if err != nil {
		log.Printf("[FileOps] - Cannot resolve %s: %v\n", node.Address(), err)
		return false
	}
	return h.send(kind, body, addr)
}

func (h *Handler) isSelf(node model.NodeId) bool {
	return node.Equal(h.self)
}

// Create loads local_name and installs it in HyDFS as hydfs_name on the
// file's replica set. Partial success counts: the caller learns how many
// replicas acknowledged.
func (h *Handler) Create(localName, hydfsName string) bool {
	data, ok := h.loadLocal(localName)
	if !ok {
		log.Printf("[FileOps] - Local file %q not found (try 'store' for cached files)\n", localName)
		return false
	}

	replicas := h.ring.Replicas(hydfsName, config.ReplicationFactor)
	if len(replicas) == 0 {
		log.Printf("[FileOps] - No nodes in the ring, cannot create %q\n", hydfsName)
		return false
	}

	selfInSet := false
	peers := make([]model.NodeId, 0, len(replicas))
	for _, r := range replicas {
		if h.isSelf(r) {
			selfInSet = true
		} else {
			peers = append(peers, r)
		}
	}

	if selfInSet {
		if !h.store.Create(hydfsName, data, h.clientIDString()) {
			log.Printf("[FileOps] - Create %q failed: file already exists\n", hydfsName)
			return false
		}
		h.markCreated(hydfsName)
	}

	if len(peers) == 0 {
		log.Printf("[FileOps] - Created %q locally (single-replica ring)\n", hydfsName)
		return true
	}

	key := "create/" + strconv.FormatUint(model.GenerateFileID(hydfsName), 10)
	op := h.pending.register(key, len(peers), "")
	defer h.pending.remove(key)

	body := wire.CreateFileRequest{
		HydfsName: hydfsName,
		LocalName: localName,
		ClientID:  h.ClientID(),
		Data:      data,
	}.Encode()

	var g errgroup.Group
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			h.sendToNode(wire.KindCreateRequest, body, peer)
			return nil
		})
	}
	g.Wait()

	res, _ := h.pending.wait(op, config.CreateTimeout)
	if !selfInSet && res.failures > 0 && res.acks == 0 {
		log.Printf("[FileOps] - Create %q failed: %s\n", hydfsName, res.errMsg)
		return false
	}
	h.markCreated(hydfsName)
	log.Printf("[FileOps] - Create %q: %d/%d replica(s) acknowledged\n",
		hydfsName, res.acks+boolToInt(selfInSet), len(replicas))
	return true
}

// Get fetches hydfs_name into local_name. The local copy is served only when
// it satisfies read-my-writes for this client; otherwise replicas are tried
// in ring order until one satisfies or all fail.
func (h *Handler) Get(hydfsName, localName string) bool {
	if h.store.Has(hydfsName) {
		meta, _ := h.store.Metadata(hydfsName)
		if h.tracker.SatisfiesReadMyWrites(h.clientIDString(), hydfsName, meta.BlockIDs) {
			data, _ := h.store.Get(hydfsName)
			h.deliverLocal(localName, data)
			log.Printf("[FileOps] - Get %q served locally (%s)\n",
				hydfsName, datasize.ByteSize(len(data)).HumanReadable())
			return true
		}
		log.Printf("[FileOps] - Local copy of %q misses acknowledged appends, trying replicas\n", hydfsName)
	}

	replicas := h.ring.Replicas(hydfsName, config.ReplicationFactor)
	tried := 0
	for _, replica := range replicas {
		if h.isSelf(replica) {
			continue
		}
		addr, err := transport.Resolve(replica)
		if err != nil {
			continue
		}
		tried++
		if h.getFrom(addr, hydfsName, localName) {
			return true
		}
	}
	if tried == 0 {
		log.Printf("[FileOps] - Get %q failed: no replicas reachable\n", hydfsName)
	} else {
		log.Printf("[FileOps] - Get %q failed on all %d replica(s)\n", hydfsName, tried)
	}
	return false
}

// GetFromReplica targets one replica directly, bypassing ring placement.
func (h *Handler) GetFromReplica(address, hydfsName, localName string) bool {
	addr, err := transport.ResolveAddress(address)
	if err != nil {
		log.Printf("[FileOps] - Invalid replica address %q: %v\n", address, err)
		return false
	}
	return h.getFrom(addr, hydfsName, localName)
}

func (h *Handler) getFrom(addr *net.UDPAddr, hydfsName, localName string) bool {
	key := "get/" + hydfsName
	op := h.pending.register(key, 1, localName)
	defer h.pending.remove(key)

	body := wire.GetFileRequest{
		HydfsName:         hydfsName,
		LocalName:         localName,
		ClientID:          h.ClientID(),
		LastKnownSequence: h.lastSeq(hydfsName),
	}.Encode()
	if !h.send(wire.KindGetRequest, body, addr) {
		return false
	}

	res, timedOut := h.pending.wait(op, config.GetTimeout)
	if timedOut {
		log.Printf("[FileOps] - Get %q from %s timed out\n", hydfsName, addr)
		return false
	}
	if !res.success {
		log.Printf("[FileOps] - Get %q from %s failed: %s\n", hydfsName, addr, res.errMsg)
		return false
	}

	h.deliverLocal(res.localName, res.data)
	log.Printf("[FileOps] - Get %q -> %q (%s)\n",
		hydfsName, res.localName, datasize.ByteSize(len(res.data)).HumanReadable())
	return true
}

// Append sends local_name's contents as a new block of hydfs_name through
// the file's coordinator.
func (h *Handler) Append(localName, hydfsName string) bool {
	data, ok := h.loadLocal(localName)
	if !ok {
		log.Printf("[FileOps] - Local file %q not found (try 'store' for cached files)\n", localName)
		return false
	}

	replicas := h.ring.Replicas(hydfsName, config.ReplicationFactor)
	if len(replicas) == 0 {
		log.Printf("[FileOps] - No nodes in the ring, cannot append to %q\n", hydfsName)
		return false
	}
	coordinator := replicas[0]
	seq := h.nextSeq(hydfsName)

	if h.isSelf(coordinator) {
		block, ok := h.applyAppend(hydfsName, h.clientIDString(), seq, data)
		if !ok {
			log.Printf("[FileOps] - Append to %q failed: file not found\n", hydfsName)
			return false
		}
		h.replicate(hydfsName, block, replicas)
		log.Printf("[FileOps] - Appended block %d to %q as coordinator\n", block.BlockID, hydfsName)
		return true
	}

	op := h.pending.register("append", 1, "")
	defer h.pending.remove("append")

	body := wire.AppendFileRequest{
		HydfsName:   hydfsName,
		LocalName:   localName,
		ClientID:    h.ClientID(),
		SequenceNum: seq,
		Data:        data,
	}.Encode()
	if !h.sendToNode(wire.KindAppendRequest, body, coordinator) {
		return false
	}

	res, timedOut := h.pending.wait(op, config.AppendTimeout)
	if timedOut {
		log.Printf("[FileOps] - Append to %q timed out waiting for coordinator %s\n",
			hydfsName, coordinator.Address())
		return false
	}
	if !res.success {
		log.Printf("[FileOps] - Append to %q failed: %s\n", hydfsName, res.errMsg)
		return false
	}

	// The ack makes the block part of this client's read-my-writes set.
	h.tracker.Record(h.clientIDString(), hydfsName, res.blockID)
	log.Printf("[FileOps] - Appended block %d to %q via coordinator %s\n",
		res.blockID, hydfsName, coordinator.Address())
	return true
}

// applyAppend is the coordinator-side append: build the block, install it,
// and record the ack in the client-write index.
func (h *Handler) applyAppend(name, clientID string, seq uint32, data []byte) (model.Block, bool) {
	block := model.NewBlock(clientID, seq, data)
	if !h.store.Append(name, block) {
		return model.Block{}, false
	}
	h.tracker.Record(clientID, name, block.BlockID)
	return block, true
}

// replicate fans the block out to the other members of the replica set.
func (h *Handler) replicate(name string, block model.Block, replicas []model.NodeId) {
	body := wire.ReplicateBlockMessage{HydfsName: name, Block: block}.Encode()
	for _, replica := range replicas {
		if h.isSelf(replica) {
			continue
		}
		if !h.sendToNode(wire.KindReplicateBlock, body, replica) {
			log.Printf("[FileOps] - Failed to replicate block %d to %s\n",
				block.BlockID, replica.Address())
		}
	}
}

// Merge reconciles every replica of hydfs_name onto the canonical block
// order. Non-coordinators forward to the coordinator and wait.
func (h *Handler) Merge(hydfsName string) bool {
	replicas := h.ring.Replicas(hydfsName, config.ReplicationFactor)
	if len(replicas) == 0 {
		log.Printf("[FileOps] - No nodes in the ring, cannot merge %q\n", hydfsName)
		return false
	}
	coordinator := replicas[0]

	if h.isSelf(coordinator) {
		return h.runMerge(hydfsName, nil)
	}

	key := "merge/" + hydfsName
	op := h.pending.register(key, 1, "")
	defer h.pending.remove(key)

	body := wire.MergeFileRequest{HydfsName: hydfsName}.Encode()
	if !h.sendToNode(wire.KindMergeRequest, body, coordinator) {
		return false
	}

	res, timedOut := h.pending.wait(op, config.MergeTimeout)
	if timedOut {
		log.Printf("[FileOps] - Merge %q timed out waiting for coordinator %s\n",
			hydfsName, coordinator.Address())
		return false
	}
	if !res.success {
		log.Printf("[FileOps] - Merge %q failed: %s\n", hydfsName, res.errMsg)
		return false
	}
	log.Printf("[FileOps] - Merge %q completed at version %d\n", hydfsName, res.version)
	return true
}

// Ls asks every replica whether it holds the file and prints the roll call.
func (h *Handler) Ls(hydfsName string) {
	replicas := h.ring.Replicas(hydfsName, config.ReplicationFactor)
	if len(replicas) == 0 {
		fmt.Println("no nodes in the ring")
		return
	}

	type slot struct {
		node model.NodeId
		addr string
	}
	slots := make([]slot, 0, len(replicas))
	for _, r := range replicas {
		addr, err := transport.Resolve(r)
		if err != nil {
			continue
		}
		slots = append(slots, slot{node: r, addr: addr.String()})
	}

	key := "ls/" + hydfsName
	op := h.pending.register(key, len(slots), "")
	defer h.pending.remove(key)

	body := wire.FileExistsRequest{
		HydfsName:   hydfsName,
		RequesterID: h.self.Address(),
	}.Encode()

	var g errgroup.Group
	for _, s := range slots {
		s := s
		g.Go(func() error {
			h.sendToNode(wire.KindFileExistsRequest, body, s.node)
			return nil
		})
	}
	g.Wait()

	res, _ := h.pending.wait(op, config.LsTimeout)

	fmt.Printf("=== ls %s (file id %d) ===\n", hydfsName, model.GenerateFileID(hydfsName))
	for _, s := range slots {
		ringID := s.node.Position()
		resp, ok := res.lsResponses[s.addr]
		switch {
		case !ok:
			fmt.Printf("  ? %s (ring %d) NO RESPONSE\n", s.addr, ringID)
		case !resp.Exists:
			fmt.Printf("  - %s (ring %d) NO FILE\n", s.addr, ringID)
		default:
			fmt.Printf("  + %s (ring %d) HAS (%s, version %d)\n",
				s.addr, ringID, datasize.ByteSize(resp.FileSize).HumanReadable(), resp.Version)
		}
	}
}

// ListStore prints this node's replica store and the client-local cache.
func (h *Handler) ListStore() {
	fmt.Printf("=== store on %s (ring %d) ===\n", h.self.Address(), h.self.Position())

	names := h.store.List()
	fmt.Printf("replicas (%d):\n", len(names))
	for _, name := range names {
		meta, ok := h.store.Metadata(name)
		if !ok {
			continue
		}
		fmt.Printf("  %s (id %d, %s, version %d)\n",
			name, meta.FileID, datasize.ByteSize(meta.TotalSize).HumanReadable(), meta.Version)
	}

	local := h.cache.List()
	fmt.Printf("local files (%d):\n", len(local))
	for _, name := range local {
		fmt.Printf("  %s (%s)\n", name, datasize.ByteSize(h.cache.Size(name)).HumanReadable())
	}
}

// Cat prints a client-local cached file.
func (h *Handler) Cat(localName string) {
	data, ok := h.cache.Get(localName)
	if !ok {
		fmt.Printf("no local file %q\n", localName)
		return
	}
	os.Stdout.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Println()
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
