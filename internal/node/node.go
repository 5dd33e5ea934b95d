// Package node owns the runtime: one handle holding the socket, the stores,
// the ring, membership and the file-operations coordinator, plus the two
// long-lived workers that drive them.
package node

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/FraMan97/hydfs/internal/cache"
	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/fileops"
	"github.com/FraMan97/hydfs/internal/membership"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/ring"
	"github.com/FraMan97/hydfs/internal/store"
	"github.com/FraMan97/hydfs/internal/tracker"
	"github.com/FraMan97/hydfs/internal/transport"
)

type Node struct {
	Self       model.NodeId
	Introducer model.NodeId

	net     *transport.UDP
	ring    *ring.Ring
	store   *store.Store
	tracker *tracker.Tracker
	cache   *cache.LocalCache

	Membership *membership.Engine
	Files      *fileops.Handler
	router     *Router

	stop chan struct{}
	wg   sync.WaitGroup
}

// ringView bridges membership events onto the hash ring. A node that comes
// up takes its place on the ring; one that goes down is removed, and its
// files converge back onto the surviving replicas at the next merge.
type ringView struct {
	ring *ring.Ring
}

func (v *ringView) NodeJoined(n model.NodeId) {
	v.ring.Add(n)
	log.Printf("[RingView] - Added %s at position %d\n", n, n.Position())
}

func (v *ringView) NodeLeft(n model.NodeId) {
	v.ring.Remove(n)
	log.Printf("[RingView] - Removed %s from position %d\n", n, n.Position())
}

func New(host, port string, introducer model.NodeId, dropRate float64) (*Node, error) {
	self := model.NewNodeId(host, port)

	udp, err := transport.Listen(host, port)
	if err != nil {
		return nil, err
	}
	udp.SetDropRate(dropRate)

	st, err := store.Open(filepath.Join(config.StorageDir, host+"_"+port))
	if err != nil {
		udp.Close()
		return nil, err
	}

	lc, err := cache.Open(filepath.Join(config.CacheDir, host+"_"+port), config.SeedDir)
	if err != nil {
		udp.Close()
		st.Close()
		return nil, err
	}

	n := &Node{
		Self:       self,
		Introducer: introducer,
		net:        udp,
		ring:       ring.New(),
		store:      st,
		tracker:    tracker.New(),
		cache:      lc,
		stop:       make(chan struct{}),
	}

	n.ring.Add(self)
	n.Membership = membership.NewEngine(self, udp, introducer)
	n.Membership.AddListener(&ringView{ring: n.ring})
	n.Files = fileops.New(self, udp, n.ring, st, n.tracker, lc)
	n.router = NewRouter(n.Membership, n.Files)

	log.Printf("[Node] - %s up, ring position %d\n", self, self.Position())
	return n, nil
}

func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Run starts the ingress worker and the maintenance worker.
func (n *Node) Run() {
	n.wg.Add(2)
	go n.ingressLoop()
	go n.maintenanceLoop()
}

// ingressLoop reads whole datagrams and dispatches them synchronously.
func (n *Node) ingressLoop() {
	defer n.wg.Done()
	buf := make([]byte, config.BufferLen)
	for {
		select {
		case <-n.stop:
			return
		default:
		}
		kind, body, sender, ok, err := n.net.Recv(buf)
		if err != nil {
			select {
			case <-n.stop:
				return
			default:
			}
			log.Printf("[Node] - Ingress read error: %v\n", err)
			continue
		}
		if !ok {
			continue
		}
		n.router.Dispatch(kind, body, sender)
	}
}

// maintenanceLoop drives the membership collaborator's periodic rounds. The
// file plane has no background work of its own.
func (n *Node) maintenanceLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(config.MembershipTick)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.Membership.Tick()
		}
	}
}

// Join enters the cluster through the introducer. The store is purged
// first: this incarnation's epoch differs, so any blocks a previous life
// held are stale placement.
func (n *Node) Join() {
	n.store.ClearAll()
	n.Membership.Join()
}

// Leave announces departure and shuts the node down.
func (n *Node) Leave() {
	n.Membership.Leave()
	n.Shutdown()
}

func (n *Node) Shutdown() {
	close(n.stop)
	n.net.Close()
	n.wg.Wait()
	n.store.Close()
	if err := n.cache.Close(); err != nil {
		log.Printf("[Node] - Failed to close local cache: %v\n", err)
	}
	log.Printf("[Node] - %s stopped (%d datagram(s) dropped by fault injection, %d decode error(s))\n",
		n.Self, n.net.Dropped(), n.Files.DecodeErrors())
}
