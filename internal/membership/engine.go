package membership

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/transport"
	"github.com/FraMan97/hydfs/internal/wire"
)

// Listener is notified when a member becomes usable or stops being usable.
// The ring-view adapter is the primary listener.
type Listener interface {
	NodeJoined(model.NodeId)
	NodeLeft(model.NodeId)
}

type Engine struct {
	self       model.NodeId
	net        *transport.UDP
	introducer model.NodeId
	list       *List

	mu          sync.Mutex
	mode        Mode
	incarnation uint32
	heartbeat   uint32
	pendingPing map[string]time.Time // NodeId.String() -> ack deadline

	listeners []Listener
}

func NewEngine(self model.NodeId, net *transport.UDP, introducer model.NodeId) *Engine {
	e := &Engine{
		self:        self,
		net:         net,
		introducer:  introducer,
		list:        NewList(),
		mode:        PingAck,
		pendingPing: make(map[string]time.Time),
	}
	e.list.Put(Entry{
		Node:        self,
		Status:      Alive,
		Mode:        e.mode,
		Updated:     time.Now(),
		StatusSince: time.Now(),
	})
	return e
}

func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

func (e *Engine) Self() model.NodeId {
	return e.self
}

func (e *Engine) List() *List {
	return e.list
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Join introduces this node to the cluster through the introducer.
func (e *Engine) Join() {
	body := wire.MembershipMessage{Members: []wire.MemberInfo{e.selfInfo()}}.Encode()
	if err := e.net.SendToNode(wire.KindJoin, body, e.introducer); err != nil {
		log.Printf("[Membership] - Failed to send JOIN to introducer: %v\n", err)
		return
	}
	log.Printf("[Membership] - JOIN sent to introducer %s\n", e.introducer.Address())
}

// Leave announces departure to every known member.
func (e *Engine) Leave() {
	e.list.SetStatus(e.self, Left)
	body := wire.MembershipMessage{Members: []wire.MemberInfo{e.selfInfo()}}.Encode()
	for _, entry := range e.list.Snapshot() {
		if entry.Node.Equal(e.self) || entry.Status == Dead || entry.Status == Left {
			continue
		}
		if err := e.net.SendToNode(wire.KindLeave, body, entry.Node); err != nil {
			log.Printf("[Membership] - Failed to send LEAVE to %s: %v\n", entry.Node.Address(), err)
		}
	}
	log.Printf("[Membership] - LEAVE announced\n")
}

// Switch changes the failure-detection mode and propagates it.
func (e *Engine) Switch(mode Mode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()

	body := wire.MembershipMessage{Members: []wire.MemberInfo{e.selfInfo()}}.Encode()
	for _, entry := range e.list.Snapshot() {
		if entry.Node.Equal(e.self) || entry.Status == Dead || entry.Status == Left {
			continue
		}
		e.net.SendToNode(wire.KindSwitch, body, entry.Node)
	}
	log.Printf("[Membership] - Switched mode to %s\n", mode)
}

// Tick runs one failure-detection round. Called by the maintenance worker.
func (e *Engine) Tick() {
	e.mu.Lock()
	e.heartbeat++
	mode := e.mode
	e.mu.Unlock()

	e.refreshSelf()
	e.expirePings(mode.Suspicion())
	e.expireStatuses()

	switch mode {
	case Gossip, GossipSuspect:
		e.gossipRound()
	case PingAck, PingAckSuspect:
		e.pingRound()
	}
}

func (e *Engine) selfInfo() wire.MemberInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := Alive
	if entry, ok := e.list.Get(e.self); ok {
		status = entry.Status
	}
	return wire.MemberInfo{
		Node:        e.self,
		Status:      uint8(status),
		Mode:        uint8(e.mode),
		LocalTime:   uint32(time.Now().Unix()),
		Incarnation: e.incarnation,
		Heartbeat:   e.heartbeat,
	}
}

func (e *Engine) refreshSelf() {
	entry, _ := e.list.Get(e.self)
	e.mu.Lock()
	entry.Node = e.self
	entry.Mode = e.mode
	entry.Incarnation = e.incarnation
	entry.Heartbeat = e.heartbeat
	e.mu.Unlock()
	entry.Updated = time.Now()
	if entry.StatusSince.IsZero() {
		entry.StatusSince = time.Now()
	}
	e.list.Put(entry)
}

func (e *Engine) gossipRound() {
	snapshot := e.list.Snapshot()
	rows := make([]wire.MemberInfo, 0, len(snapshot))
	for _, entry := range snapshot {
		rows = append(rows, toWire(entry))
	}
	body := wire.MembershipMessage{Members: rows}.Encode()

	for _, peer := range e.list.SelectKRandom(config.GossipFanout, e.self) {
		if err := e.net.SendToNode(wire.KindGossip, body, peer.Node); err != nil {
			log.Printf("[Membership] - Gossip to %s failed: %v\n", peer.Node.Address(), err)
		}
	}
}

func (e *Engine) pingRound() {
	body := wire.MembershipMessage{Members: []wire.MemberInfo{e.selfInfo()}}.Encode()
	deadline := time.Now().Add(config.PingTimeout)

	for _, peer := range e.list.SelectKRandom(config.GossipFanout, e.self) {
		key := peer.Node.String()
		e.mu.Lock()
		if _, waiting := e.pendingPing[key]; waiting {
			e.mu.Unlock()
			continue
		}
		e.pendingPing[key] = deadline
		e.mu.Unlock()

		if err := e.net.SendToNode(wire.KindPing, body, peer.Node); err != nil {
			log.Printf("[Membership] - Ping to %s failed: %v\n", peer.Node.Address(), err)
		}
	}
}

// expirePings marks members whose ack deadline passed.
func (e *Engine) expirePings(suspicion bool) {
	now := time.Now()
	e.mu.Lock()
	var overdue []string
	for key, deadline := range e.pendingPing {
		if now.After(deadline) {
			overdue = append(overdue, key)
			delete(e.pendingPing, key)
		}
	}
	e.mu.Unlock()

	for _, key := range overdue {
		for _, entry := range e.list.Snapshot() {
			if entry.Node.String() != key {
				continue
			}
			if suspicion {
				e.transition(entry.Node, Suspect)
			} else {
				e.transition(entry.Node, Dead)
			}
		}
	}
}

// expireStatuses ages suspects into dead and reaps dead/left entries.
func (e *Engine) expireStatuses() {
	now := time.Now()
	for _, entry := range e.list.Snapshot() {
		if entry.Node.Equal(e.self) {
			continue
		}
		switch entry.Status {
		case Suspect:
			if now.Sub(entry.StatusSince) > config.SuspectTimeout {
				e.transition(entry.Node, Dead)
			}
		case Dead, Left:
			if now.Sub(entry.StatusSince) > config.CleanupTimeout {
				e.list.Remove(entry.Node)
				log.Printf("[Membership] - Reaped %s (%s)\n", entry.Node, entry.Status)
			}
		}
	}
}

// transition moves a member to status and fires listener callbacks on
// up/down edges.
func (e *Engine) transition(node model.NodeId, status Status) {
	prev, ok := e.list.SetStatus(node, status)
	if !ok || prev == status {
		return
	}
	log.Printf("[Membership] - %s: %s -> %s\n", node, prev, status)

	wasUp := prev == Alive || prev == Suspect
	isUp := status == Alive || status == Suspect
	if wasUp && !isUp {
		for _, l := range e.listeners {
			l.NodeLeft(node)
		}
	}
	if !wasUp && isUp {
		for _, l := range e.listeners {
			l.NodeJoined(node)
		}
	}
}

// HandleMessage is the membership half of the router dispatch.
func (e *Engine) HandleMessage(kind wire.Kind, body []byte, sender *net.UDPAddr) {
	msg, err := wire.DecodeMembershipMessage(body)
	if err != nil {
		log.Printf("[Membership] - Dropped %s from %s: %v\n", kind, sender, err)
		return
	}

	switch kind {
	case wire.KindPing:
		e.mergeRows(msg.Members)
		ack := wire.MembershipMessage{Members: []wire.MemberInfo{e.selfInfo()}}.Encode()
		if err := e.net.Send(wire.KindAck, ack, sender); err != nil {
			log.Printf("[Membership] - Ack to %s failed: %v\n", sender, err)
		}
	case wire.KindAck:
		if len(msg.Members) > 0 {
			e.mu.Lock()
			delete(e.pendingPing, msg.Members[0].Node.String())
			e.mu.Unlock()
		}
		e.mergeRows(msg.Members)
	case wire.KindGossip:
		e.mergeRows(msg.Members)
	case wire.KindJoin:
		e.handleJoin(msg)
	case wire.KindLeave:
		for _, row := range msg.Members {
			if !row.Node.Equal(e.self) {
				e.admit(row.Node, row)
				e.transition(row.Node, Left)
			}
		}
	case wire.KindSwitch:
		if len(msg.Members) > 0 {
			e.mu.Lock()
			e.mode = Mode(msg.Members[0].Mode)
			mode := e.mode
			e.mu.Unlock()
			log.Printf("[Membership] - Mode switched to %s by %s\n", mode, msg.Members[0].Node)
		}
	default:
		log.Printf("[Membership] - Unknown kind %d from %s, dropped\n", kind, sender)
	}
}

func (e *Engine) handleJoin(msg wire.MembershipMessage) {
	if len(msg.Members) == 0 {
		return
	}
	joiner := msg.Members[0]
	e.admit(joiner.Node, joiner)
	e.transition(joiner.Node, Alive)
	log.Printf("[Membership] - %s joined via introducer path\n", joiner.Node)

	// Hand the joiner the full table, then gossip the join onward.
	snapshot := e.list.Snapshot()
	rows := make([]wire.MemberInfo, 0, len(snapshot))
	for _, entry := range snapshot {
		rows = append(rows, toWire(entry))
	}
	full := wire.MembershipMessage{Members: rows}.Encode()
	if err := e.net.SendToNode(wire.KindGossip, full, joiner.Node); err != nil {
		log.Printf("[Membership] - Failed to send table to joiner %s: %v\n", joiner.Node.Address(), err)
	}
	e.gossipRound()
}

// admit inserts an unknown node without firing edges; transition does that.
func (e *Engine) admit(node model.NodeId, row wire.MemberInfo) {
	if _, known := e.list.Get(node); known {
		return
	}
	e.list.Put(Entry{
		Node:        node,
		Status:      Dead, // placeholder until transition fires the up edge
		Mode:        Mode(row.Mode),
		Incarnation: row.Incarnation,
		Heartbeat:   row.Heartbeat,
		Updated:     time.Now(),
		StatusSince: time.Now(),
	})
}

func (e *Engine) mergeRows(rows []wire.MemberInfo) {
	for _, row := range rows {
		if row.Node.Equal(e.self) {
			// Refute rumors about ourselves with a higher incarnation.
			if Status(row.Status) == Suspect || Status(row.Status) == Dead {
				e.mu.Lock()
				if row.Incarnation >= e.incarnation {
					e.incarnation = row.Incarnation + 1
				}
				e.mu.Unlock()
				e.refreshSelf()
			}
			continue
		}

		current, known := e.list.Get(row.Node)
		if !known {
			if Status(row.Status) == Dead || Status(row.Status) == Left {
				continue
			}
			e.admit(row.Node, row)
			e.transition(row.Node, Status(row.Status))
			continue
		}

		if row.Incarnation < current.Incarnation {
			continue
		}
		fresher := row.Incarnation > current.Incarnation ||
			row.Heartbeat > current.Heartbeat ||
			Status(row.Status) > current.Status
		if !fresher {
			continue
		}

		current.Incarnation = row.Incarnation
		current.Heartbeat = row.Heartbeat
		current.Mode = Mode(row.Mode)
		current.Updated = time.Now()
		e.list.Put(current)
		e.transition(row.Node, Status(row.Status))
	}
}

func toWire(e Entry) wire.MemberInfo {
	return wire.MemberInfo{
		Node:        e.Node,
		Status:      uint8(e.Status),
		Mode:        uint8(e.Mode),
		LocalTime:   uint32(e.Updated.Unix()),
		Incarnation: e.Incarnation,
		Heartbeat:   e.Heartbeat,
	}
}
