package wire

import "github.com/FraMan97/hydfs/internal/model"

// MemberInfo is one membership-table row as carried on the wire.
// Layout: NodeId, u8 status, u8 mode, u32 local_time, u32 incarnation,
// u32 heartbeat.
type MemberInfo struct {
	Node        model.NodeId
	Status      uint8
	Mode        uint8
	LocalTime   uint32
	Incarnation uint32
	Heartbeat   uint32
}

func appendMemberInfo(b []byte, m MemberInfo) []byte {
	b = appendNodeId(b, m.Node)
	b = appendU8(b, m.Status)
	b = appendU8(b, m.Mode)
	b = appendU32(b, m.LocalTime)
	b = appendU32(b, m.Incarnation)
	return appendU32(b, m.Heartbeat)
}

func (r *reader) memberInfo() MemberInfo {
	return MemberInfo{
		Node:        r.nodeId(),
		Status:      r.u8(),
		Mode:        r.u8(),
		LocalTime:   r.u32(),
		Incarnation: r.u32(),
		Heartbeat:   r.u32(),
	}
}

// MembershipMessage is the body of every membership-plane datagram:
// u32 count followed by that many MemberInfo rows. PING and ACK carry one
// row (the sender); GOSSIP, JOIN and LEAVE carry table snapshots or deltas;
// SWITCH carries the sender's row with the new mode.
type MembershipMessage struct {
	Members []MemberInfo
}

func (m MembershipMessage) Encode() []byte {
	b := appendU32(nil, uint32(len(m.Members)))
	for _, info := range m.Members {
		b = appendMemberInfo(b, info)
	}
	return b
}

func DecodeMembershipMessage(buf []byte) (MembershipMessage, error) {
	r := newReader(buf)
	var m MembershipMessage
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Members = append(m.Members, r.memberInfo())
	}
	return m, r.err
}
