package node

import (
	"log"
	"net"

	"github.com/FraMan97/hydfs/internal/wire"
)

// MessagePlane is one of the two dispatch targets behind the shared socket.
type MessagePlane interface {
	HandleMessage(kind wire.Kind, body []byte, sender *net.UDPAddr)
}

// Router splits inbound datagrams by discriminant: below the file-plane
// threshold to membership, at or above it to file operations, anything
// unmapped is dropped and logged. It borrows the planes for dispatch only.
type Router struct {
	membership MessagePlane
	files      MessagePlane
}

func NewRouter(membership, files MessagePlane) *Router {
	return &Router{membership: membership, files: files}
}

func (r *Router) Dispatch(kind wire.Kind, body []byte, sender *net.UDPAddr) {
	switch {
	case kind.IsMembership():
		r.membership.HandleMessage(kind, body, sender)
	case kind.IsFile():
		r.files.HandleMessage(kind, body, sender)
	default:
		log.Printf("[Router] - Unknown discriminant %d from %s, dropped\n", kind, sender)
	}
}
