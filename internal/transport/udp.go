// Package transport is the datagram layer: best-effort sends, whole-datagram
// reads into a caller-owned buffer, no per-message reliability. Losses show
// up as timeouts at the operation layer, never as errors here.
package transport

import (
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/wire"
)

// UDP owns one socket shared by the membership and file planes.
type UDP struct {
	conn *net.UDPConn

	dropMu   sync.Mutex
	dropRate float64
	rng      *rand.Rand

	dropped atomic.Uint64
}

func Listen(host, port string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: %w", host, port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s:%s: %w", host, port, err)
	}
	log.Printf("[Transport] - Listening on %s\n", conn.LocalAddr())
	return &UDP{conn: conn, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

// SetDropRate sets the ingress drop probability for fault injection.
// Zero (the default) delivers everything.
func (u *UDP) SetDropRate(rate float64) {
	u.dropMu.Lock()
	defer u.dropMu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	u.dropRate = rate
}

// Dropped reports how many ingress datagrams fault injection discarded.
func (u *UDP) Dropped() uint64 {
	return u.dropped.Load()
}

func Resolve(node model.NodeId) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(node.Host, node.Port))
}

func ResolveAddress(addr string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

// Send frames body with the kind discriminant and fires it at dest.
// Sends are best-effort: an error here means the datagram never left,
// not that it arrived.
func (u *UDP) Send(kind wire.Kind, body []byte, dest *net.UDPAddr) error {
	if len(body)+1 > config.BufferLen {
		return fmt.Errorf("send %s to %s: %d bytes exceeds datagram limit %d: %w",
			kind, dest, len(body)+1, config.BufferLen, wire.ErrBufferTooSmall)
	}
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, byte(kind))
	frame = append(frame, body...)
	_, err := u.conn.WriteToUDP(frame, dest)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", kind, dest, err)
	}
	return nil
}

// SendToNode resolves the node's address and sends.
func (u *UDP) SendToNode(kind wire.Kind, body []byte, node model.NodeId) error {
	addr, err := Resolve(node)
	if err != nil {
		return err
	}
	return u.Send(kind, body, addr)
}

// Recv reads one whole datagram into buf and splits off the discriminant.
// ok is false when no data arrived within the poll interval or when fault
// injection dropped the datagram; that is not an error.
func (u *UDP) Recv(buf []byte) (kind wire.Kind, body []byte, sender *net.UDPAddr, ok bool, err error) {
	if derr := u.conn.SetReadDeadline(time.Now().Add(config.IngressIdleSleep)); derr != nil {
		return 0, nil, nil, false, derr
	}
	n, from, rerr := u.conn.ReadFromUDP(buf)
	if rerr != nil {
		if nerr, isNet := rerr.(net.Error); isNet && nerr.Timeout() {
			return 0, nil, nil, false, nil
		}
		return 0, nil, nil, false, rerr
	}
	if n < 1 {
		return 0, nil, nil, false, nil
	}

	u.dropMu.Lock()
	drop := u.dropRate > 0 && u.rng.Float64() < u.dropRate
	u.dropMu.Unlock()
	if drop {
		u.dropped.Add(1)
		log.Printf("[Transport] - Dropped ingress datagram (fault injection)\n")
		return 0, nil, nil, false, nil
	}

	return wire.Kind(buf[0]), buf[1:n], from, true, nil
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Close() error {
	return u.conn.Close()
}
