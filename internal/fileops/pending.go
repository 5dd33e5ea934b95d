package fileops

import (
	"sync"
	"time"

	"github.com/FraMan97/hydfs/internal/wire"
)

// pendingOp is one synchronous request waiting for datagram responses. The
// caller thread parks on done; the ingress worker fills the fields and
// completes the op. Cancellation is by timeout only: a late response finds
// no table entry and is dropped.
type pendingOp struct {
	localName string
	expected  int

	done   chan struct{}
	closed bool

	success  bool
	errMsg   string
	data     []byte
	blockID  uint64
	version  uint32
	acks     int
	failures int

	lsResponses map[string]wire.FileExistsResponse
	collected   []collectedBlocks
}

type collectedBlocks struct {
	addr string
	resp wire.CollectBlocksResponse
}

// pendingTable keys in-flight operations by "<verb>/<name>" (get, ls, merge,
// collect), "create/<file id>", or the bare key "append", since an append
// response carries no file name. Two concurrent callers with the same key
// share one entry and both observe the first matching response.
type pendingTable struct {
	mu  sync.Mutex
	ops map[string]*pendingOp
}

func newPendingTable() *pendingTable {
	return &pendingTable{ops: make(map[string]*pendingOp)}
}

func (t *pendingTable) register(key string, expected int, localName string) *pendingOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[key]; ok {
		return op
	}
	op := &pendingOp{
		localName:   localName,
		expected:    expected,
		done:        make(chan struct{}),
		lsResponses: make(map[string]wire.FileExistsResponse),
	}
	t.ops[key] = op
	return op
}

func (t *pendingTable) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ops, key)
}

// update runs fn on the entry under the table lock. It reports whether the
// entry existed; a miss means the request already finished or timed out.
func (t *pendingTable) update(key string, fn func(*pendingOp)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[key]
	if !ok {
		return false
	}
	fn(op)
	return true
}

// complete marks the op finished; safe to call more than once.
func (op *pendingOp) complete(success bool, errMsg string) {
	if op.closed {
		return
	}
	op.closed = true
	op.success = success
	op.errMsg = errMsg
	close(op.done)
}

// wait blocks until the op completes or timeout elapses, then snapshots the
// entry. timedOut reports which way it ended.
func (t *pendingTable) wait(op *pendingOp, timeout time.Duration) (res pendingOp, timedOut bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-op.done:
	case <-timer.C:
		timedOut = true
	}

	t.mu.Lock()
	res = *op
	t.mu.Unlock()
	return res, timedOut
}
