package fileops

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FraMan97/hydfs/internal/cache"
	"github.com/FraMan97/hydfs/internal/config"
	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/ring"
	"github.com/FraMan97/hydfs/internal/store"
	"github.com/FraMan97/hydfs/internal/tracker"
	"github.com/FraMan97/hydfs/internal/transport"
	"github.com/FraMan97/hydfs/internal/wire"
)

// testRig is one replica-side handler plus a peer socket standing in for the
// requesting node.
type testRig struct {
	handler *Handler
	store   *store.Store
	tracker *tracker.Tracker
	peer    *transport.UDP
	peerUDP *net.UDPAddr
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	udp, err := transport.Listen("127.0.0.1", "0")
	require.NoError(t, err)
	t.Cleanup(func() { udp.Close() })

	port := strconv.Itoa(udp.LocalAddr().(*net.UDPAddr).Port)
	self := model.NodeId{Host: "127.0.0.1", Port: port, Epoch: uint32(time.Now().Unix())}

	r := ring.New()
	r.Add(self)
	st := store.New()
	tr := tracker.New()
	lc, err := cache.Open(t.TempDir(), "")
	require.NoError(t, err)
	t.Cleanup(func() { lc.Close() })

	peer, err := transport.Listen("127.0.0.1", "0")
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	return &testRig{
		handler: New(self, udp, r, st, tr, lc),
		store:   st,
		tracker: tr,
		peer:    peer,
		peerUDP: peer.LocalAddr().(*net.UDPAddr),
	}
}

// expect reads from the peer socket until a datagram of the wanted kind
// arrives or the deadline passes.
func (rig *testRig) expect(t *testing.T, want wire.Kind) []byte {
	t.Helper()
	buf := make([]byte, config.BufferLen)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		kind, body, _, ok, err := rig.peer.Recv(buf)
		require.NoError(t, err)
		if !ok {
			continue
		}
		if kind == want {
			return append([]byte(nil), body...)
		}
	}
	t.Fatalf("no %s arrived", want)
	return nil
}

func TestCreateRequestInstallsAndAcks(t *testing.T) {
	rig := newRig(t)

	req := wire.CreateFileRequest{HydfsName: "h.txt", LocalName: "l.txt", ClientID: 42, Data: []byte("hi\n")}
	rig.handler.HandleMessage(wire.KindCreateRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeCreateFileResponse(rig.expect(t, wire.KindCreateResponse))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, model.GenerateFileID("h.txt"), resp.FileID)

	data, ok := rig.store.Get("h.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hi\n"), data)
}

func TestDuplicateCreateRejected(t *testing.T) {
	rig := newRig(t)
	req := wire.CreateFileRequest{HydfsName: "d.txt", ClientID: 42, Data: []byte("x1")}
	rig.handler.HandleMessage(wire.KindCreateRequest, req.Encode(), rig.peerUDP)
	rig.expect(t, wire.KindCreateResponse)

	again := wire.CreateFileRequest{HydfsName: "d.txt", ClientID: 43, Data: []byte("x2")}
	rig.handler.HandleMessage(wire.KindCreateRequest, again.Encode(), rig.peerUDP)
	resp, err := wire.DecodeCreateFileResponse(rig.expect(t, wire.KindCreateResponse))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "file already exists", resp.ErrorMessage)
}

func TestGetRequestServesBlocks(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "42"))

	req := wire.GetFileRequest{HydfsName: "h.txt", LocalName: "out.txt", ClientID: 7}
	rig.handler.HandleMessage(wire.KindGetRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeGetFileResponse(rig.expect(t, wire.KindGetResponse))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, []byte("hi\n"), resp.Blocks[0].Data)
	assert.Equal(t, "h.txt", resp.Metadata.Name)
}

func TestGetRequestMissingFile(t *testing.T) {
	rig := newRig(t)
	req := wire.GetFileRequest{HydfsName: "NOTHERE", LocalName: "out.txt", ClientID: 7}
	rig.handler.HandleMessage(wire.KindGetRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeGetFileResponse(rig.expect(t, wire.KindGetResponse))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "file not found", resp.ErrorMessage)
	assert.Equal(t, "NOTHERE", resp.Metadata.Name)
}

func TestGetRequestRefusedWhenRMWUnsatisfiable(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "42"))
	// This replica acked block 999 to client 7 but no longer holds it.
	rig.tracker.Record("7", "h.txt", 999)

	req := wire.GetFileRequest{HydfsName: "h.txt", ClientID: 7}
	rig.handler.HandleMessage(wire.KindGetRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeGetFileResponse(rig.expect(t, wire.KindGetResponse))
	require.NoError(t, err)
	assert.False(t, resp.Success)

	// A different client is unaffected.
	req.ClientID = 8
	rig.handler.HandleMessage(wire.KindGetRequest, req.Encode(), rig.peerUDP)
	resp, err = wire.DecodeGetFileResponse(rig.expect(t, wire.KindGetResponse))
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestAppendRequestAcksWithBlockID(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "42"))

	req := wire.AppendFileRequest{HydfsName: "h.txt", ClientID: 7, SequenceNum: 1, Data: []byte("A1\n")}
	rig.handler.HandleMessage(wire.KindAppendRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeAppendFileResponse(rig.expect(t, wire.KindAppendResponse))
	require.NoError(t, err)
	require.True(t, resp.Success)

	data, _ := rig.store.Get("h.txt")
	assert.Equal(t, []byte("hi\nA1\n"), data)

	// The ack was recorded: serving client 7 a copy without the block
	// would violate read-my-writes.
	meta, _ := rig.store.Metadata("h.txt")
	assert.True(t, rig.tracker.SatisfiesReadMyWrites("7", "h.txt", meta.BlockIDs))
	assert.False(t, rig.tracker.SatisfiesReadMyWrites("7", "h.txt", nil))
	assert.Contains(t, meta.BlockIDs, resp.BlockID)
}

func TestAppendRequestUnknownFile(t *testing.T) {
	rig := newRig(t)
	req := wire.AppendFileRequest{HydfsName: "nope", ClientID: 7, SequenceNum: 0, Data: []byte("x")}
	rig.handler.HandleMessage(wire.KindAppendRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeAppendFileResponse(rig.expect(t, wire.KindAppendResponse))
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestReplicateBlockCreatesLateFile(t *testing.T) {
	rig := newRig(t)
	blk := model.NewBlock("42", 0, []byte("hi\n"))
	msg := wire.ReplicateBlockMessage{HydfsName: "late.txt", Block: blk}
	rig.handler.HandleMessage(wire.KindReplicateBlock, msg.Encode(), rig.peerUDP)

	ack, err := wire.DecodeReplicateBlockMessage(rig.expect(t, wire.KindReplicateAck))
	require.NoError(t, err)
	assert.Equal(t, blk.BlockID, ack.Block.BlockID)

	data, ok := rig.store.Get("late.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hi\n"), data)
}

func TestMergeUpdateInstallsCanonicalOrder(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "a"))
	b1 := model.NewBlock("b", 0, []byte("B1\n"))
	a1 := model.NewBlock("a", 1, []byte("A1\n"))
	require.True(t, rig.store.Append("h.txt", b1))
	require.True(t, rig.store.Append("h.txt", a1))

	meta, _ := rig.store.Metadata("h.txt")
	createID := meta.BlockIDs[0]

	upd := wire.MergeUpdateMessage{
		HydfsName:      "h.txt",
		MergedBlockIDs: []uint64{createID, a1.BlockID, b1.BlockID},
		NewVersion:     10,
	}
	rig.handler.HandleMessage(wire.KindMergeUpdate, upd.Encode(), rig.peerUDP)

	ack, err := wire.DecodeMergeUpdateAck(rig.expect(t, wire.KindMergeUpdateAck))
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, uint32(10), ack.NewVersion)

	data, _ := rig.store.Get("h.txt")
	assert.Equal(t, []byte("hi\nA1\nB1\n"), data)
	meta, _ = rig.store.Metadata("h.txt")
	assert.Equal(t, uint32(10), meta.Version)
}

func TestCollectBlocksRequestReturnsEverything(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "a"))
	require.True(t, rig.store.Append("h.txt", model.NewBlock("a", 1, []byte("A1\n"))))

	req := wire.CollectBlocksRequest{HydfsName: "h.txt"}
	rig.handler.HandleMessage(wire.KindCollectBlocksRequest, req.Encode(), rig.peerUDP)

	resp, err := wire.DecodeCollectBlocksResponse(rig.expect(t, wire.KindCollectBlocksResponse))
	require.NoError(t, err)
	assert.Len(t, resp.Blocks, 2)
	assert.Equal(t, uint32(2), resp.Version)
}

func TestFileExistsRequest(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "a"))

	req := wire.FileExistsRequest{HydfsName: "h.txt", RequesterID: "peer"}
	rig.handler.HandleMessage(wire.KindFileExistsRequest, req.Encode(), rig.peerUDP)
	resp, err := wire.DecodeFileExistsResponse(rig.expect(t, wire.KindFileExistsResponse))
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	assert.Equal(t, uint64(3), resp.FileSize)

	req.HydfsName = "ghost"
	rig.handler.HandleMessage(wire.KindFileExistsRequest, req.Encode(), rig.peerUDP)
	resp, err = wire.DecodeFileExistsResponse(rig.expect(t, wire.KindFileExistsResponse))
	require.NoError(t, err)
	assert.False(t, resp.Exists)
}

func TestTruncatedDatagramCounted(t *testing.T) {
	rig := newRig(t)
	before := rig.handler.DecodeErrors()
	rig.handler.HandleMessage(wire.KindCreateRequest, []byte{0x01}, rig.peerUDP)
	assert.Equal(t, before+1, rig.handler.DecodeErrors())
	assert.False(t, rig.store.Has(""))
}

func TestDeleteFileMessage(t *testing.T) {
	rig := newRig(t)
	require.True(t, rig.store.Create("h.txt", []byte("hi\n"), "a"))
	rig.tracker.Record("7", "h.txt", 1)

	msg := wire.DeleteFileMessage{HydfsName: "h.txt"}
	rig.handler.HandleMessage(wire.KindDeleteFile, msg.Encode(), rig.peerUDP)

	assert.False(t, rig.store.Has("h.txt"))
	assert.True(t, rig.tracker.SatisfiesReadMyWrites("7", "h.txt", nil))
}
