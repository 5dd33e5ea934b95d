package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FraMan97/hydfs/internal/model"
)

func sampleBlock(seq uint32) model.Block {
	return model.Block{
		BlockID:     model.GenerateBlockID("client-1", 1730000000123, seq),
		ClientID:    "client-1",
		SequenceNum: seq,
		Timestamp:   1730000000123,
		Data:        []byte("block payload"),
	}
}

func sampleMetadata() model.FileMetadata {
	return model.FileMetadata{
		Name:           "notes.txt",
		FileID:         model.GenerateFileID("notes.txt"),
		TotalSize:      26,
		BlockIDs:       []uint64{11, 22, 33},
		Version:        4,
		CreatedMs:      1730000000000,
		LastModifiedMs: 1730000000555,
	}
}

func TestBlockRoundTrip(t *testing.T) {
	in := sampleBlock(7)
	out, err := DecodeBlock(EncodeBlock(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMetadataRoundTrip(t *testing.T) {
	in := sampleMetadata()
	out, err := DecodeMetadata(EncodeMetadata(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCreateRequestRoundTrip(t *testing.T) {
	in := CreateFileRequest{
		HydfsName: "h.txt",
		LocalName: "l.txt",
		ClientID:  991188,
		Data:      []byte("hi\n"),
	}
	out, err := DecodeCreateFileRequest(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCreateResponseRoundTrip(t *testing.T) {
	in := CreateFileResponse{Success: false, ErrorMessage: "file already exists", FileID: 42}
	out, err := DecodeCreateFileResponse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetRequestRoundTrip(t *testing.T) {
	in := GetFileRequest{HydfsName: "h", LocalName: "l", ClientID: 7, LastKnownSequence: 3}
	out, err := DecodeGetFileRequest(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetResponseRoundTrip(t *testing.T) {
	in := GetFileResponse{
		Success:  true,
		Metadata: sampleMetadata(),
		Blocks:   []model.Block{sampleBlock(0), sampleBlock(1)},
	}
	out, err := DecodeGetFileResponse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetResponseFailureRoundTrip(t *testing.T) {
	in := GetFileResponse{Success: false, ErrorMessage: "file not found"}
	in.Metadata.Name = "h.txt"
	out, err := DecodeGetFileResponse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, "h.txt", out.Metadata.Name)
	assert.False(t, out.Success)
}

func TestAppendRequestRoundTrip(t *testing.T) {
	in := AppendFileRequest{
		HydfsName:   "h",
		LocalName:   "l",
		ClientID:    5,
		SequenceNum: 9,
		Data:        []byte("appended"),
	}
	out, err := DecodeAppendFileRequest(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAppendResponseRoundTrip(t *testing.T) {
	in := AppendFileResponse{Success: true, BlockID: 12345}
	out, err := DecodeAppendFileResponse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMergeMessagesRoundTrip(t *testing.T) {
	req := MergeFileRequest{HydfsName: "h", IsCoordinator: true}
	gotReq, err := DecodeMergeFileRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, req, gotReq)

	resp := MergeFileResponse{Success: true, HydfsName: "h", NewVersion: 12}
	gotResp, err := DecodeMergeFileResponse(resp.Encode())
	require.NoError(t, err)
	assert.Equal(t, resp, gotResp)

	upd := MergeUpdateMessage{HydfsName: "h", MergedBlockIDs: []uint64{3, 1, 2}, NewVersion: 12}
	gotUpd, err := DecodeMergeUpdateMessage(upd.Encode())
	require.NoError(t, err)
	assert.Equal(t, upd, gotUpd)

	ack := MergeUpdateAck{HydfsName: "h", NewVersion: 12, Success: true}
	gotAck, err := DecodeMergeUpdateAck(ack.Encode())
	require.NoError(t, err)
	assert.Equal(t, ack, gotAck)
}

func TestReplicateBlockRoundTrip(t *testing.T) {
	in := ReplicateBlockMessage{HydfsName: "h", Block: sampleBlock(2)}
	out, err := DecodeReplicateBlockMessage(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileExistsRoundTrip(t *testing.T) {
	req := FileExistsRequest{HydfsName: "h", RequesterID: "localhost:12345"}
	gotReq, err := DecodeFileExistsRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, req, gotReq)

	resp := FileExistsResponse{HydfsName: "h", Exists: true, FileID: 1, FileSize: 2, Version: 3}
	gotResp, err := DecodeFileExistsResponse(resp.Encode())
	require.NoError(t, err)
	assert.Equal(t, resp, gotResp)
}

func TestCollectBlocksRoundTrip(t *testing.T) {
	req := CollectBlocksRequest{HydfsName: "h"}
	gotReq, err := DecodeCollectBlocksRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, req, gotReq)

	resp := CollectBlocksResponse{
		HydfsName: "h",
		Blocks:    []model.Block{sampleBlock(0), sampleBlock(3)},
		Version:   7,
	}
	gotResp, err := DecodeCollectBlocksResponse(resp.Encode())
	require.NoError(t, err)
	assert.Equal(t, resp, gotResp)
}

func TestLsAndListStoreRoundTrip(t *testing.T) {
	ls := LsFileResponse{
		Success:     true,
		FileID:      9,
		VMAddresses: []string{"a:1", "b:2"},
		RingIDs:     []uint64{100, 200},
	}
	gotLs, err := DecodeLsFileResponse(ls.Encode())
	require.NoError(t, err)
	assert.Equal(t, ls, gotLs)

	store := ListStoreResponse{Filenames: []string{"x", "y"}, FileIDs: []uint64{1, 2}}
	gotStore, err := DecodeListStoreResponse(store.Encode())
	require.NoError(t, err)
	assert.Equal(t, store, gotStore)
}

func TestTransferFilesRoundTrip(t *testing.T) {
	in := TransferFilesMessage{
		Metadata: sampleMetadata(),
		Blocks:   []model.Block{sampleBlock(0)},
	}
	out, err := DecodeTransferFilesMessage(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMembershipMessageRoundTrip(t *testing.T) {
	in := MembershipMessage{Members: []MemberInfo{
		{
			Node:        model.NodeId{Host: "localhost", Port: "12345", Epoch: 1730000001},
			Status:      1,
			Mode:        3,
			LocalTime:   1730000002,
			Incarnation: 2,
			Heartbeat:   55,
		},
	}}
	out, err := DecodeMembershipMessage(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeTruncated(t *testing.T) {
	full := GetFileResponse{
		Success:  true,
		Metadata: sampleMetadata(),
		Blocks:   []model.Block{sampleBlock(0)},
	}.Encode()

	for _, cut := range []int{0, 1, 5, len(full) / 2, len(full) - 1} {
		_, err := DecodeGetFileResponse(full[:cut])
		assert.ErrorIs(t, err, ErrDecodeTruncated, "cut at %d", cut)
	}
}

func TestDecodeOversizedLengthPrefix(t *testing.T) {
	// A length prefix larger than the remaining buffer must not allocate
	// or panic; it is a truncation error.
	buf := appendU32(nil, 1<<30)
	_, err := DecodeCollectBlocksRequest(buf)
	assert.ErrorIs(t, err, ErrDecodeTruncated)
}
