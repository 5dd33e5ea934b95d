package wire

import "github.com/FraMan97/hydfs/internal/model"

// CreateFileRequest asks a replica to create the file with the full payload.
// Each replica builds its own initial block from the carried data.
type CreateFileRequest struct {
	HydfsName string
	LocalName string
	ClientID  uint64
	Data      []byte
}

func (m CreateFileRequest) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendStr(b, m.LocalName)
	b = appendU64(b, m.ClientID)
	return appendBytes(b, m.Data)
}

func DecodeCreateFileRequest(buf []byte) (CreateFileRequest, error) {
	r := newReader(buf)
	m := CreateFileRequest{
		HydfsName: r.str(),
		LocalName: r.str(),
		ClientID:  r.u64(),
		Data:      r.bytes(),
	}
	return m, r.err
}

type CreateFileResponse struct {
	Success      bool
	ErrorMessage string
	FileID       uint64
}

func (m CreateFileResponse) Encode() []byte {
	b := appendBool(nil, m.Success)
	b = appendStr(b, m.ErrorMessage)
	return appendU64(b, m.FileID)
}

func DecodeCreateFileResponse(buf []byte) (CreateFileResponse, error) {
	r := newReader(buf)
	m := CreateFileResponse{
		Success:      r.bool(),
		ErrorMessage: r.str(),
		FileID:       r.u64(),
	}
	return m, r.err
}

type GetFileRequest struct {
	HydfsName         string
	LocalName         string
	ClientID          uint64
	LastKnownSequence uint32
}

func (m GetFileRequest) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendStr(b, m.LocalName)
	b = appendU64(b, m.ClientID)
	return appendU32(b, m.LastKnownSequence)
}

func DecodeGetFileRequest(buf []byte) (GetFileRequest, error) {
	r := newReader(buf)
	m := GetFileRequest{
		HydfsName:         r.str(),
		LocalName:         r.str(),
		ClientID:          r.u64(),
		LastKnownSequence: r.u32(),
	}
	return m, r.err
}

// GetFileResponse carries the metadata and every block of the file. The
// metadata name is set even on failure so the requester can match the
// response to its pending get.
type GetFileResponse struct {
	Success      bool
	ErrorMessage string
	Metadata     model.FileMetadata
	Blocks       []model.Block
}

func (m GetFileResponse) Encode() []byte {
	b := appendBool(nil, m.Success)
	b = appendStr(b, m.ErrorMessage)
	b = appendMetadata(b, m.Metadata)
	b = appendU32(b, uint32(len(m.Blocks)))
	for _, blk := range m.Blocks {
		b = appendBlock(b, blk)
	}
	return b
}

func DecodeGetFileResponse(buf []byte) (GetFileResponse, error) {
	r := newReader(buf)
	m := GetFileResponse{
		Success:      r.bool(),
		ErrorMessage: r.str(),
		Metadata:     r.metadata(),
	}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Blocks = append(m.Blocks, r.block())
	}
	return m, r.err
}

type AppendFileRequest struct {
	HydfsName   string
	LocalName   string
	ClientID    uint64
	SequenceNum uint32
	Data        []byte
}

func (m AppendFileRequest) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendStr(b, m.LocalName)
	b = appendU64(b, m.ClientID)
	b = appendU32(b, m.SequenceNum)
	return appendBytes(b, m.Data)
}

func DecodeAppendFileRequest(buf []byte) (AppendFileRequest, error) {
	r := newReader(buf)
	m := AppendFileRequest{
		HydfsName:   r.str(),
		LocalName:   r.str(),
		ClientID:    r.u64(),
		SequenceNum: r.u32(),
		Data:        r.bytes(),
	}
	return m, r.err
}

type AppendFileResponse struct {
	Success      bool
	ErrorMessage string
	BlockID      uint64
}

func (m AppendFileResponse) Encode() []byte {
	b := appendBool(nil, m.Success)
	b = appendStr(b, m.ErrorMessage)
	return appendU64(b, m.BlockID)
}

func DecodeAppendFileResponse(buf []byte) (AppendFileResponse, error) {
	r := newReader(buf)
	m := AppendFileResponse{
		Success:      r.bool(),
		ErrorMessage: r.str(),
		BlockID:      r.u64(),
	}
	return m, r.err
}

// MergeFileRequest is forwarded to the coordinator, which runs the merge.
type MergeFileRequest struct {
	HydfsName     string
	IsCoordinator bool
}

func (m MergeFileRequest) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	return appendBool(b, m.IsCoordinator)
}

func DecodeMergeFileRequest(buf []byte) (MergeFileRequest, error) {
	r := newReader(buf)
	m := MergeFileRequest{
		HydfsName:     r.str(),
		IsCoordinator: r.bool(),
	}
	return m, r.err
}

type MergeFileResponse struct {
	Success      bool
	ErrorMessage string
	HydfsName    string
	NewVersion   uint32
}

func (m MergeFileResponse) Encode() []byte {
	b := appendBool(nil, m.Success)
	b = appendStr(b, m.ErrorMessage)
	b = appendStr(b, m.HydfsName)
	return appendU32(b, m.NewVersion)
}

func DecodeMergeFileResponse(buf []byte) (MergeFileResponse, error) {
	r := newReader(buf)
	m := MergeFileResponse{
		Success:      r.bool(),
		ErrorMessage: r.str(),
		HydfsName:    r.str(),
		NewVersion:   r.u32(),
	}
	return m, r.err
}

// ReplicateBlockMessage carries one block to a replica; the ack echoes the
// same body back so the coordinator can tell which block landed.
type ReplicateBlockMessage struct {
	HydfsName string
	Block     model.Block
}

func (m ReplicateBlockMessage) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	return appendBlock(b, m.Block)
}

func DecodeReplicateBlockMessage(buf []byte) (ReplicateBlockMessage, error) {
	r := newReader(buf)
	m := ReplicateBlockMessage{
		HydfsName: r.str(),
		Block:     r.block(),
	}
	return m, r.err
}

type MergeUpdateMessage struct {
	HydfsName      string
	MergedBlockIDs []uint64
	NewVersion     uint32
}

func (m MergeUpdateMessage) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendU32(b, uint32(len(m.MergedBlockIDs)))
	for _, id := range m.MergedBlockIDs {
		b = appendU64(b, id)
	}
	return appendU32(b, m.NewVersion)
}

func DecodeMergeUpdateMessage(buf []byte) (MergeUpdateMessage, error) {
	r := newReader(buf)
	m := MergeUpdateMessage{HydfsName: r.str()}
	count := r.u32()
	if r.err == nil && uint64(count)*8 <= uint64(r.remaining()) {
		m.MergedBlockIDs = make([]uint64, 0, count)
		for i := uint32(0); i < count; i++ {
			m.MergedBlockIDs = append(m.MergedBlockIDs, r.u64())
		}
	} else {
		r.fail()
	}
	m.NewVersion = r.u32()
	return m, r.err
}

type MergeUpdateAck struct {
	HydfsName  string
	NewVersion uint32
	Success    bool
}

func (m MergeUpdateAck) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendU32(b, m.NewVersion)
	return appendBool(b, m.Success)
}

func DecodeMergeUpdateAck(buf []byte) (MergeUpdateAck, error) {
	r := newReader(buf)
	m := MergeUpdateAck{
		HydfsName:  r.str(),
		NewVersion: r.u32(),
		Success:    r.bool(),
	}
	return m, r.err
}

type FileExistsRequest struct {
	HydfsName   string
	RequesterID string
}

func (m FileExistsRequest) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	return appendStr(b, m.RequesterID)
}

func DecodeFileExistsRequest(buf []byte) (FileExistsRequest, error) {
	r := newReader(buf)
	m := FileExistsRequest{
		HydfsName:   r.str(),
		RequesterID: r.str(),
	}
	return m, r.err
}

type FileExistsResponse struct {
	HydfsName string
	Exists    bool
	FileID    uint64
	FileSize  uint64
	Version   uint32
}

func (m FileExistsResponse) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendBool(b, m.Exists)
	b = appendU64(b, m.FileID)
	b = appendU64(b, m.FileSize)
	return appendU32(b, m.Version)
}

func DecodeFileExistsResponse(buf []byte) (FileExistsResponse, error) {
	r := newReader(buf)
	m := FileExistsResponse{
		HydfsName: r.str(),
		Exists:    r.bool(),
		FileID:    r.u64(),
		FileSize:  r.u64(),
		Version:   r.u32(),
	}
	return m, r.err
}

type CollectBlocksRequest struct {
	HydfsName string
}

func (m CollectBlocksRequest) Encode() []byte {
	return appendStr(nil, m.HydfsName)
}

func DecodeCollectBlocksRequest(buf []byte) (CollectBlocksRequest, error) {
	r := newReader(buf)
	m := CollectBlocksRequest{HydfsName: r.str()}
	return m, r.err
}

type CollectBlocksResponse struct {
	HydfsName string
	Blocks    []model.Block
	Version   uint32
}

func (m CollectBlocksResponse) Encode() []byte {
	b := appendStr(nil, m.HydfsName)
	b = appendU32(b, uint32(len(m.Blocks)))
	for _, blk := range m.Blocks {
		b = appendBlock(b, blk)
	}
	return appendU32(b, m.Version)
}

func DecodeCollectBlocksResponse(buf []byte) (CollectBlocksResponse, error) {
	r := newReader(buf)
	m := CollectBlocksResponse{HydfsName: r.str()}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Blocks = append(m.Blocks, r.block())
	}
	m.Version = r.u32()
	return m, r.err
}

type LsFileRequest struct {
	HydfsName string
}

func (m LsFileRequest) Encode() []byte {
	return appendStr(nil, m.HydfsName)
}

func DecodeLsFileRequest(buf []byte) (LsFileRequest, error) {
	r := newReader(buf)
	m := LsFileRequest{HydfsName: r.str()}
	return m, r.err
}

type LsFileResponse struct {
	Success      bool
	ErrorMessage string
	FileID       uint64
	VMAddresses  []string
	RingIDs      []uint64
}

func (m LsFileResponse) Encode() []byte {
	b := appendBool(nil, m.Success)
	b = appendStr(b, m.ErrorMessage)
	b = appendU64(b, m.FileID)
	b = appendU32(b, uint32(len(m.VMAddresses)))
	for i, addr := range m.VMAddresses {
		b = appendStr(b, addr)
		b = appendU64(b, m.RingIDs[i])
	}
	return b
}

func DecodeLsFileResponse(buf []byte) (LsFileResponse, error) {
	r := newReader(buf)
	m := LsFileResponse{
		Success:      r.bool(),
		ErrorMessage: r.str(),
		FileID:       r.u64(),
	}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.VMAddresses = append(m.VMAddresses, r.str())
		m.RingIDs = append(m.RingIDs, r.u64())
	}
	return m, r.err
}

type ListStoreRequest struct{}

func (m ListStoreRequest) Encode() []byte {
	return []byte{}
}

func DecodeListStoreRequest(buf []byte) (ListStoreRequest, error) {
	return ListStoreRequest{}, nil
}

type ListStoreResponse struct {
	Filenames []string
	FileIDs   []uint64
}

func (m ListStoreResponse) Encode() []byte {
	b := appendU32(nil, uint32(len(m.Filenames)))
	for i, name := range m.Filenames {
		b = appendStr(b, name)
		b = appendU64(b, m.FileIDs[i])
	}
	return b
}

func DecodeListStoreResponse(buf []byte) (ListStoreResponse, error) {
	r := newReader(buf)
	var m ListStoreResponse
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Filenames = append(m.Filenames, r.str())
		m.FileIDs = append(m.FileIDs, r.u64())
	}
	return m, r.err
}

// TransferFilesMessage installs a complete file on the receiver. It also
// serves REPLICATE_FILE, which shares the body layout.
type TransferFilesMessage struct {
	Metadata model.FileMetadata
	Blocks   []model.Block
}

func (m TransferFilesMessage) Encode() []byte {
	b := appendMetadata(nil, m.Metadata)
	b = appendU32(b, uint32(len(m.Blocks)))
	for _, blk := range m.Blocks {
		b = appendBlock(b, blk)
	}
	return b
}

func DecodeTransferFilesMessage(buf []byte) (TransferFilesMessage, error) {
	r := newReader(buf)
	m := TransferFilesMessage{Metadata: r.metadata()}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Blocks = append(m.Blocks, r.block())
	}
	return m, r.err
}

type DeleteFileMessage struct {
	HydfsName string
}

func (m DeleteFileMessage) Encode() []byte {
	return appendStr(nil, m.HydfsName)
}

func DecodeDeleteFileMessage(buf []byte) (DeleteFileMessage, error) {
	r := newReader(buf)
	m := DeleteFileMessage{HydfsName: r.str()}
	return m, r.err
}
