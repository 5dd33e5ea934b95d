// Package wire implements the datagram codec: every message is a one-byte
// kind discriminant followed by a deterministic big-endian body. Fixed
// integers are network byte order; strings are u32-length-prefixed, byte
// arrays u64-length-prefixed, neither null-terminated.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/FraMan97/hydfs/internal/model"
)

var (
	ErrBufferTooSmall  = errors.New("wire: buffer too small")
	ErrDecodeTruncated = errors.New("wire: truncated message")
)

func appendU8(b []byte, v uint8) []byte {
	return append(b, v)
}

func appendU32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendStr(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func appendBytes(b []byte, data []byte) []byte {
	b = appendU64(b, uint64(len(data)))
	return append(b, data...)
}

// reader walks a received body. The first failed read latches err and every
// later read returns a zero value, so decoders check err once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = ErrDecodeTruncated
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil || r.remaining() < 1 {
		r.fail()
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || r.remaining() < 4 {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || r.remaining() < 8 {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bool() bool {
	return r.u8() != 0
}

func (r *reader) take(n int) []byte {
	if r.err != nil || n < 0 || r.remaining() < n {
		r.fail()
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) str() string {
	n := r.u32()
	if r.err != nil || uint64(n) > uint64(r.remaining()) {
		r.fail()
		return ""
	}
	return string(r.take(int(n)))
}

func (r *reader) bytes() []byte {
	n := r.u64()
	if r.err != nil || n > uint64(r.remaining()) {
		r.fail()
		return nil
	}
	return append([]byte(nil), r.take(int(n))...)
}

// Block layout: u64 block_id, u32 client_id_len, client_id, u32 sequence_num,
// u64 timestamp_ms, u32 size, data.
func appendBlock(b []byte, blk model.Block) []byte {
	b = appendU64(b, blk.BlockID)
	b = appendStr(b, blk.ClientID)
	b = appendU32(b, blk.SequenceNum)
	b = appendU64(b, blk.Timestamp)
	b = appendU32(b, uint32(len(blk.Data)))
	return append(b, blk.Data...)
}

func (r *reader) block() model.Block {
	var blk model.Block
	blk.BlockID = r.u64()
	blk.ClientID = r.str()
	blk.SequenceNum = r.u32()
	blk.Timestamp = r.u64()
	n := r.u32()
	if r.err != nil || uint64(n) > uint64(r.remaining()) {
		r.fail()
		return blk
	}
	blk.Data = append([]byte(nil), r.take(int(n))...)
	return blk
}

// FileMetadata layout: str name, u64 file_id, u64 total_size, u32 version,
// u64 created_ms, u64 last_modified_ms, u32 block_count, u64 per block id.
func appendMetadata(b []byte, m model.FileMetadata) []byte {
	b = appendStr(b, m.Name)
	b = appendU64(b, m.FileID)
	b = appendU64(b, m.TotalSize)
	b = appendU32(b, m.Version)
	b = appendU64(b, m.CreatedMs)
	b = appendU64(b, m.LastModifiedMs)
	b = appendU32(b, uint32(len(m.BlockIDs)))
	for _, id := range m.BlockIDs {
		b = appendU64(b, id)
	}
	return b
}

func (r *reader) metadata() model.FileMetadata {
	var m model.FileMetadata
	m.Name = r.str()
	m.FileID = r.u64()
	m.TotalSize = r.u64()
	m.Version = r.u32()
	m.CreatedMs = r.u64()
	m.LastModifiedMs = r.u64()
	count := r.u32()
	if r.err != nil || uint64(count)*8 > uint64(r.remaining()) {
		r.fail()
		return m
	}
	m.BlockIDs = make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		m.BlockIDs = append(m.BlockIDs, r.u64())
	}
	return m
}

// EncodeBlock and DecodeBlock expose the block layout for disk persistence,
// which stores each block as its wire encoding.
func EncodeBlock(blk model.Block) []byte {
	return appendBlock(nil, blk)
}

func DecodeBlock(buf []byte) (model.Block, error) {
	r := newReader(buf)
	blk := r.block()
	return blk, r.err
}

// EncodeMetadata and DecodeMetadata are the metadata counterparts.
func EncodeMetadata(m model.FileMetadata) []byte {
	return appendMetadata(nil, m)
}

func DecodeMetadata(buf []byte) (model.FileMetadata, error) {
	r := newReader(buf)
	m := r.metadata()
	return m, r.err
}

// NodeId layout: str host, str port, u32 epoch.
func appendNodeId(b []byte, n model.NodeId) []byte {
	b = appendStr(b, n.Host)
	b = appendStr(b, n.Port)
	return appendU32(b, n.Epoch)
}

func (r *reader) nodeId() model.NodeId {
	var n model.NodeId
	n.Host = r.str()
	n.Port = r.str()
	n.Epoch = r.u32()
	return n
}
