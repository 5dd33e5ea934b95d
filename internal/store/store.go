// Package store is the node-local block store: filename -> metadata and
// block_id -> block, guarded by one reader-writer lock over both maps.
// Mutations commit in memory and hand persistence to a background writer,
// so the request path never blocks on disk.
package store

import (
	"log"
	"sort"
	"sync"

	"github.com/FraMan97/hydfs/internal/model"
)

type Store struct {
	mu     sync.RWMutex
	files  map[string]*model.FileMetadata
	blocks map[uint64]model.Block

	persist *persister // nil when the store is memory-only
}

// New returns a memory-only store.
func New() *Store {
	return &Store{
		files:  make(map[string]*model.FileMetadata),
		blocks: make(map[uint64]model.Block),
	}
}

// Open returns a store persisted under dir, replaying whatever a previous
// incarnation left there.
func Open(dir string) (*Store, error) {
	s := New()
	p, err := newPersister(dir)
	if err != nil {
		return nil, err
	}
	s.persist = p

	metas, blocks, err := p.replay()
	if err != nil {
		return nil, err
	}
	for id, blk := range blocks {
		s.blocks[id] = blk
	}
	for name := range metas {
		meta := metas[name]
		s.files[name] = &meta
	}
	if len(s.files) > 0 {
		log.Printf("[FileStore] - Loaded %d file(s) from disk at startup\n", len(s.files))
	}
	return s, nil
}

// Create installs a new file whose first block carries data. It fails when
// the name is already present.
func (s *Store) Create(name string, data []byte, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[name]; exists {
		return false
	}

	now := model.NowMs()
	meta := &model.FileMetadata{
		Name:           name,
		FileID:         model.GenerateFileID(name),
		Version:        1,
		CreatedMs:      now,
		LastModifiedMs: now,
	}

	if len(data) > 0 {
		block := model.Block{
			BlockID:     model.GenerateBlockID(clientID, now, 0),
			ClientID:    clientID,
			SequenceNum: 0,
			Timestamp:   now,
			Data:        data,
		}
		s.blocks[block.BlockID] = block
		meta.BlockIDs = append(meta.BlockIDs, block.BlockID)
		meta.TotalSize = block.Size()
		s.persistBlock(block)
	}

	s.files[name] = meta
	s.persistMeta(*meta)
	return true
}

// Append adds one block to an existing file. Rejected when the file is
// unknown or the block id is already referenced (duplicate delivery).
func (s *Store) Append(name string, block model.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists := s.files[name]
	if !exists {
		return false
	}
	for _, id := range meta.BlockIDs {
		if id == block.BlockID {
			return false
		}
	}

	s.blocks[block.BlockID] = block
	meta.BlockIDs = append(meta.BlockIDs, block.BlockID)
	meta.TotalSize += block.Size()
	meta.LastModifiedMs = model.NowMs()
	meta.Version++

	s.persistBlock(block)
	s.persistMeta(*meta)
	return true
}

// AppendOrCreate installs a replicated block, creating the file when the
// block outruns its CREATE_REQUEST. Unlike Append it is idempotent: a block
// already referenced reports success.
func (s *Store) AppendOrCreate(name string, block model.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists := s.files[name]
	if !exists {
		now := model.NowMs()
		meta = &model.FileMetadata{
			Name:           name,
			FileID:         model.GenerateFileID(name),
			CreatedMs:      now,
			LastModifiedMs: now,
		}
		s.files[name] = meta
	}
	for _, id := range meta.BlockIDs {
		if id == block.BlockID {
			return true
		}
	}

	s.blocks[block.BlockID] = block
	meta.BlockIDs = append(meta.BlockIDs, block.BlockID)
	meta.TotalSize += block.Size()
	meta.LastModifiedMs = model.NowMs()
	meta.Version++

	s.persistBlock(block)
	s.persistMeta(*meta)
	return true
}

// BlockByID looks a block up regardless of owning file.
func (s *Store) BlockByID(id uint64) (model.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blk, ok := s.blocks[id]
	return blk, ok
}

// Get assembles the file by concatenating its blocks in canonical order.
func (s *Store) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, exists := s.files[name]
	if !exists {
		return nil, false
	}
	data := make([]byte, 0, meta.TotalSize)
	for _, id := range meta.BlockIDs {
		if blk, ok := s.blocks[id]; ok {
			data = append(data, blk.Data...)
		}
	}
	return data, true
}

// Blocks returns the file's blocks in canonical order.
func (s *Store) Blocks(name string) []model.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, exists := s.files[name]
	if !exists {
		return nil
	}
	out := make([]model.Block, 0, len(meta.BlockIDs))
	for _, id := range meta.BlockIDs {
		if blk, ok := s.blocks[id]; ok {
			out = append(out, blk)
		}
	}
	return out
}

func (s *Store) Metadata(name string) (model.FileMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, exists := s.files[name]
	if !exists {
		return model.FileMetadata{}, false
	}
	return meta.Clone(), true
}

func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.files[name]
	return exists
}

// List returns the stored file names, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Merge atomically replaces the file's block list with canonical, recomputes
// the size and sets the version. Blocks the old list referenced but the new
// one does not become unreferenced and are dropped. A file unknown to this
// replica is created so late replicas still converge.
func (s *Store) Merge(name string, canonical []model.Block, newVersion uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists := s.files[name]
	if !exists {
		meta = &model.FileMetadata{
			Name:      name,
			FileID:    model.GenerateFileID(name),
			CreatedMs: model.NowMs(),
		}
		s.files[name] = meta
	}

	keep := make(map[uint64]struct{}, len(canonical))
	for _, blk := range canonical {
		keep[blk.BlockID] = struct{}{}
	}
	for _, id := range meta.BlockIDs {
		if _, ok := keep[id]; !ok {
			delete(s.blocks, id)
			s.dropBlock(id)
		}
	}

	meta.BlockIDs = meta.BlockIDs[:0]
	meta.TotalSize = 0
	for _, blk := range canonical {
		s.blocks[blk.BlockID] = blk
		meta.BlockIDs = append(meta.BlockIDs, blk.BlockID)
		meta.TotalSize += blk.Size()
		s.persistBlock(blk)
	}
	meta.Version = newVersion
	meta.LastModifiedMs = model.NowMs()

	s.persistMeta(*meta)
	return true
}

// Store bulk-installs a complete file, used for repair and transfer.
func (s *Store) Store(meta model.FileMetadata, blocks []model.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := meta.Clone()
	s.files[meta.Name] = &copied
	for _, blk := range blocks {
		s.blocks[blk.BlockID] = blk
		s.persistBlock(blk)
	}
	s.persistMeta(copied)
	return true
}

// Delete removes a file and drops its blocks.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists := s.files[name]
	if !exists {
		return false
	}
	for _, id := range meta.BlockIDs {
		delete(s.blocks, id)
		s.dropBlock(id)
	}
	delete(s.files, name)
	s.dropMeta(name)
	return true
}

// ClearAll wipes the store; used when the node rejoins under a new epoch.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = make(map[string]*model.FileMetadata)
	s.blocks = make(map[uint64]model.Block)
	if s.persist != nil {
		s.persist.enqueue(persistOp{kind: opPurge})
	}
}

// Close flushes the background writer.
func (s *Store) Close() {
	if s.persist != nil {
		s.persist.close()
	}
}

func (s *Store) persistMeta(meta model.FileMetadata) {
	if s.persist != nil {
		s.persist.enqueue(persistOp{kind: opMeta, meta: meta.Clone()})
	}
}

func (s *Store) persistBlock(blk model.Block) {
	if s.persist != nil {
		s.persist.enqueue(persistOp{kind: opBlock, block: blk})
	}
}

func (s *Store) dropMeta(name string) {
	if s.persist != nil {
		s.persist.enqueue(persistOp{kind: opDeleteMeta, name: name})
	}
}

func (s *Store) dropBlock(id uint64) {
	if s.persist != nil {
		s.persist.enqueue(persistOp{kind: opDeleteBlock, blockID: id})
	}
}
