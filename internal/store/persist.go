package store

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/FraMan97/hydfs/internal/model"
	"github.com/FraMan97/hydfs/internal/wire"
)

// Disk layout: <dir>/metadata/<name>.meta and <dir>/blocks/<id>.blk, each
// holding the entity's wire encoding.

type opKind int

const (
	opMeta opKind = iota
	opBlock
	opDeleteMeta
	opDeleteBlock
	opPurge
)

type persistOp struct {
	kind    opKind
	meta    model.FileMetadata
	block   model.Block
	name    string
	blockID uint64
}

// persister serializes entities to disk from its own goroutine. The store
// enqueues after the in-memory mutation commits, so readers never wait on
// the filesystem.
type persister struct {
	dir  string
	ops  chan persistOp
	done chan struct{}
}

func newPersister(dir string) (*persister, error) {
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "blocks"), 0o755); err != nil {
		return nil, err
	}
	p := &persister{
		dir:  dir,
		ops:  make(chan persistOp, 1024),
		done: make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *persister) enqueue(op persistOp) {
	select {
	case p.ops <- op:
	default:
		// Writer is saturated; drop the oldest pending write in favor of the
		// newest. Replay tolerates a missing block by skipping the file.
		select {
		case <-p.ops:
		default:
		}
		p.ops <- op
	}
}

func (p *persister) close() {
	close(p.ops)
	<-p.done
}

func (p *persister) run() {
	defer close(p.done)
	for op := range p.ops {
		switch op.kind {
		case opMeta:
			p.write(p.metaPath(op.meta.Name), wire.EncodeMetadata(op.meta))
		case opBlock:
			p.write(p.blockPath(op.block.BlockID), wire.EncodeBlock(op.block))
		case opDeleteMeta:
			p.remove(p.metaPath(op.name))
		case opDeleteBlock:
			p.remove(p.blockPath(op.blockID))
		case opPurge:
			p.purge()
		}
	}
}

func (p *persister) write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[FileStore] - Failed to persist %s: %v\n", path, err)
	}
}

func (p *persister) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[FileStore] - Failed to remove %s: %v\n", path, err)
	}
}

func (p *persister) purge() {
	for _, sub := range []string{"metadata", "blocks"} {
		dir := filepath.Join(p.dir, sub)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[FileStore] - Failed to purge %s: %v\n", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[FileStore] - Failed to recreate %s: %v\n", dir, err)
		}
	}
}

// replay loads every metadata file and the blocks each references. Files
// whose blocks are incomplete on disk are skipped rather than served with
// holes.
func (p *persister) replay() (map[string]model.FileMetadata, map[uint64]model.Block, error) {
	metas := make(map[string]model.FileMetadata)
	blocks := make(map[uint64]model.Block)

	entries, err := os.ReadDir(filepath.Join(p.dir, "metadata"))
	if err != nil {
		if os.IsNotExist(err) {
			return metas, blocks, nil
		}
		return nil, nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(p.dir, "metadata", entry.Name()))
		if err != nil {
			log.Printf("[FileStore] - Failed to read %s: %v\n", entry.Name(), err)
			continue
		}
		meta, err := wire.DecodeMetadata(raw)
		if err != nil {
			log.Printf("[FileStore] - Corrupt metadata %s: %v\n", entry.Name(), err)
			continue
		}

		complete := true
		loaded := make([]model.Block, 0, len(meta.BlockIDs))
		for _, id := range meta.BlockIDs {
			if _, ok := blocks[id]; ok {
				continue
			}
			raw, err := os.ReadFile(p.blockPath(id))
			if err != nil {
				complete = false
				break
			}
			blk, err := wire.DecodeBlock(raw)
			if err != nil {
				complete = false
				break
			}
			loaded = append(loaded, blk)
		}
		if !complete {
			log.Printf("[FileStore] - Skipping %s at replay: missing block(s)\n", meta.Name)
			continue
		}
		for _, blk := range loaded {
			blocks[blk.BlockID] = blk
		}
		metas[meta.Name] = meta
	}
	return metas, blocks, nil
}

func (p *persister) metaPath(name string) string {
	return filepath.Join(p.dir, "metadata", name+".meta")
}

func (p *persister) blockPath(id uint64) string {
	return filepath.Join(p.dir, "blocks", strconv.FormatUint(id, 10)+".blk")
}
