// Package cache holds the node's client-local files: payloads staged for
// create/append and the results of get. A go-cache tier serves reads; bolt
// keeps the files across restarts.
package cache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/boltdb/bolt"
	gocache "github.com/patrickmn/go-cache"
)

const localFilesBucket = "localfiles"

type LocalCache struct {
	mem *gocache.Cache
	db  *bolt.DB
}

// Open loads the bolt-backed cache under dir and preloads every file found
// in seedDir (test payloads staged next to the binary).
func Open(dir, seedDir string) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, "localfiles.db"), 0o600, &bolt.Options{})
	if err != nil {
		return nil, err
	}
	if err := ensureBucket(db, localFilesBucket); err != nil {
		db.Close()
		return nil, err
	}

	c := &LocalCache{
		mem: gocache.New(gocache.NoExpiration, 0),
		db:  db,
	}

	loaded := 0
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(localFilesBucket))
		return b.ForEach(func(k, v []byte) error {
			data := make([]byte, len(v))
			copy(data, v)
			c.mem.Set(string(k), data, gocache.NoExpiration)
			loaded++
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if loaded > 0 {
		log.Printf("[LocalCache] - Loaded %d file(s) from bolt\n", loaded)
	}

	c.preloadSeed(seedDir)
	return c, nil
}

func ensureBucket(db *bolt.DB, name string) error {
	return db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (c *LocalCache) preloadSeed(seedDir string) {
	if seedDir == "" {
		return
	}
	entries, err := os.ReadDir(seedDir)
	if err != nil {
		log.Printf("[LocalCache] - No seed directory %q, starting with stored files only\n", seedDir)
		return
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(seedDir, entry.Name()))
		if err != nil {
			continue
		}
		if err := c.Put(entry.Name(), data); err != nil {
			log.Printf("[LocalCache] - Failed to store seed file %s: %v\n", entry.Name(), err)
			continue
		}
		loaded++
	}
	log.Printf("[LocalCache] - Preloaded %d file(s) from %s\n", loaded, seedDir)
}

// Get returns the cached contents of name.
func (c *LocalCache) Get(name string) ([]byte, bool) {
	if v, ok := c.mem.Get(name); ok {
		return v.([]byte), true
	}
	return nil, false
}

// Put stores name in memory and bolt.
func (c *LocalCache) Put(name string, data []byte) error {
	c.mem.Set(name, data, gocache.NoExpiration)
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(localFilesBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", localFilesBucket)
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("persist local file %q: %w", name, err)
	}
	return nil
}

// Delete removes name from both tiers.
func (c *LocalCache) Delete(name string) error {
	c.mem.Delete(name)
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(localFilesBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", localFilesBucket)
		}
		return b.Delete([]byte(name))
	})
}

// List returns the cached file names, sorted.
func (c *LocalCache) List() []string {
	items := c.mem.Items()
	out := make([]string, 0, len(items))
	for name := range items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Size returns the byte size of a cached file.
func (c *LocalCache) Size(name string) uint64 {
	if data, ok := c.Get(name); ok {
		return uint64(len(data))
	}
	return 0
}

func (c *LocalCache) Close() error {
	return c.db.Close()
}
