package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetList(t *testing.T) {
	c, err := Open(t.TempDir(), "")
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	require.NoError(t, c.Put("a.txt", []byte("hello")))
	data, ok := c.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, uint64(5), c.Size("a.txt"))

	require.NoError(t, c.Put("b.txt", []byte("x")))
	assert.Equal(t, []string{"a.txt", "b.txt"}, c.List())

	require.NoError(t, c.Delete("a.txt"))
	_, ok = c.Get("a.txt")
	assert.False(t, ok)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, c.Put("kept.txt", []byte("payload")))
	require.NoError(t, c.Close())

	reopened, err := Open(dir, "")
	require.NoError(t, err)
	defer reopened.Close()

	data, ok := reopened.Get("kept.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestSeedPreload(t *testing.T) {
	seed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seed, "seeded.txt"), []byte("seed data"), 0o644))

	c, err := Open(t.TempDir(), seed)
	require.NoError(t, err)
	defer c.Close()

	data, ok := c.Get("seeded.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("seed data"), data)
}
