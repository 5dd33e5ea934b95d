package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIdEqualityAndString(t *testing.T) {
	a := NodeId{Host: "localhost", Port: "12345", Epoch: 100}
	b := NodeId{Host: "localhost", Port: "12345", Epoch: 100}
	c := NodeId{Host: "localhost", Port: "12345", Epoch: 101}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "different epoch means different incarnation")
	assert.Equal(t, "localhost:12345:100", a.String())
	assert.Equal(t, "localhost:12345", a.Address())
}

func TestHashDeterminism(t *testing.T) {
	assert.Equal(t, Hash64([]byte("x")), Hash64([]byte("x")))
	assert.NotEqual(t, Hash64([]byte("x")), Hash64([]byte("y")))

	a := NodeId{Host: "h", Port: "1", Epoch: 5}
	assert.Equal(t, a.Position(), a.Position())
	assert.Equal(t, FilePosition("f"), Hash64([]byte("f")))
}

func TestBlockIDDerivation(t *testing.T) {
	id1 := GenerateBlockID("c", 1000, 0)
	id2 := GenerateBlockID("c", 1000, 1)
	id3 := GenerateBlockID("c", 1001, 0)
	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id1, id3)

	b := NewBlock("c", 3, []byte("data"))
	assert.Equal(t, GenerateBlockID("c", b.Timestamp, 3), b.BlockID)
	assert.Equal(t, uint64(4), b.Size())
}

func TestParseAddress(t *testing.T) {
	host, port, err := ParseAddress("localhost:12345")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, "12345", port)

	for _, bad := range []string{"nohost", ":123", "host:", ""} {
		_, _, err := ParseAddress(bad)
		assert.Error(t, err, "address %q", bad)
	}
}
