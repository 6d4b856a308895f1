package session

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_UnderCapacity(t *testing.T) {
	h := NewHistory(16)
	h.Write([]byte("abc"))
	h.Write([]byte("def"))
	assert.Equal(t, "abcdef", string(h.Bytes()))
	assert.Equal(t, uint64(6), h.Total())
}

func TestHistory_Wraps(t *testing.T) {
	h := NewHistory(8)
	h.Write([]byte("012345"))
	h.Write([]byte("6789"))
	assert.Equal(t, "23456789", string(h.Bytes()))
	assert.Equal(t, uint64(10), h.Total())

	h.Write([]byte("ab"))
	assert.Equal(t, "456789ab", string(h.Bytes()))
}

func TestHistory_ExactFill(t *testing.T) {
	h := NewHistory(4)
	h.Write([]byte("ab"))
	h.Write([]byte("cd"))
	assert.Equal(t, "abcd", string(h.Bytes()))
	h.Write([]byte("e"))
	assert.Equal(t, "bcde", string(h.Bytes()))
}

func TestHistory_OversizedWrite(t *testing.T) {
	h := NewHistory(4)
	h.Write([]byte("x"))
	h.Write([]byte("0123456789"))
	assert.Equal(t, "6789", string(h.Bytes()))
	assert.Equal(t, uint64(11), h.Total())
}

func TestHistory_Empty(t *testing.T) {
	h := NewHistory(0)
	assert.Empty(t, h.Bytes())
	h.Write(nil)
	assert.Empty(t, h.Bytes())
}

func TestHistory_BytesIsCopy(t *testing.T) {
	h := NewHistory(8)
	h.Write([]byte("abc"))
	out := h.Bytes()
	out[0] = 'X'
	assert.Equal(t, "abc", string(h.Bytes()))
}

func TestHistory_Concurrent(t *testing.T) {
	h := NewHistory(1024)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Write(bytes.Repeat([]byte{'z'}, 10))
				_ = h.Bytes()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), h.Total())
	assert.Equal(t, bytes.Repeat([]byte{'z'}, 1024), h.Bytes())
}
