package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing(t *testing.T) {
	r := newRing(8)
	assert.Equal(t, 8, r.free())

	assert.Equal(t, 5, r.write([]byte("hello")))
	assert.Equal(t, 3, r.write([]byte("world")))
	assert.Equal(t, 0, r.free())
	assert.Equal(t, 0, r.write([]byte("x")))

	out := make([]byte, 6)
	assert.Equal(t, 6, r.read(out))
	assert.Equal(t, "hellow", string(out))

	// Wraps around the end of the buffer.
	assert.Equal(t, 5, r.write([]byte("12345")))
	assert.Equal(t, 7, r.len())

	out = make([]byte, 16)
	n := r.read(out)
	assert.Equal(t, "or12345", string(out[:n]))
	assert.Equal(t, 0, r.len())
	assert.Equal(t, 0, r.read(out))

	r.write([]byte("abc"))
	r.reset()
	assert.Equal(t, 8, r.free())
}
