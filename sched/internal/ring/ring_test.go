package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumTracksRecentWindow(t *testing.T) {
	b := New(3)
	b.Add(1)
	b.Add(2)
	b.Add(3)
	assert.Equal(t, int64(6), b.Sum())

	b.Add(4) // evicts the 1
	assert.Equal(t, int64(9), b.Sum())
	assert.Equal(t, 3, b.Len())
}

func TestEmptyBufferSumsZero(t *testing.T) {
	b := New(4)
	assert.Equal(t, int64(0), b.Sum())
	assert.Equal(t, 0, b.Len())
}
