package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackThenDropClearsLeak(t *testing.T) {
	tr := New()
	h := tr.Track(0x1000, 16)
	assert.Empty(t, tr.Leaks())
	tr.Drop(h)
	assert.Empty(t, tr.Leaks())
}

func TestUndroppedAllocationLeaks(t *testing.T) {
	tr := New()
	h := tr.Track(0x2000, 8)
	leaks := tr.Leaks()
	if assert.Len(t, leaks, 1) {
		assert.Equal(t, h, leaks[0].Handle)
	}
}

func TestDoubleTrackSameLiveAddrPanics(t *testing.T) {
	tr := New()
	tr.Track(0x3000, 4)
	assert.Panics(t, func() { tr.Track(0x3000, 4) })
}

func TestTrackSameAddrAfterDropSucceeds(t *testing.T) {
	tr := New()
	h1 := tr.Track(0x4000, 4)
	tr.Drop(h1)
	assert.NotPanics(t, func() { tr.Track(0x4000, 4) })
}

func TestDropUntrackedPanics(t *testing.T) {
	tr := New()
	assert.Panics(t, func() { tr.Drop(0) })
}

func TestDoubleDropPanics(t *testing.T) {
	tr := New()
	h := tr.Track(0x5000, 4)
	tr.Drop(h)
	assert.Panics(t, func() { tr.Drop(h) })
}

func TestTypedAllocationZeroAddrDoesNotCollide(t *testing.T) {
	tr := New()
	tr.Track(0, 8)
	tr.Track(0, 8)
	assert.Len(t, tr.Leaks(), 2, "zero-addr typed allocations never trip the double-track check")
}
