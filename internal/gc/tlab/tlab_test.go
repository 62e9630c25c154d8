package tlab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTLAB_AllocateAndRetire(t *testing.T) {
	var buf TLAB
	assert.False(t, buf.IsActive())

	buf.Fill(0x1000, 0x1100)
	assert.True(t, buf.IsActive())

	p1 := buf.Allocate(64)
	p2 := buf.Allocate(64)
	assert.Equal(t, uintptr(0x1000), p1)
	assert.Equal(t, uintptr(0x1040), p2)
	assert.Equal(t, uintptr(128), buf.Used())
	assert.Equal(t, uintptr(128), buf.Unused())

	// Window exhausted.
	assert.Zero(t, buf.Allocate(256))

	var stats AllocStats
	buf.Retire(&stats)
	assert.False(t, buf.IsActive())
	assert.Equal(t, uint64(1), stats.Retires)
	assert.Equal(t, uint64(128), stats.AllocatedBytes)
	assert.Equal(t, uint64(128), stats.UnusedBytes)

	// Retiring an inactive TLAB changes nothing.
	buf.Retire(&stats)
	assert.Equal(t, uint64(1), stats.Retires)
}

func TestAllocStats_Update(t *testing.T) {
	a := AllocStats{Retires: 1, AllocatedBytes: 10, UnusedBytes: 2}
	b := AllocStats{Retires: 2, AllocatedBytes: 5, UnusedBytes: 1}
	a.Update(b)
	assert.Equal(t, AllocStats{Retires: 3, AllocatedBytes: 15, UnusedBytes: 3}, a)

	a.Reset()
	assert.Equal(t, AllocStats{}, a)
}
