package memguard

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islishude/mangaview/internal/diag"
)

func statsOf(available uint64) Stats {
	return func() (uint64, uint64, error) { return available, available * 2, nil }
}

func TestCeilingAlwaysRejects(t *testing.T) {
	rec := &diag.Recorder{}
	g := New(WithStats(statsOf(1<<40)), WithReporter(rec))
	assert.False(t, g.IsSafeToAllocate(200*1024*1024+1))
	assert.True(t, g.IsSafeToAllocate(200*1024*1024))
	require.Equal(t, 1, rec.Count(diag.Memory))
	assert.Equal(t, "Size Check", rec.Reports()[0].Context.Operation)
}

func TestFloorBoundary(t *testing.T) {
	g := New(WithStats(statsOf(DefaultMinFreeBytes + 1)))
	assert.True(t, g.IsSafeToAllocate(1))
	assert.False(t, g.IsSafeToAllocate(2))

	low := New(WithStats(statsOf(100)))
	assert.False(t, low.IsSafeToAllocate(1))
}

func TestStatsUnavailableUsesCeilingOnly(t *testing.T) {
	g := New(WithStats(func() (uint64, uint64, error) { return 0, 0, errors.New("no /proc") }))
	assert.True(t, g.IsSafeToAllocate(100<<20))
	assert.False(t, g.IsSafeToAllocate(DefaultMaxImageBytes+1))
}

func TestAllocate(t *testing.T) {
	rec := &diag.Recorder{}
	g := New(WithStats(statsOf(1<<40)), WithReporter(rec), WithLimits(1024, 0)).ForSource("/books/a.cbz")

	buf, err := g.Allocate(1024)
	require.NoError(t, err)
	assert.Len(t, buf, 1024)

	buf, err = g.Allocate(1025)
	require.ErrorIs(t, err, diag.ErrMemoryExhausted)
	assert.Nil(t, buf)
	require.Len(t, rec.Reports(), 1)
	assert.Equal(t, "/books/a.cbz", rec.Reports()[0].Context.Source)
	assert.Equal(t, uint64(1025), rec.Reports()[0].Context.MemorySize)
}

func TestAllocateLengthOutOfRange(t *testing.T) {
	g := New(WithStats(statsOf(math.MaxUint64)), WithLimits(math.MaxUint64, 0))
	buf, err := g.Allocate(1 << 62)
	require.ErrorIs(t, err, diag.ErrMemoryExhausted)
	assert.Nil(t, buf)
}

func TestSystemStats(t *testing.T) {
	available, total, err := SystemStats()
	if err != nil {
		t.Skipf("memory statistics unavailable: %v", err)
	}
	assert.LessOrEqual(t, available, total)
}
