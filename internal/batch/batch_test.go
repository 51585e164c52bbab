package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/metrics"
	"github.com/islishude/mangaview/internal/nav"
	"github.com/islishude/mangaview/internal/source"
)

// fakeDispatcher fails names containing "bad", panics on "boom" and parks
// names containing "slow" until gate is closed.
type fakeDispatcher struct {
	gate  chan struct{}
	calls atomic.Int64
}

func (f *fakeDispatcher) Load(src source.Source) (*source.Loaded, error) {
	f.calls.Add(1)
	name := src.Name()
	if strings.Contains(name, "slow") {
		<-f.gate
	}
	switch {
	case strings.Contains(name, "boom"):
		panic("decoder exploded")
	case strings.Contains(name, "bad"):
		return nil, diag.ErrDecodeFailed
	}
	return &source.Loaded{Filename: name, Size: int64(len(name))}, nil
}

func files(names ...string) []source.Source {
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = "/lib/" + n
	}
	return source.Files(paths)
}

func waitDone(t *testing.T, b *Batch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

func TestPartition(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 10}}, partition(10, 3))
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}}, partition(2, 4))
	assert.Equal(t, [][2]int{{0, 7}}, partition(7, 1))
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 5}}, partition(5, 4))
}

func TestWorkersAreClamped(t *testing.T) {
	assert.LessOrEqual(t, NewLoader(&fakeDispatcher{}, WithWorkers(64)).Workers(), MaxWorkers)
	assert.Equal(t, 1, NewLoader(&fakeDispatcher{}, WithWorkers(0)).Workers())
	assert.Equal(t, 1, NewLoader(&fakeDispatcher{}, WithWorkers(-3)).Workers())
}

func TestBatchLoadsEverySlot(t *testing.T) {
	lock := &nav.Lock{}
	m := metrics.New()
	l := NewLoader(&fakeDispatcher{}, WithWorkers(4), WithNavLock(lock), WithMetrics(m))

	var doneCalls atomic.Int32
	b := l.Start(files("01.png", "02.png", "03.png", "04.png", "05.png", "06.png", "07.png"), func() {
		doneCalls.Add(1)
	})
	waitDone(t, b)

	assert.True(t, b.Complete())
	done, total := b.Progress()
	assert.Equal(t, 7, done)
	assert.Equal(t, 7, total)
	assert.Empty(t, b.Failed())
	assert.EqualValues(t, 1, doneCalls.Load())
	assert.False(t, lock.Locked())
	assert.NotEmpty(t, b.ID())

	s, ok := b.Slot(4)
	require.True(t, ok)
	assert.True(t, s.Loaded)
	assert.Equal(t, "05.png", s.Filename)
}

func TestFailuresAreIsolated(t *testing.T) {
	l := NewLoader(&fakeDispatcher{}, WithWorkers(2))
	b := l.Start(files("01.png", "bad.png", "boom.png", "04.png"), nil)
	waitDone(t, b)

	done, total := b.Progress()
	assert.Equal(t, total, done)
	assert.Equal(t, []int{1, 2}, b.Failed())

	s, _ := b.Slot(3)
	assert.True(t, s.Loaded)
	s, _ = b.Slot(2)
	assert.False(t, s.Loaded)
	assert.Nil(t, s.Image)
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	lock := &nav.Lock{}
	called := false
	b := NewLoader(&fakeDispatcher{}, WithNavLock(lock)).Start(nil, func() { called = true })
	assert.True(t, b.Complete())
	assert.True(t, called)
	assert.False(t, lock.Locked())
	done, total := b.Progress()
	assert.Zero(t, done)
	assert.Zero(t, total)
}

func TestOnDoneMayReenterLoader(t *testing.T) {
	l := NewLoader(&fakeDispatcher{})
	var (
		seen *Batch
		next *Batch
	)
	returned := make(chan *Batch)
	go func() {
		returned <- l.Start(nil, func() {
			seen = l.Current()
			next = l.Start(files("01.png"), nil)
		})
	}()

	var b *Batch
	select {
	case b = <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return when onDone used the loader")
	}
	assert.Same(t, b, seen)
	require.NotNil(t, next)
	waitDone(t, next)
	assert.Same(t, next, l.Current())
	require.NoError(t, l.Drain(context.Background()))
}

func TestLockHeldWhileRunning(t *testing.T) {
	d := &fakeDispatcher{gate: make(chan struct{})}
	lock := &nav.Lock{}
	l := NewLoader(d, WithNavLock(lock))
	b := l.Start(files("slow.png", "02.png"), nil)

	assert.True(t, lock.Locked())
	assert.Equal(t, LockOperation, lock.Operation())
	assert.False(t, lock.Allowed(nil))
	assert.False(t, b.Complete())

	close(d.gate)
	waitDone(t, b)
	assert.False(t, lock.Locked())
}

func TestStartDrainsPreviousBatch(t *testing.T) {
	first := &fakeDispatcher{gate: make(chan struct{})}
	l := NewLoader(first, WithWorkers(1))
	b1 := l.Start(files("slow.png", "02.png"), nil)

	started := make(chan *Batch)
	go func() { started <- l.Start(files("03.png"), nil) }()

	select {
	case <-started:
		t.Fatal("second batch started before the first drained")
	case <-time.After(50 * time.Millisecond):
	}

	close(first.gate)
	var b2 *Batch
	select {
	case b2 = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("second batch never started")
	}
	assert.True(t, b1.Complete())
	waitDone(t, b2)
	assert.NotEqual(t, b1.ID(), b2.ID())
	assert.Same(t, b2, l.Current())
}

func TestImageFallsBackToSyncDecode(t *testing.T) {
	d := &fakeDispatcher{gate: make(chan struct{})}
	l := NewLoader(d, WithWorkers(1))
	b := l.Start(files("slow.png", "02.png"), nil)

	// The single worker is parked on slot 0, so slot 1 cannot be ready yet.
	img, err := b.Image(1)
	require.NoError(t, err)
	assert.Equal(t, "02.png", img.Filename)

	s, _ := b.Slot(1)
	assert.False(t, s.Loaded)

	close(d.gate)
	waitDone(t, b)
	img, err = b.Image(1)
	require.NoError(t, err)
	assert.Equal(t, "02.png", img.Filename)

	_, err = b.Image(9)
	assert.True(t, errors.Is(err, diag.ErrInvalidIndex))
}

func TestWaitHonoursContext(t *testing.T) {
	d := &fakeDispatcher{gate: make(chan struct{})}
	l := NewLoader(d)
	b := l.Start(files("slow.png"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
	assert.ErrorIs(t, l.Drain(ctx), context.Canceled)
	close(d.gate)
	require.NoError(t, l.Drain(context.Background()))
}

func TestProgressIsMonotonic(t *testing.T) {
	names := make([]string, 40)
	for i := range names {
		names[i] = "p.png"
	}
	b := NewLoader(&fakeDispatcher{}, WithWorkers(4)).Start(files(names...), nil)

	var (
		mu   sync.Mutex
		seen []int
	)
	for !b.Complete() {
		d, _ := b.Progress()
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	}
	waitDone(t, b)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	d, total := b.Progress()
	assert.Equal(t, total, d)
}
