package nav

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/islishude/mangaview/internal/diag"
)

func TestLock(t *testing.T) {
	var l Lock
	ui := &BlockingContext{}
	assert.True(t, l.Allowed(ui))
	assert.True(t, l.Allowed(nil))

	assert.True(t, l.Acquire("Loading Images"))
	assert.False(t, l.Acquire("Opening Folder"))
	assert.True(t, l.Locked())
	assert.Equal(t, "Loading Images", l.Operation())
	assert.False(t, l.Allowed(ui))

	l.Release()
	assert.False(t, l.Locked())
	assert.Empty(t, l.Operation())

	assert.True(t, l.Acquire("stuck"))
	assert.Equal(t, "stuck", l.ForceRelease())
	assert.True(t, l.Allowed(ui))
}

func TestLockConcurrentAcquire(t *testing.T) {
	var l Lock
	var wins sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 32; i++ {
		wins.Add(1)
		go func() {
			defer wins.Done()
			if l.Acquire("batch") {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wins.Wait()
	assert.Equal(t, 1, won)
}

func TestBlockingContext(t *testing.T) {
	var l Lock
	ui := &BlockingContext{}
	end := ui.Begin()
	assert.True(t, ui.Active())
	assert.False(t, l.Allowed(ui))
	end()
	end()
	assert.False(t, ui.Active())

	var during bool
	r := BlockingReporter{UI: ui, Next: diag.ReporterFunc(func(diag.Kind, diag.Context) {
		during = ui.Active()
	})}
	r.Report(diag.Warning, diag.For("/a.cbz", "Open"))
	assert.True(t, during)
	assert.False(t, ui.Active())
}
