// Package nav holds the advisory state the foreground consults before it
// moves to another image or folder.
package nav

import (
	"sync"
	"sync/atomic"

	"github.com/islishude/mangaview/internal/diag"
)

// Lock is a cooperative navigation lock. Holding it does not block anyone;
// the foreground checks Allowed and refuses to navigate while it is held.
type Lock struct {
	mu        sync.Mutex
	locked    bool
	operation string
}

// Acquire takes the lock for operation. It returns false when it is already held.
func (l *Lock) Acquire(operation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return false
	}
	l.locked = true
	l.operation = operation
	return true
}

func (l *Lock) Release() {
	l.mu.Lock()
	l.locked = false
	l.operation = ""
	l.mu.Unlock()
}

// ForceRelease clears a lock whose holder never released it and reports the
// operation that held it.
func (l *Lock) ForceRelease() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	op := l.operation
	l.locked = false
	l.operation = ""
	return op
}

func (l *Lock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Operation names the current holder, or "" when unlocked.
func (l *Lock) Operation() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.operation
}

// Allowed reports whether navigation may proceed: the lock is free and no
// blocking dialog is showing. ui may be nil.
func (l *Lock) Allowed(ui *BlockingContext) bool {
	return !l.Locked() && !ui.Active()
}

// BlockingContext tracks blocking dialogs that are currently shown.
type BlockingContext struct {
	active atomic.Int32
}

// Begin marks a dialog as shown; the returned func marks it closed and is
// safe to call more than once.
func (c *BlockingContext) Begin() (end func()) {
	c.active.Add(1)
	var once sync.Once
	return func() { once.Do(func() { c.active.Add(-1) }) }
}

func (c *BlockingContext) Active() bool {
	return c != nil && c.active.Load() > 0
}

// BlockingReporter presents reports through Next while holding UI blocked,
// the way a modal dialog would.
type BlockingReporter struct {
	UI   *BlockingContext
	Next diag.Reporter
}

func (r BlockingReporter) Report(kind diag.Kind, c diag.Context) {
	end := r.UI.Begin()
	defer end()
	r.Next.Report(kind, c)
}
