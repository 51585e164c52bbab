// Package batch decodes every image of a folder or archive in the background
// on a small worker pool while the foreground keeps browsing.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/metrics"
	"github.com/islishude/mangaview/internal/nav"
	"github.com/islishude/mangaview/internal/source"
)

// MaxWorkers bounds the pool regardless of configuration.
const MaxWorkers = 4

// LockOperation is the navigation lock holder name while a batch runs.
const LockOperation = "Loading Images"

// Dispatcher decodes one source.
type Dispatcher interface {
	Load(src source.Source) (*source.Loaded, error)
}

// Slot is one result cell. Loaded stays false when decoding failed.
type Slot struct {
	Image    *source.Loaded
	Filename string
	Size     int64
	Loaded   bool
}

type Loader struct {
	disp    Dispatcher
	workers int
	lock    *nav.Lock
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	current *Batch
}

type Option func(*Loader)

// WithWorkers caps the pool; the effective size never exceeds MaxWorkers or
// the CPU count.
func WithWorkers(n int) Option { return func(l *Loader) { l.workers = n } }

func WithNavLock(lock *nav.Lock) Option { return func(l *Loader) { l.lock = lock } }

func WithMetrics(m *metrics.Metrics) Option { return func(l *Loader) { l.metrics = m } }

func WithLogger(log *slog.Logger) Option { return func(l *Loader) { l.log = log } }

func NewLoader(d Dispatcher, opts ...Option) *Loader {
	l := &Loader{disp: d, workers: MaxWorkers}
	for _, o := range opts {
		o(l)
	}
	l.workers = max(1, min(l.workers, MaxWorkers, runtime.NumCPU()))
	if l.log == nil {
		l.log = slog.Default()
	}
	return l
}

// Workers reports the effective pool size.
func (l *Loader) Workers() int { return l.workers }

// Start waits for the previous batch to drain, then decodes sources in the
// background. onDone, if set, runs once after the last slot is settled and
// the navigation lock is released. onDone may call back into the Loader.
func (l *Loader) Start(sources []source.Source, onDone func()) *Batch {
	l.mu.Lock()
	if prev := l.current; prev != nil {
		<-prev.finished
	}

	b := &Batch{
		id:       uuid.New(),
		sources:  sources,
		disp:     l.disp,
		metrics:  l.metrics,
		log:      l.log,
		slots:    make([]Slot, len(sources)),
		finished: make(chan struct{}),
		onDone:   onDone,
	}
	if l.lock != nil && l.lock.Acquire(LockOperation) {
		b.lock = l.lock
	}
	l.current = b
	l.mu.Unlock()

	b.run(l.workers)
	return b
}

// Current returns the most recently started batch, or nil.
func (l *Loader) Current() *Batch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Drain blocks until the current batch, if any, has finished.
func (l *Loader) Drain(ctx context.Context) error {
	if b := l.Current(); b != nil {
		return b.Wait(ctx)
	}
	return nil
}

// Batch is one in-flight or finished run. Slots are written once by workers
// and read by anyone.
type Batch struct {
	id      uuid.UUID
	sources []source.Source
	disp    Dispatcher
	metrics *metrics.Metrics
	log     *slog.Logger
	lock    *nav.Lock
	onDone  func()

	mu       sync.Mutex
	slots    []Slot
	progress atomic.Int64
	finished chan struct{}
}

func (b *Batch) ID() string { return b.id.String() }

func (b *Batch) Len() int { return len(b.sources) }

// Progress reports settled slots, successful or not, against the total.
func (b *Batch) Progress() (done, total int) {
	return int(b.progress.Load()), len(b.sources)
}

func (b *Batch) Complete() bool {
	select {
	case <-b.finished:
		return true
	default:
		return false
	}
}

// Done is closed when every worker has finished.
func (b *Batch) Done() <-chan struct{} { return b.finished }

func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Slot returns a copy of slot i.
func (b *Batch) Slot(i int) (Slot, bool) {
	if i < 0 || i >= len(b.sources) {
		return Slot{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[i], true
}

// Failed lists the slots that did not load. It is only final once Complete.
func (b *Batch) Failed() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int
	for i, s := range b.slots {
		if !s.Loaded {
			out = append(out, i)
		}
	}
	return out
}

// Image returns slot i when it is ready and otherwise decodes that one
// source synchronously without touching the slot.
func (b *Batch) Image(i int) (*source.Loaded, error) {
	s, ok := b.Slot(i)
	if !ok {
		return nil, fmt.Errorf("slot %d: %w", i, diag.ErrInvalidIndex)
	}
	if s.Loaded {
		return s.Image, nil
	}
	return b.disp.Load(b.sources[i])
}

func (b *Batch) run(workers int) {
	n := len(b.sources)
	if n == 0 {
		b.finish()
		return
	}
	var g errgroup.Group
	for _, r := range partition(n, workers) {
		g.Go(func() error {
			for i := r[0]; i < r[1]; i++ {
				b.loadOne(i)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		b.finish()
	}()
}

func (b *Batch) loadOne(i int) {
	loaded := false
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("batch worker recovered", "batch", b.id, "index", i, "panic", r)
		}
		b.metrics.BatchItem(loaded)
		b.progress.Add(1)
	}()

	l, err := b.disp.Load(b.sources[i])
	if err != nil {
		b.log.Debug("batch slot failed", "batch", b.id, "index", i, "error", err)
		return
	}
	b.mu.Lock()
	b.slots[i] = Slot{Image: l, Filename: l.Filename, Size: l.Size, Loaded: true}
	b.mu.Unlock()
	loaded = true
}

func (b *Batch) finish() {
	close(b.finished)
	if b.lock != nil {
		b.lock.Release()
	}
	if b.onDone != nil {
		b.onDone()
	}
}

// partition splits [0,n) into at most workers contiguous ranges; the last
// range takes the remainder.
func partition(n, workers int) [][2]int {
	workers = max(1, min(workers, n))
	per := n / workers
	out := make([][2]int, 0, workers)
	for k := range workers {
		start, end := k*per, (k+1)*per
		if k == workers-1 {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
