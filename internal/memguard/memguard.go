// Package memguard approves or rejects large buffer allocations based on a
// per-image ceiling and the memory currently available on the host.
package memguard

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/islishude/mangaview/internal/diag"
)

const (
	DefaultMaxImageBytes uint64 = 200 << 20
	DefaultMinFreeBytes  uint64 = 500 << 20
)

// Stats reports available and total system memory in bytes.
type Stats func() (available, total uint64, err error)

// SystemStats reads live figures through gopsutil.
func SystemStats() (available, total uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Available, vm.Total, nil
}

type Guard struct {
	maxImage uint64
	minFree  uint64
	stats    Stats
	reporter diag.Reporter
	source   string
}

type Option func(*Guard)

// WithLimits overrides the per-image ceiling and the free-memory floor.
func WithLimits(maxImage, minFree uint64) Option {
	return func(g *Guard) {
		g.maxImage = maxImage
		g.minFree = minFree
	}
}

// WithStats replaces the memory statistics source.
func WithStats(s Stats) Option {
	return func(g *Guard) { g.stats = s }
}

func WithReporter(r diag.Reporter) Option {
	return func(g *Guard) {
		if r != nil {
			g.reporter = r
		}
	}
}

func New(opts ...Option) *Guard {
	g := &Guard{
		maxImage: DefaultMaxImageBytes,
		minFree:  DefaultMinFreeBytes,
		stats:    SystemStats,
		reporter: diag.Discard,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ForSource returns a copy of g whose diagnostics name source.
func (g *Guard) ForSource(source string) *Guard {
	c := *g
	c.source = source
	return &c
}

// IsSafeToAllocate rejects n above the per-image ceiling, or when it would
// leave less than the floor available. When statistics cannot be read only
// the ceiling applies. Every rejection emits a Memory diagnostic.
func (g *Guard) IsSafeToAllocate(n uint64) bool {
	if n > g.maxImage {
		g.reporter.Report(diag.Memory, diag.For(g.source, "Size Check").WithMemory(n).
			WithDetail(fmt.Sprintf("image size exceeds the %s per-image limit", diag.FormatBytes(g.maxImage))))
		return false
	}
	available, total, err := g.stats()
	if err != nil {
		return true
	}
	if available < n || available-n < g.minFree {
		g.reporter.Report(diag.Memory, diag.For(g.source, "Memory Check").WithMemory(n).
			WithDetail(fmt.Sprintf("available %s of %s, must keep %s free",
				diag.FormatBytes(available), diag.FormatBytes(total), diag.FormatBytes(g.minFree))))
		return false
	}
	return true
}

// Allocate returns a zeroed buffer of n bytes, or an error wrapping
// diag.ErrMemoryExhausted without allocating when the guard refuses. A length
// beyond what make accepts is reported the same way. A genuine out-of-memory
// inside make is fatal to the process and cannot be turned into an error.
func (g *Guard) Allocate(n uint64) (buf []byte, err error) {
	if !g.IsSafeToAllocate(n) {
		return nil, fmt.Errorf("allocate %d bytes: %w", n, diag.ErrMemoryExhausted)
	}
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("allocate %d bytes: %v: %w", n, r, diag.ErrMemoryExhausted)
		}
	}()
	return make([]byte, n), nil
}
