// Package diag carries structured diagnostics from the archive core to
// whatever presents them.
package diag

import (
	"context"
	"log/slog"
	"sync"
)

// Kind classifies a diagnostic.
type Kind int

const (
	Critical Kind = iota
	Warning
	Memory
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Critical:
		return "critical"
	case Warning:
		return "warning"
	case Memory:
		return "memory"
	case Corruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// NoIndex marks a Context that does not refer to an entry.
const NoIndex = -1

// Context is the structured bag attached to a report. Zero-valued fields are
// treated as absent; Index uses NoIndex.
type Context struct {
	Source     string
	Operation  string
	Detail     string
	MemorySize uint64
	Index      int
	Filename   string
}

// For starts a Context for an operation on source.
func For(source, operation string) Context {
	return Context{Source: source, Operation: operation, Index: NoIndex}
}

func (c Context) WithDetail(detail string) Context {
	c.Detail = detail
	return c
}

func (c Context) WithMemory(n uint64) Context {
	c.MemorySize = n
	return c
}

func (c Context) WithEntry(index int, filename string) Context {
	c.Index = index
	c.Filename = filename
	return c
}

// HasIndex reports whether the context refers to a specific entry.
func (c Context) HasIndex() bool { return c.Index >= 0 }

// Reporter receives diagnostics. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(kind Kind, c Context)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(kind Kind, c Context)

func (f ReporterFunc) Report(kind Kind, c Context) { f(kind, c) }

// Discard drops every report.
var Discard Reporter = ReporterFunc(func(Kind, Context) {})

// LogReporter writes one slog record per report.
type LogReporter struct {
	Logger *slog.Logger
}

// NewLogReporter returns a reporter on l, or on slog.Default when l is nil.
func NewLogReporter(l *slog.Logger) *LogReporter {
	if l == nil {
		l = slog.Default()
	}
	return &LogReporter{Logger: l}
}

func (r *LogReporter) Report(kind Kind, c Context) {
	title, _ := Render(kind, c)
	r.Logger.LogAttrs(context.Background(), levelFor(kind), title, Attrs(kind, c)...)
}

// Attrs flattens a report into slog attributes, omitting empty fields.
func Attrs(kind Kind, c Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("kind", kind.String())}
	if c.Source != "" {
		attrs = append(attrs, slog.String("source", c.Source))
	}
	if c.Operation != "" {
		attrs = append(attrs, slog.String("operation", c.Operation))
	}
	if c.Detail != "" {
		attrs = append(attrs, slog.String("detail", c.Detail))
	}
	if c.MemorySize > 0 {
		attrs = append(attrs, slog.Uint64("memory_size", c.MemorySize))
	}
	if c.HasIndex() {
		attrs = append(attrs, slog.Int("index", c.Index))
	}
	if c.Filename != "" {
		attrs = append(attrs, slog.String("filename", c.Filename))
	}
	return attrs
}

func levelFor(kind Kind) slog.Level {
	if kind == Critical {
		return slog.LevelError
	}
	return slog.LevelWarn
}

// Report is one recorded diagnostic.
type Report struct {
	Kind    Kind
	Context Context
}

// Recorder keeps every report in memory, optionally forwarding to Next.
type Recorder struct {
	Next Reporter

	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(kind Kind, c Context) {
	r.mu.Lock()
	r.reports = append(r.reports, Report{Kind: kind, Context: c})
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Report(kind, c)
	}
}

// Reports returns a snapshot of everything recorded so far.
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Count returns how many reports of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rep := range r.reports {
		if rep.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.reports = nil
	r.mu.Unlock()
}
