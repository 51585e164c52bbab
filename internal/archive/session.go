// Package archive exposes a compressed container as an index-ordered list of
// images with cached, positional extraction.
//
// Container readers only move forward, so a cache miss reopens the container
// and counts image entries from the start until it reaches the requested one.
// Entries that fail once are remembered and refused until the session is
// closed and opened again.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/islishude/mangaview/internal/container"
	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/filetype"
	"github.com/islishude/mangaview/internal/memguard"
	"github.com/islishude/mangaview/internal/metrics"
	"github.com/islishude/mangaview/internal/pathlimit"
)

// All selects every slot in ClearCache.
const All = -1

// Entry is one image inside the container.
type Entry struct {
	// Name is the slash-separated path inside the container.
	Name  string
	Size  int64
	Index int
}

// Limits bounds the container structure and single entry size.
type Limits struct {
	MaxFolderDepth  int
	MaxInternalPath int
	MaxEntryBytes   int64
}

func DefaultLimits() Limits {
	return Limits{MaxFolderDepth: 5, MaxInternalPath: 150, MaxEntryBytes: 500 << 20}
}

type Session struct {
	fs       afero.Fs
	opts     container.Options
	limits   Limits
	policy   *pathlimit.Policy
	guard    *memguard.Guard
	reporter diag.Reporter
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu        sync.Mutex
	open      bool
	path      string
	handle    *container.Handle
	entryMem  *memguard.Guard
	entries   []Entry
	cache     [][]byte
	corrupted map[int]struct{}
}

type Option func(*Session)

func WithFs(fsys afero.Fs) Option { return func(s *Session) { s.fs = fsys } }

func WithContainerOptions(o container.Options) Option {
	return func(s *Session) { s.opts = o }
}

func WithLimits(l Limits) Option { return func(s *Session) { s.limits = l } }

func WithPathPolicy(p *pathlimit.Policy) Option { return func(s *Session) { s.policy = p } }

func WithMemoryGuard(g *memguard.Guard) Option { return func(s *Session) { s.guard = g } }

func WithReporter(r diag.Reporter) Option { return func(s *Session) { s.reporter = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// NewSession returns a closed session. Unset collaborators default to the OS
// filesystem, the system path probe, the live memory guard and slog.
func NewSession(opts ...Option) *Session {
	s := &Session{
		fs:        afero.NewOsFs(),
		limits:    DefaultLimits(),
		corrupted: map[int]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.reporter == nil {
		s.reporter = diag.NewLogReporter(s.log)
	}
	if s.policy == nil {
		s.policy = pathlimit.New(s.reporter)
	}
	if s.guard == nil {
		s.guard = memguard.New(memguard.WithReporter(s.reporter))
	}
	return s
}

// Open replaces the current container with path. It fails without touching
// the current state when the path pre-flight rejects path; any later failure
// leaves the session closed.
func (s *Session) Open(path string) error {
	if !s.policy.CheckArchiveCompatibility(path) {
		s.metrics.OpenFailed("path_length")
		return fmt.Errorf("%s: %w", path, diag.ErrSourceIncompatible)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	if err := s.openLocked(path); err != nil {
		s.closeLocked()
		s.metrics.OpenFailed(openReason(err))
		return err
	}
	s.log.Debug("archive opened", "path", path, "entries", len(s.entries), "format", s.handle.Format())
	return nil
}

func (s *Session) openLocked(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.reporter.Report(diag.Critical, diag.For(path, "Open").WithDetail(fmt.Sprint(r)))
			err = fmt.Errorf("open %s: %v: %w", path, r, diag.ErrOpenFailed)
		}
	}()

	st, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.reporter.Report(diag.Critical, diag.For(path, "File Check").WithDetail("archive file does not exist"))
			return fmt.Errorf("%s: %w", path, diag.ErrSourceNotFound)
		}
		s.reporter.Report(diag.Critical, diag.For(path, "File Check").WithDetail(err.Error()))
		return fmt.Errorf("stat %s: %w: %w", path, diag.ErrOpenFailed, err)
	}
	if st.Size() == 0 {
		s.reporter.Report(diag.Critical, diag.For(path, "File Check").WithDetail("archive file is empty"))
		return fmt.Errorf("%s: %w", path, diag.ErrSourceEmpty)
	}

	h, err := container.Open(s.fs, path, s.opts)
	if err != nil {
		s.reporter.Report(diag.Critical, diag.For(path, "Open").WithDetail(err.Error()))
		return fmt.Errorf("%w: %w", diag.ErrOpenFailed, err)
	}
	s.handle = h
	s.path = path
	s.entryMem = s.guard.ForSource(path)

	entries, err := s.enumerate(h)
	if err != nil {
		return err
	}
	s.entries = entries
	s.cache = make([][]byte, len(entries))
	s.open = true
	return nil
}

// enumerate lists image entries in container order and enforces the
// structure limits on every regular entry.
func (s *Session) enumerate(h *container.Handle) ([]Entry, error) {
	var (
		entries  []Entry
		seen     int
		maxDepth int
		maxLen   int
	)
	for {
		hdr, err := h.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if seen == 0 {
				s.reporter.Report(diag.Critical, diag.For(s.path, "Enumerate").WithDetail(err.Error()))
				return nil, fmt.Errorf("%w: %w", diag.ErrEnumerationFailed, err)
			}
			s.reporter.Report(diag.Warning, diag.For(s.path, "Enumerate").
				WithDetail(fmt.Sprintf("listing stopped after %d entries: %v", seen, err)))
			break
		}
		if hdr.Dir || !hdr.Regular {
			continue
		}
		seen++
		name := entryName(hdr, seen)
		maxDepth = max(maxDepth, strings.Count(name, "/"))
		maxLen = max(maxLen, utf8.RuneCountInString(name))
		if isImage(name, hdr.Size) {
			entries = append(entries, Entry{Name: name, Size: hdr.Size, Index: len(entries)})
		}
	}

	if maxDepth > s.limits.MaxFolderDepth || maxLen > s.limits.MaxInternalPath {
		detail := fmt.Sprintf("max folder depth %d (limit %d), max internal path %d chars (limit %d)",
			maxDepth, s.limits.MaxFolderDepth, maxLen, s.limits.MaxInternalPath)
		s.reporter.Report(diag.Critical, diag.For(s.path, "Structure Check").WithDetail(detail))
		return nil, fmt.Errorf("%s: %s: %w", s.path, detail, diag.ErrEnumerationFailed)
	}
	if len(entries) == 0 {
		s.reporter.Report(diag.Warning, diag.For(s.path, "Enumerate").WithDetail("no images found in archive"))
		return nil, fmt.Errorf("%s: no images: %w", s.path, diag.ErrSourceEmpty)
	}
	slices.SortStableFunc(entries, func(a, b Entry) int { return a.Index - b.Index })
	return entries, nil
}

func entryName(hdr *container.Header, ordinal int) string {
	if hdr.Name == "" {
		return fmt.Sprintf("unknown_%d", ordinal)
	}
	return hdr.Name
}

func isImage(name string, size int64) bool {
	return size > 0 && filetype.IsImageName(name)
}

// Extract returns a copy of the bytes of entry index.
func (s *Session) Extract(index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || index < 0 || index >= len(s.entries) {
		s.reporter.Report(diag.Critical, diag.For(s.path, "Extract").
			WithDetail(fmt.Sprintf("index %d out of range [0,%d)", index, len(s.entries))))
		return nil, fmt.Errorf("extract %d: %w", index, diag.ErrInvalidIndex)
	}
	e := s.entries[index]
	if _, bad := s.corrupted[index]; bad {
		s.metrics.SkippedCorrupted()
		return nil, fmt.Errorf("extract %d (%s): %w", index, e.Name, diag.ErrCorruptedEntry)
	}
	if b := s.cache[index]; len(b) > 0 {
		s.metrics.CacheHit()
		return slices.Clone(b), nil
	}

	s.metrics.CacheMiss()
	data, err := s.rescanLocked(index)
	if err != nil {
		s.corrupted[index] = struct{}{}
		s.metrics.ExtractFailed(extractReason(err))
		s.reporter.Report(diag.Corruption, diag.For(s.path, "Extract").
			WithEntry(index, e.Name).WithDetail(err.Error()))
		return nil, fmt.Errorf("extract %d (%s): %w", index, e.Name, err)
	}
	s.cache[index] = data
	s.metrics.Extracted(len(data))
	s.log.Debug("archive entry extracted", "path", s.path, "index", index, "bytes", len(data))
	return slices.Clone(data), nil
}

// rescanLocked reopens the container and reads the index-th image entry.
func (s *Session) rescanLocked(index int) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("%w: %v", diag.ErrExtractionFailed, r)
		}
	}()

	if err := s.reopenLocked(); err != nil {
		return nil, fmt.Errorf("%w: reopen: %w", diag.ErrExtractionFailed, err)
	}
	want := s.entries[index]
	images, seen := 0, 0
	for {
		hdr, err := s.handle.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: entry not found in container", diag.ErrExtractionFailed)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", diag.ErrExtractionFailed, err)
		}
		if hdr.Dir || !hdr.Regular {
			continue
		}
		seen++
		name := entryName(hdr, seen)
		if !isImage(name, hdr.Size) {
			continue
		}
		if images < index {
			images++
			continue
		}
		if name != want.Name {
			return nil, fmt.Errorf("%w: found %q at position %d, container changed since open",
				diag.ErrExtractionFailed, name, index)
		}
		return s.readEntryLocked(index, hdr)
	}
}

func (s *Session) readEntryLocked(index int, hdr *container.Header) ([]byte, error) {
	if hdr.Size > s.limits.MaxEntryBytes {
		s.reporter.Report(diag.Memory, diag.For(s.path, "Extract").
			WithEntry(index, hdr.Name).WithMemory(uint64(hdr.Size)).
			WithDetail(fmt.Sprintf("entry exceeds the %s limit", diag.FormatBytes(uint64(s.limits.MaxEntryBytes)))))
		return nil, fmt.Errorf("%w: entry is %d bytes: %w", diag.ErrExtractionFailed, hdr.Size, diag.ErrMemoryExhausted)
	}
	buf, err := s.entryMem.Allocate(uint64(hdr.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", diag.ErrExtractionFailed, err)
	}
	n, err := io.ReadFull(s.handle, buf)
	if n != len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: read %d of %d bytes: %w", diag.ErrExtractionFailed, n, len(buf), err)
	}
	return buf, nil
}

func (s *Session) reopenLocked() error {
	if err := s.handle.Close(); err != nil {
		s.log.Debug("close container before rescan", "path", s.path, "error", err)
	}
	s.handle = nil
	h, err := container.Open(s.fs, s.path, s.opts)
	if err != nil {
		return err
	}
	s.handle = h
	return nil
}

// Preload extracts up to lookahead entries after current that are neither
// cached nor known corrupted. It stops early when ctx is done.
func (s *Session) Preload(ctx context.Context, current, lookahead int) {
	for i := 1; i <= lookahead; i++ {
		if ctx.Err() != nil {
			return
		}
		next := current + i
		if next >= s.Len() {
			return
		}
		if s.IsCached(next) || s.IsCorrupted(next) {
			continue
		}
		_, _ = s.Extract(next)
	}
}

// ClearCache drops the cached bytes of index, or of every entry for All.
func (s *Session) ClearCache(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == All {
		clear(s.cache)
		return
	}
	if index >= 0 && index < len(s.cache) {
		s.cache[index] = nil
	}
}

// Close releases the container and forgets entries, cache and corruption marks.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.log.Debug("close container", "path", s.path, "error", err)
		}
	}
	s.handle = nil
	s.open = false
	s.path = ""
	s.entries = nil
	s.cache = nil
	s.corrupted = map[int]struct{}{}
}

func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Path returns the open container path, or "" when closed.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the image entries in index order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

func (s *Session) Entry(index int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return Entry{}, false
	}
	return s.entries[index], true
}

func (s *Session) IsCached(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return index >= 0 && index < len(s.cache) && len(s.cache[index]) > 0
}

func (s *Session) IsCorrupted(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.corrupted[index]
	return ok
}

// Corrupted returns the failed indices in ascending order.
func (s *Session) Corrupted() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.corrupted))
	for i := range s.corrupted {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

func (s *Session) HasKnownIssues() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.corrupted) > 0
}

// CorruptionReport lists failed entries, one per line, or "" when there are none.
func (s *Session) CorruptionReport() string {
	bad := s.Corrupted()
	if len(bad) == 0 {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "Corrupted entries in %s:\n", s.path)
	for _, i := range bad {
		if i < len(s.entries) {
			fmt.Fprintf(&b, "- Entry %d: %s\n", i, s.entries[i].Name)
		}
	}
	return b.String()
}

func openReason(err error) string {
	switch {
	case errors.Is(err, diag.ErrSourceNotFound):
		return "not_found"
	case errors.Is(err, diag.ErrSourceEmpty):
		return "empty"
	case errors.Is(err, diag.ErrEnumerationFailed):
		return "enumeration"
	default:
		return "open"
	}
}

func extractReason(err error) string {
	switch {
	case errors.Is(err, diag.ErrMemoryExhausted):
		return "memory"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "short_read"
	default:
		return "error"
	}
}
