// Package viewer is the surface the navigation layer talks to. It owns one
// archive session, the decode dispatcher and the batch loader, and hides
// whether the current source is an archive or a plain folder.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/islishude/mangaview/internal/archive"
	"github.com/islishude/mangaview/internal/batch"
	"github.com/islishude/mangaview/internal/codec"
	"github.com/islishude/mangaview/internal/config"
	"github.com/islishude/mangaview/internal/container"
	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/locator"
	"github.com/islishude/mangaview/internal/memguard"
	"github.com/islishude/mangaview/internal/metrics"
	"github.com/islishude/mangaview/internal/nav"
	"github.com/islishude/mangaview/internal/pathlimit"
	"github.com/islishude/mangaview/internal/source"
	"github.com/islishude/mangaview/internal/storage/local"
)

type mode int

const (
	modeNone mode = iota
	modeArchive
	modeFolder
)

type Viewer struct {
	cfg      config.Config
	log      *slog.Logger
	store    *local.Store
	policy   *pathlimit.Policy
	session  *archive.Session
	disp     *source.Dispatcher
	loader   *batch.Loader
	lock     *nav.Lock
	ui       *nav.BlockingContext
	reporter diag.Reporter
	metrics  *metrics.Metrics

	mu    sync.Mutex
	mode  mode
	path  string
	files []string
	batch *batch.Batch
}

type settings struct {
	fs       afero.Fs
	reporter diag.Reporter
	metrics  *metrics.Metrics
	log      *slog.Logger
	stats    memguard.Stats
	probe    pathlimit.Probe
}

type Option func(*settings)

func WithFs(fsys afero.Fs) Option { return func(s *settings) { s.fs = fsys } }

// WithReporter sets where diagnostics are presented. Reports are always
// wrapped so the blocking context is active while one is shown.
func WithReporter(r diag.Reporter) Option { return func(s *settings) { s.reporter = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *settings) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.log = l } }

func WithMemoryStats(st memguard.Stats) Option { return func(s *settings) { s.stats = st } }

func WithPathProbe(p pathlimit.Probe) Option { return func(s *settings) { s.probe = p } }

func New(cfg config.Config, opts ...Option) (*Viewer, error) {
	st := settings{fs: afero.NewOsFs()}
	for _, o := range opts {
		o(&st)
	}
	if st.log == nil {
		st.log = slog.Default()
	}
	if st.reporter == nil {
		st.reporter = diag.NewLogReporter(st.log)
	}

	copts, err := container.NewOptions(cfg.HeaderCharset)
	if err != nil {
		return nil, err
	}

	v := &Viewer{
		cfg:     cfg,
		log:     st.log,
		store:   local.New(st.fs),
		lock:    &nav.Lock{},
		ui:      &nav.BlockingContext{},
		metrics: st.metrics,
	}
	v.reporter = nav.BlockingReporter{UI: v.ui, Next: st.reporter}

	if st.probe != nil {
		v.policy = pathlimit.NewWithProbe(st.probe, v.reporter)
	} else {
		v.policy = pathlimit.New(v.reporter)
	}
	guardOpts := []memguard.Option{
		memguard.WithLimits(cfg.Limits.MaxImageBytes, cfg.Limits.MinFreeBytes),
		memguard.WithReporter(v.reporter),
	}
	if st.stats != nil {
		guardOpts = append(guardOpts, memguard.WithStats(st.stats))
	}

	v.session = archive.NewSession(
		archive.WithFs(st.fs),
		archive.WithContainerOptions(copts),
		archive.WithLimits(archive.Limits{
			MaxFolderDepth:  cfg.Limits.MaxFolderDepth,
			MaxInternalPath: cfg.Limits.MaxInternalPath,
			MaxEntryBytes:   cfg.Limits.MaxEntryBytes,
		}),
		archive.WithPathPolicy(v.policy),
		archive.WithMemoryGuard(memguard.New(guardOpts...)),
		archive.WithReporter(v.reporter),
		archive.WithMetrics(st.metrics),
		archive.WithLogger(st.log),
	)

	dec := codec.New(
		codec.WithStore(v.store),
		codec.WithMaxWebPFile(cfg.Limits.MaxWebPFileBytes),
		codec.WithMetrics(st.metrics),
	)
	v.disp, err = source.NewDispatcher(dec, v.store, cfg.DimensionCache)
	if err != nil {
		return nil, err
	}
	v.loader = batch.NewLoader(v.disp,
		batch.WithWorkers(cfg.Workers),
		batch.WithNavLock(v.lock),
		batch.WithMetrics(st.metrics),
		batch.WithLogger(st.log),
	)
	return v, nil
}

// Open makes path the current source after draining any running batch. A
// folder without images, or an archive refused by the path pre-flight, leaves
// the previous source current. Any later archive failure leaves nothing open.
func (v *Viewer) Open(path string, isArchive bool) error {
	if err := v.loader.Drain(context.Background()); err != nil {
		return err
	}
	if isArchive {
		return v.openArchive(path)
	}
	return v.openFolder(path)
}

// OpenSource is Open reduced to success or failure; the reason has already
// been reported.
func (v *Viewer) OpenSource(path string, isArchive bool) bool {
	err := v.Open(path, isArchive)
	if err != nil {
		v.log.Debug("open source failed", "path", path, "archive", isArchive, "error", err)
	}
	return err == nil
}

func (v *Viewer) openArchive(path string) error {
	err := v.session.Open(path)
	if errors.Is(err, diag.ErrSourceIncompatible) {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.batch = nil
	if err != nil {
		v.mode, v.path, v.files = modeNone, "", nil
		return err
	}
	v.mode, v.path, v.files = modeArchive, path, nil
	return nil
}

func (v *Viewer) openFolder(dir string) error {
	files, err := source.ListImages(v.store, dir)
	if err != nil {
		v.reporter.Report(diag.Critical, diag.For(dir, "Open Folder").WithDetail(err.Error()))
		return fmt.Errorf("%s: %w: %w", dir, diag.ErrSourceNotFound, err)
	}
	if len(files) == 0 {
		v.reporter.Report(diag.Warning, diag.For(dir, "Open Folder").WithDetail("no images found"))
		return fmt.Errorf("%s: %w", dir, diag.ErrSourceEmpty)
	}
	v.session.Close()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode, v.path, v.files, v.batch = modeFolder, dir, files, nil
	return nil
}

// OpenFirstUsable tries folders[start], folders[start+step], ... and stops at
// the first one that opens. It returns the index opened, or -1.
func (v *Viewer) OpenFirstUsable(folders []source.Folder, start, step int) int {
	if step == 0 {
		step = 1
	}
	for i := start; i >= 0 && i < len(folders); i += step {
		if v.OpenSource(folders[i].Path, folders[i].Archive) {
			return i
		}
	}
	return -1
}

// Path returns the current source, or "" when nothing is open.
func (v *Viewer) Path() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.path
}

func (v *Viewer) IsArchive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode == modeArchive
}

func (v *Viewer) EntryCount() int {
	v.mu.Lock()
	m, n := v.mode, len(v.files)
	v.mu.Unlock()
	switch m {
	case modeArchive:
		return v.session.Len()
	case modeFolder:
		return n
	default:
		return 0
	}
}

// Names lists the display names of the current images in index order.
func (v *Viewer) Names() []string {
	v.mu.Lock()
	m, files := v.mode, v.files
	v.mu.Unlock()
	switch m {
	case modeArchive:
		entries := v.session.Entries()
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Name
		}
		return out
	case modeFolder:
		out := make([]string, len(files))
		for i, f := range files {
			out[i] = filepath.Base(f)
		}
		return out
	default:
		return nil
	}
}

// Sources returns one source per image of the current source.
func (v *Viewer) Sources() []source.Source {
	v.mu.Lock()
	m, files := v.mode, v.files
	v.mu.Unlock()
	switch m {
	case modeArchive:
		return source.Entries(v.session)
	case modeFolder:
		return source.Files(files)
	default:
		return nil
	}
}

func (v *Viewer) sourceAt(index int) (source.Source, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.mode == modeArchive && index >= 0 && index < v.session.Len():
		return source.Archive(v.session, index), nil
	case v.mode == modeFolder && index >= 0 && index < len(v.files):
		return source.File(v.files[index]), nil
	}
	return source.Source{}, fmt.Errorf("image %d: %w", index, diag.ErrInvalidIndex)
}

// ExtractOrLoad decodes image index of the current source. A slot already
// filled by the current batch is returned without decoding again.
func (v *Viewer) ExtractOrLoad(index int) (*source.Loaded, error) {
	src, err := v.sourceAt(index)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	b := v.batch
	v.mu.Unlock()
	if b != nil {
		return b.Image(index)
	}
	return v.disp.Load(src)
}

// Load decodes a pseudo-path or plain file outside the current source:
// "book.cbz#3", "book.cbz#ch1/p03.png" or "page.png". Opening an archive
// reference makes it the current source.
func (v *Viewer) Load(ref string) (*source.Loaded, error) {
	r, err := locator.Parse(ref)
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case locator.KindFile:
		return v.disp.Load(source.File(r.Path))
	case locator.KindEntry:
		if v.Path() != r.Path || !v.IsArchive() {
			if err := v.Open(r.Path, true); err != nil {
				return nil, err
			}
		}
		index := r.Index
		if index < 0 {
			index = v.indexOf(r.Entry)
		}
		return v.ExtractOrLoad(index)
	default:
		return nil, fmt.Errorf("%s is not an image reference: %w", ref, diag.ErrInvalidIndex)
	}
}

func (v *Viewer) indexOf(name string) int {
	for _, e := range v.session.Entries() {
		if e.Name == name {
			return e.Index
		}
	}
	return -1
}

// Dimensions reports the pixel size of image index.
func (v *Viewer) Dimensions(index int) (w, h int, err error) {
	src, err := v.sourceAt(index)
	if err != nil {
		return 0, 0, err
	}
	p, err := v.disp.Dimensions(src)
	return p.X, p.Y, err
}

// Preload warms the archive cache for the configured number of entries after
// index. Plain folders have nothing to warm.
func (v *Viewer) Preload(ctx context.Context, index int) {
	if v.IsArchive() {
		v.session.Preload(ctx, index, v.cfg.Lookahead)
	}
}

// ClearCache drops cached archive bytes for index, or all with archive.All.
func (v *Viewer) ClearCache(index int) {
	v.session.ClearCache(index)
}

// StartBatchLoad decodes sources in the background. The navigation lock is
// held until the batch completes and done has run.
func (v *Viewer) StartBatchLoad(sources []source.Source, done func()) *batch.Batch {
	return v.loader.Start(sources, done)
}

// StartCurrentBatch loads every image of the current source and lets
// ExtractOrLoad serve from the result.
func (v *Viewer) StartCurrentBatch(done func()) *batch.Batch {
	b := v.StartBatchLoad(v.Sources(), done)
	v.mu.Lock()
	v.batch = b
	v.mu.Unlock()
	return b
}

func (v *Viewer) BatchProgress(b *batch.Batch) (done, total int) {
	if b == nil {
		return 0, 0
	}
	return b.Progress()
}

func (v *Viewer) IsBatchComplete(b *batch.Batch) bool {
	return b == nil || b.Complete()
}

// NavigationAllowed is false while a batch holds the navigation lock or a
// diagnostic is being presented.
func (v *Viewer) NavigationAllowed() bool {
	return v.lock.Allowed(v.ui)
}

// ForceUnlock clears a stuck navigation lock and returns its holder.
func (v *Viewer) ForceUnlock() string {
	op := v.lock.ForceRelease()
	if op != "" {
		v.log.Warn("navigation lock force released", "operation", op)
	}
	return op
}

func (v *Viewer) Session() *archive.Session { return v.session }

func (v *Viewer) Policy() *pathlimit.Policy { return v.policy }

func (v *Viewer) Store() *local.Store { return v.store }

// Close waits for any running batch and closes the archive session.
func (v *Viewer) Close() {
	_ = v.loader.Drain(context.Background())
	v.session.Close()
	v.mu.Lock()
	v.mode, v.path, v.files, v.batch = modeNone, "", nil, nil
	v.mu.Unlock()
}
