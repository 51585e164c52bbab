package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/islishude/mangaview/internal/cli"
	"github.com/islishude/mangaview/internal/config"
	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/locator"
	"github.com/islishude/mangaview/internal/metrics"
	"github.com/islishude/mangaview/internal/pathlimit"
	"github.com/islishude/mangaview/internal/source"
	"github.com/islishude/mangaview/internal/viewer"
)

const (
	ExitSuccess = 0
	ExitWarning = 1
	ExitFatal   = 2
)

// progressInterval is how often batch progress is written to stderr.
const progressInterval = 200 * time.Millisecond

type Runner struct {
	viewer   *viewer.Viewer
	metrics  *metrics.Metrics
	recorder *diag.Recorder
	stderr   io.Writer
	stdout   io.Writer
}

type RunResult struct {
	ExitCode int
	Err      error
}

// New builds a runner over a fresh viewer. Diagnostics are logged through
// slog and counted towards the warning exit status.
func New(cfg config.Config, stdout io.Writer, stderr io.Writer, opts ...viewer.Option) (*Runner, error) {
	r := &Runner{
		metrics:  metrics.New(),
		recorder: &diag.Recorder{Next: diag.NewLogReporter(slog.Default())},
		stdout:   stdout,
		stderr:   stderr,
	}
	opts = append(opts, viewer.WithMetrics(r.metrics), viewer.WithReporter(r.recorder))
	v, err := viewer.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init viewer: %w", err)
	}
	r.viewer = v
	return r, nil
}

// Close releases the viewer.
func (r *Runner) Close() { r.viewer.Close() }

func (r *Runner) Run(ctx context.Context, opts cli.Options) RunResult {
	r.recorder.Reset()
	var (
		warnings int
		err      error
	)
	switch opts.Mode {
	case cli.ModeList:
		warnings, err = r.runList(ctx, opts)
	case cli.ModeInfo:
		warnings, err = r.runInfo(ctx, opts)
	case cli.ModeBatch:
		warnings, err = r.runBatch(ctx, opts)
	case cli.ModeFolders:
		warnings, err = r.runFolders(ctx, opts)
	case cli.ModeCheck:
		warnings, err = r.runCheck(ctx, opts)
	default:
		return RunResult{ExitCode: ExitFatal, Err: fmt.Errorf("unsupported mode %q", opts.Mode)}
	}
	if opts.Metrics {
		if merr := r.metrics.WriteText(r.stdout); merr != nil && err == nil {
			err = fmt.Errorf("writing metrics: %w", merr)
		}
	}
	warnings += r.recorder.Count(diag.Warning) + r.recorder.Count(diag.Memory) + r.recorder.Count(diag.Corruption)
	return classifyResult(err, warnings)
}

func classifyResult(err error, warnings int) RunResult {
	if err != nil {
		return RunResult{ExitCode: ExitFatal, Err: err}
	}
	if warnings > 0 {
		return RunResult{ExitCode: ExitWarning}
	}
	return RunResult{ExitCode: ExitSuccess}
}

// openTarget opens an archive or folder reference as the current source.
func (r *Runner) openTarget(target string) error {
	ref, err := locator.Parse(target)
	if err != nil {
		return err
	}
	switch ref.Kind {
	case locator.KindArchive:
		return r.viewer.Open(ref.Path, true)
	case locator.KindFolder:
		return r.viewer.Open(ref.Path, false)
	default:
		return fmt.Errorf("%s is not an archive or folder", target)
	}
}

func (r *Runner) runList(ctx context.Context, opts cli.Options) (int, error) {
	if err := r.openTarget(opts.Target); err != nil {
		return 0, err
	}
	if r.viewer.IsArchive() {
		for _, e := range r.viewer.Session().Entries() {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			_, _ = fmt.Fprintf(r.stdout, "%d\t%d\t%s\n", e.Index, e.Size, e.Name)
		}
		return 0, nil
	}
	warnings := 0
	for i, src := range r.viewer.Sources() {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		meta, err := r.viewer.Store().Stat(src.Key())
		if err != nil {
			_, _ = fmt.Fprintf(r.stderr, "mangaview: %s: %v\n", src.Key(), err)
			warnings++
			continue
		}
		_, _ = fmt.Fprintf(r.stdout, "%d\t%d\t%s\n", i, meta.Size, src.Name())
	}
	return warnings, nil
}

func (r *Runner) runInfo(ctx context.Context, opts cli.Options) (int, error) {
	l, err := r.viewer.Load(opts.Target)
	if err != nil {
		return 0, err
	}
	_, _ = fmt.Fprintf(r.stdout, "%s\t%dx%d\t%s\t%d\n", l.Filename, l.Image.Width(), l.Image.Height(), l.Image.Format, l.Size)

	ref, _ := locator.Parse(opts.Target)
	if ref.Kind == locator.KindEntry && r.viewer.IsArchive() {
		index := ref.Index
		if index < 0 {
			index = indexOf(r.viewer.Names(), ref.Entry)
		}
		r.viewer.Preload(ctx, index)
	}
	return 0, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func (r *Runner) runBatch(ctx context.Context, opts cli.Options) (int, error) {
	if err := r.openTarget(opts.Target); err != nil {
		return 0, err
	}
	b := r.viewer.StartCurrentBatch(nil)
	slog.Debug("batch started", "id", b.ID(), "images", b.Len())

	tick := time.NewTicker(progressInterval)
	defer tick.Stop()
wait:
	for {
		select {
		case <-b.Done():
			break wait
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-tick.C:
			if opts.Verbose {
				done, total := r.viewer.BatchProgress(b)
				_, _ = fmt.Fprintf(r.stderr, "loading %d/%d\n", done, total)
			}
		}
	}

	failed := b.Failed()
	names := r.viewer.Names()
	for _, i := range failed {
		_, _ = fmt.Fprintf(r.stderr, "mangaview: failed to load %d: %s\n", i, names[i])
	}
	done, total := r.viewer.BatchProgress(b)
	_, _ = fmt.Fprintf(r.stdout, "loaded %d/%d images from %s\n", done-len(failed), total, r.viewer.Path())
	return len(failed), nil
}

func (r *Runner) runFolders(ctx context.Context, opts cli.Options) (int, error) {
	folders, err := source.ListFolders(r.viewer.Store(), opts.Target)
	if err != nil {
		return 0, err
	}
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		marker := "D"
		if f.Archive {
			marker = "A"
		}
		_, _ = fmt.Fprintf(r.stdout, "%s\t%s\n", marker, f.Path)
	}
	return 0, nil
}

func (r *Runner) runCheck(ctx context.Context, opts cli.Options) (int, error) {
	ref, err := locator.Parse(opts.Target)
	if err != nil {
		return 0, err
	}
	if ref.Kind != locator.KindArchive {
		return 0, fmt.Errorf("%s is not an archive", opts.Target)
	}

	warnings := 0
	if opts.EnableLongPaths && !pathlimit.EnableExtendedPaths() {
		_, _ = fmt.Fprintln(r.stderr, "mangaview: could not enable extended paths; run elevated")
		warnings++
	}
	policy := r.viewer.Policy()
	_, _ = fmt.Fprintf(r.stdout, "limit\t%d\n", policy.MaxPathLength())

	pr := policy.Evaluate(ref.Path)
	verdict := "ok"
	if !pr.OK() {
		verdict = "too long"
	}
	_, _ = fmt.Fprintf(r.stdout, "path\t%d/%d\testimated %d\t%s\n", pr.PathLength, pr.SafeLength, pr.EstimatedLength, verdict)

	if err := r.viewer.Open(ref.Path, true); err != nil {
		if errors.Is(err, diag.ErrEnumerationFailed) {
			_, _ = fmt.Fprintln(r.stdout, "structure\trejected")
		}
		return warnings, err
	}
	_, _ = fmt.Fprintf(r.stdout, "structure\tok\t%d images\n", r.viewer.EntryCount())

	s := r.viewer.Session()
	for i := range s.Len() {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		_, _ = s.Extract(i)
		s.ClearCache(i)
	}
	if !s.HasKnownIssues() {
		_, _ = fmt.Fprintln(r.stdout, "entries\tok")
		return warnings, nil
	}
	_, _ = fmt.Fprint(r.stdout, s.CorruptionReport())
	return warnings, nil
}
