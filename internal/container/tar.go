package container

import (
	"archive/tar"
	"io"

	"github.com/islishude/mangaview/internal/compress"
)

// tarBackend reads a tar stream behind an optional compression filter.
type tarBackend struct {
	opts   Options
	filter compress.Filter
	zr     io.ReadCloser
	tr     *tar.Reader
}

func newTarBackend(r io.Reader, hint string, opts Options) (*tarBackend, error) {
	explicit := opts.Filter
	if explicit == "" {
		explicit = compress.Auto
	}
	zr, filter, err := compress.NewReader(io.NopCloser(r), explicit, hint)
	if err != nil {
		return nil, err
	}
	return &tarBackend{opts: opts, filter: filter, zr: zr, tr: tar.NewReader(zr)}, nil
}

func (t *tarBackend) next() (*Header, error) {
	h, err := t.tr.Next()
	if err != nil {
		return nil, err
	}
	return &Header{
		Name:    t.opts.decodeName(FormatTar, h.Name),
		Size:    h.Size,
		Dir:     h.Typeflag == tar.TypeDir,
		Regular: h.Typeflag == tar.TypeReg,
	}, nil
}

func (t *tarBackend) read(p []byte) (int, error) { return t.tr.Read(p) }

func (t *tarBackend) close() error { return t.zr.Close() }
