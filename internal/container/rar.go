package container

import (
	"io"

	"github.com/nwaples/rardecode/v2"
)

// rarBackend streams a single-volume rar archive.
type rarBackend struct {
	opts Options
	r    *rardecode.Reader
}

func newRarBackend(r io.Reader, opts Options) (*rarBackend, error) {
	rr, err := rardecode.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &rarBackend{opts: opts, r: rr}, nil
}

func (b *rarBackend) next() (*Header, error) {
	h, err := b.r.Next()
	if err != nil {
		return nil, err
	}
	size := h.UnPackedSize
	if h.UnKnownSize {
		size = -1
	}
	return &Header{
		Name:    b.opts.decodeName(FormatRar, h.Name),
		Size:    size,
		Dir:     h.IsDir,
		Regular: !h.IsDir && h.Mode().IsRegular(),
	}, nil
}

func (b *rarBackend) read(p []byte) (int, error) { return b.r.Read(p) }

func (b *rarBackend) close() error { return nil }
