// Package compress detects and unwraps the stream filters that may sit in
// front of a tar container (.tar.gz, .tar.xz, ...).
package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Filter names one stream filter.
type Filter string

const (
	Auto  Filter = "auto"
	None  Filter = "none"
	Gzip  Filter = "gzip"
	Bzip2 Filter = "bzip2"
	Xz    Filter = "xz"
	Zstd  Filter = "zstd"
	Lz4   Filter = "lz4"
)

// MagicLen is the number of leading bytes Detect needs to recognise every filter.
const MagicLen = 8

func FromString(v string) Filter {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none":
		return None
	case "gzip", "gz":
		return Gzip
	case "bzip2", "bz2":
		return Bzip2
	case "xz":
		return Xz
	case "zstd", "zst":
		return Zstd
	case "lz4":
		return Lz4
	default:
		return Auto
	}
}

// Detect inspects the leading bytes of a stream. It returns Auto when no
// known filter signature matches.
func Detect(magic []byte) Filter {
	switch {
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		return Gzip
	case bytes.HasPrefix(magic, []byte{'B', 'Z', 'h'}):
		return Bzip2
	case bytes.HasPrefix(magic, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return Xz
	case bytes.HasPrefix(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return Zstd
	case bytes.HasPrefix(magic, []byte{0x04, 0x22, 0x4d, 0x18}):
		return Lz4
	default:
		return Auto
	}
}

// DetectByExt maps a file name to a filter using its extension only.
func DetectByExt(name string) Filter {
	switch strings.ToLower(path.Ext(strings.ReplaceAll(name, `\`, "/"))) {
	case ".gz", ".tgz":
		return Gzip
	case ".bz2", ".tbz2", ".tbz":
		return Bzip2
	case ".xz", ".txz":
		return Xz
	case ".zst", ".tzst", ".zstd":
		return Zstd
	case ".lz4", ".tlz4":
		return Lz4
	default:
		return Auto
	}
}

// NewReader returns a reader over the decoded stream of src. With Auto the
// filter is chosen from the magic bytes first and the hint's extension second;
// when neither matches the stream is passed through unchanged.
// Closing the returned reader closes src.
func NewReader(src io.ReadCloser, explicit Filter, hint string) (io.ReadCloser, Filter, error) {
	br := bufio.NewReader(src)
	f := explicit
	if f == Auto {
		magic, _ := br.Peek(MagicLen)
		f = Detect(magic)
		if f == Auto {
			f = DetectByExt(hint)
		}
		if f == Auto {
			f = None
		}
	}
	r, err := wrapReader(br, src, f)
	if err != nil {
		return nil, f, fmt.Errorf("open %s stream: %w", f, err)
	}
	return r, f, nil
}

func wrapReader(reader io.Reader, src io.Closer, f Filter) (io.ReadCloser, error) {
	switch f {
	case None:
		return &readCloser{reader: reader, closer: src}, nil
	case Gzip:
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr, src}}, nil
	case Bzip2:
		zr, err := bzip2.NewReader(reader, nil)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr, src}}, nil
	case Xz:
		zr, err := xz.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &readCloser{reader: zr, closer: src}, nil
	case Zstd:
		zr, err := zstd.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr.IOReadCloser(), src}}, nil
	case Lz4:
		return &readCloser{reader: lz4.NewReader(reader), closer: src}, nil
	default:
		return nil, fmt.Errorf("unsupported filter %q", f)
	}
}

// NewWriter wraps dst with the encoder for f. It is used to build fixtures
// and never by the read path.
func NewWriter(dst io.WriteCloser, f Filter) (io.WriteCloser, error) {
	var (
		zw  io.WriteCloser
		err error
	)
	switch f {
	case Auto, None:
		return dst, nil
	case Gzip:
		zw = gzip.NewWriter(dst)
	case Bzip2:
		zw, err = bzip2.NewWriter(dst, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	case Xz:
		zw, err = xz.NewWriter(dst)
	case Zstd:
		zw, err = zstd.NewWriter(dst)
	case Lz4:
		zw = lz4.NewWriter(dst)
	default:
		return nil, fmt.Errorf("unsupported filter %q", f)
	}
	if err != nil {
		return nil, err
	}
	return &stackedWriteCloser{writer: zw, dst: dst}, nil
}

type readCloser struct {
	reader io.Reader
	closer io.Closer
}

func (r *readCloser) Read(p []byte) (int, error) { return r.reader.Read(p) }
func (r *readCloser) Close() error               { return r.closer.Close() }

type multiReadCloser struct {
	reader  io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Read(p []byte) (int, error) { return m.reader.Read(p) }

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// stackedWriteCloser flushes the encoder before closing the destination.
type stackedWriteCloser struct {
	writer io.WriteCloser
	dst    io.Closer
}

func (w *stackedWriteCloser) Write(p []byte) (int, error) { return w.writer.Write(p) }

func (w *stackedWriteCloser) Close() error {
	first := w.writer.Close()
	if err := w.dst.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
