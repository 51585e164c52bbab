// Package codec decodes image bytes or files into pixel images, choosing the
// decoder from the file name.
package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"

	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/filetype"
	"github.com/islishude/mangaview/internal/locator"
	"github.com/islishude/mangaview/internal/metrics"
	"github.com/islishude/mangaview/internal/storage/local"
)

// DefaultMaxWebPFile bounds how much of a webp file is read into memory.
const DefaultMaxWebPFile int64 = 100 * 1000 * 1000

// Image is a decoded picture.
type Image struct {
	Pixels image.Image
	// Format is the decoder that produced Pixels, e.g. "png" or "webp".
	Format string
}

func (i *Image) Width() int  { return i.Pixels.Bounds().Dx() }
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

// Size returns the image dimensions.
func (i *Image) Size() image.Point { return i.Pixels.Bounds().Size() }

type Decoder struct {
	store       *local.Store
	maxWebPFile int64
	metrics     *metrics.Metrics
}

type Option func(*Decoder)

func WithStore(s *local.Store) Option { return func(d *Decoder) { d.store = s } }

func WithMaxWebPFile(n int64) Option { return func(d *Decoder) { d.maxWebPFile = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Decoder) { d.metrics = m } }

func New(opts ...Option) *Decoder {
	d := &Decoder{store: local.New(nil), maxWebPFile: DefaultMaxWebPFile}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode decodes data using the extension of name to pick a decoder. Every
// failure wraps diag.ErrDecodeFailed; decoder panics are recovered.
func (d *Decoder) Decode(data []byte, name string) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: no data: %w", name, diag.ErrDecodeFailed)
	}
	return d.decode(bytes.NewReader(data), name)
}

// DecodeFile decodes the image at path. WebP files are read whole first and
// rejected above the configured size limit.
func (d *Decoder) DecodeFile(path string) (*Image, error) {
	f, meta, err := d.store.OpenReader(locator.Ref{Kind: locator.KindFile, Path: path})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, diag.ErrDecodeFailed, err)
	}
	defer f.Close() //nolint:errcheck

	if !filetype.IsWebP(path) {
		return d.decode(bufio.NewReader(f), path)
	}
	if meta.Size <= 0 || meta.Size > d.maxWebPFile {
		return nil, fmt.Errorf("%s: webp file size %d outside (0, %d]: %w", path, meta.Size, d.maxWebPFile, diag.ErrDecodeFailed)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, diag.ErrDecodeFailed, err)
	}
	return d.decode(bytes.NewReader(data), path)
}

func (d *Decoder) decode(r io.Reader, name string) (img *Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img = nil
			err = fmt.Errorf("%s: decoder panic: %v: %w", name, rec, diag.ErrDecodeFailed)
		}
	}()
	start := time.Now()
	ext := strings.ToLower(strings.TrimPrefix(filetype.Ext(name), "."))

	var (
		pix    image.Image
		format string
	)
	switch {
	case !filetype.IsImage(ext):
		return nil, fmt.Errorf("%s: unsupported image extension %q: %w", name, ext, diag.ErrDecodeFailed)
	case ext == "webp":
		pix, err = decodeWebP(r)
		format = "webp"
	case ext == "tga":
		pix, err = tga.Decode(r)
		format = "tga"
	case ext == "png":
		pix, err = png.Decode(r)
		format = "png"
	case ext == "jpg", ext == "jpeg":
		pix, err = jpeg.Decode(r)
		format = "jpeg"
	case ext == "gif":
		pix, err = gif.Decode(r)
		format = "gif"
	case ext == "bmp":
		pix, err = bmp.Decode(r)
		format = "bmp"
	default:
		// The tga package registers an empty magic with the image package,
		// so image.Decode would hand every stream to it first.
		return nil, fmt.Errorf("%s: no decoder for %q: %w", name, ext, diag.ErrDecodeFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", name, diag.ErrDecodeFailed, err)
	}
	d.metrics.Decoded(format, time.Since(start))
	return &Image{Pixels: pix, Format: format}, nil
}

// decodeWebP converts the decoder output to NRGBA so every webp image has the
// same pixel layout regardless of lossy or lossless encoding.
func decodeWebP(r io.Reader) (image.Image, error) {
	src, err := webp.Decode(r)
	if err != nil {
		return nil, err
	}
	if n, ok := src.(*image.NRGBA); ok {
		return n, nil
	}
	dst := image.NewNRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst, nil
}
