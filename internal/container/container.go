// Package container opens compressed containers (zip, rar, 7z, tar and
// filtered tar) behind one forward-only reader.
//
// A Handle owns the underlying file for its whole life. Re-reading from the
// first entry means closing the handle and opening a new one.
package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/islishude/mangaview/internal/compress"
	"github.com/islishude/mangaview/internal/filetype"
)

type Format string

const (
	FormatUnknown  Format = ""
	FormatZip      Format = "zip"
	FormatRar      Format = "rar"
	FormatSevenZip Format = "7z"
	FormatTar      Format = "tar"
)

// ErrUnsupported is returned when no backend recognises the file.
var ErrUnsupported = errors.New("unsupported container format")

const sniffLen = 512

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	rarMagic      = []byte("Rar!\x1a\x07")
	sevenZipMagic = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	ustarMagic    = []byte("ustar")
)

// Header describes the entry the handle is positioned on.
type Header struct {
	// Name uses forward slashes.
	Name    string
	Size    int64
	Dir     bool
	Regular bool
}

type backend interface {
	next() (*Header, error)
	read(p []byte) (int, error)
	close() error
}

// Handle is an open container positioned before its first entry.
type Handle struct {
	path   string
	format Format
	file   afero.File
	be     backend
	closed bool
}

// Open detects the format of name and prepares a reader for it. Any failure
// releases the file before returning.
func Open(fsys afero.Fs, name string, opts Options) (h *Handle, err error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open %s: %v", name, r)
		}
		if err != nil {
			_ = f.Close()
			h = nil
		}
	}()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind %s: %w", name, err)
	}

	format := Sniff(head[:n], name)
	var be backend
	switch format {
	case FormatZip:
		be, err = newZipBackend(f, st.Size(), opts)
	case FormatRar:
		be, err = newRarBackend(f, opts)
	case FormatSevenZip:
		be, err = newSevenZipBackend(f, st.Size(), opts)
	case FormatTar:
		if (opts.Filter == "" || opts.Filter == compress.Auto) && isUstar(head[:n]) {
			opts.Filter = compress.None
		}
		be, err = newTarBackend(f, name, opts)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s as %s: %w", name, format, err)
	}
	return &Handle{path: name, format: format, file: f, be: be}, nil
}

// Sniff picks a format from the leading bytes, falling back to the extension
// of name when the bytes are not conclusive.
func Sniff(head []byte, name string) Format {
	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return FormatZip
	case bytes.HasPrefix(head, rarMagic):
		return FormatRar
	case bytes.HasPrefix(head, sevenZipMagic):
		return FormatSevenZip
	case isUstar(head), compress.Detect(head) != compress.Auto:
		return FormatTar
	}
	return FormatFromExt(filetype.Ext(name))
}

// isUstar reports whether head starts with a plain tar header. Member names
// come first in that header, so this must win over compression magic.
func isUstar(head []byte) bool {
	return len(head) >= 262 && bytes.Equal(head[257:262], ustarMagic)
}

// FormatFromExt maps an archive extension, with or without the dot, to a format.
func FormatFromExt(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "zip", "cbz":
		return FormatZip
	case "rar", "cbr":
		return FormatRar
	case "7z", "cb7":
		return FormatSevenZip
	case "tar", "gz", "tgz":
		return FormatTar
	default:
		return FormatUnknown
	}
}

func (h *Handle) Path() string   { return h.path }
func (h *Handle) Format() Format { return h.format }

// Filter reports the stream filter in front of a tar container, or None.
func (h *Handle) Filter() compress.Filter {
	if t, ok := h.be.(*tarBackend); ok {
		return t.filter
	}
	return compress.None
}

// Next advances to the next entry. It returns io.EOF after the last one.
func (h *Handle) Next() (*Header, error) {
	if h.closed {
		return nil, errClosed
	}
	hdr, err := h.be.next()
	if err != nil {
		return nil, err
	}
	hdr.Name = normalizeName(hdr.Name)
	return hdr, nil
}

// Read reads from the current entry.
func (h *Handle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, errClosed
	}
	return h.be.read(p)
}

// Close releases the backend and the file. Calling it again is a no-op.
func (h *Handle) Close() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	first := h.be.close()
	if err := h.file.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

var errClosed = errors.New("container handle closed")

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	return name
}
