package container

import (
	"io"

	"github.com/klauspost/compress/zip"
)

type zipBackend struct {
	opts  Options
	files []*zip.File
	pos   int
	cur   *zip.File
	rc    io.ReadCloser
}

func newZipBackend(r io.ReaderAt, size int64, opts Options) (*zipBackend, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return &zipBackend{opts: opts, files: zr.File}, nil
}

func (z *zipBackend) next() (*Header, error) {
	if err := z.closeEntry(); err != nil {
		return nil, err
	}
	if z.pos >= len(z.files) {
		return nil, io.EOF
	}
	f := z.files[z.pos]
	z.pos++
	z.cur = f
	dir := f.FileInfo().IsDir()
	return &Header{
		Name:    z.opts.decodeName(FormatZip, f.Name),
		Size:    int64(f.UncompressedSize64),
		Dir:     dir,
		Regular: !dir && f.Mode().IsRegular(),
	}, nil
}

func (z *zipBackend) read(p []byte) (int, error) {
	if z.cur == nil {
		return 0, io.EOF
	}
	if z.rc == nil {
		rc, err := z.cur.Open()
		if err != nil {
			return 0, err
		}
		z.rc = rc
	}
	return z.rc.Read(p)
}

func (z *zipBackend) closeEntry() error {
	if z.rc == nil {
		return nil
	}
	err := z.rc.Close()
	z.rc = nil
	return err
}

func (z *zipBackend) close() error {
	z.cur = nil
	return z.closeEntry()
}
