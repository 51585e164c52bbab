package container

import (
	"io"

	"github.com/bodgit/sevenzip"
)

type sevenZipBackend struct {
	opts  Options
	files []*sevenzip.File
	pos   int
	cur   *sevenzip.File
	rc    io.ReadCloser
}

func newSevenZipBackend(r io.ReaderAt, size int64, opts Options) (*sevenZipBackend, error) {
	zr, err := sevenzip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return &sevenZipBackend{opts: opts, files: zr.File}, nil
}

func (s *sevenZipBackend) next() (*Header, error) {
	if err := s.closeEntry(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}
	f := s.files[s.pos]
	s.pos++
	s.cur = f
	fi := f.FileInfo()
	return &Header{
		Name:    s.opts.decodeName(FormatSevenZip, f.Name),
		Size:    int64(f.UncompressedSize),
		Dir:     fi.IsDir(),
		Regular: !fi.IsDir() && fi.Mode().IsRegular(),
	}, nil
}

func (s *sevenZipBackend) read(p []byte) (int, error) {
	if s.cur == nil {
		return 0, io.EOF
	}
	if s.rc == nil {
		rc, err := s.cur.Open()
		if err != nil {
			return 0, err
		}
		s.rc = rc
	}
	return s.rc.Read(p)
}

func (s *sevenZipBackend) closeEntry() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}

func (s *sevenZipBackend) close() error {
	s.cur = nil
	return s.closeEntry()
}
