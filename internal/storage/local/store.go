// Package local gives the viewer read access to the local filesystem through
// afero, so tests can swap in an in-memory tree.
package local

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/islishude/mangaview/internal/locator"
)

type Store struct {
	fs afero.Fs
}

type Metadata struct {
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// New returns a store on fsys, or on the OS filesystem when fsys is nil.
func New(fsys afero.Fs) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys}
}

func (s *Store) Stat(path string) (Metadata, error) {
	st, err := s.fs.Stat(path)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Size: st.Size(), IsDir: st.IsDir(), ModTime: st.ModTime()}, nil
}

// OpenReader opens the file behind a file or archive ref.
func (s *Store) OpenReader(ref locator.Ref) (io.ReadCloser, Metadata, error) {
	switch ref.Kind {
	case locator.KindFile, locator.KindArchive:
		f, err := s.fs.Open(ref.Path)
		if err != nil {
			return nil, Metadata{}, err
		}
		meta := Metadata{}
		if st, err := f.Stat(); err == nil {
			meta = Metadata{Size: st.Size(), IsDir: st.IsDir(), ModTime: st.ModTime()}
		}
		if meta.IsDir {
			_ = f.Close()
			return nil, Metadata{}, fmt.Errorf("%s: %w", ref.Path, fs.ErrInvalid)
		}
		return f, meta, nil
	default:
		return nil, Metadata{}, fmt.Errorf("unsupported local ref kind %s", ref.Kind)
	}
}

// ReadDir lists dir sorted by name, byte-wise.
func (s *Store) ReadDir(dir string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}
