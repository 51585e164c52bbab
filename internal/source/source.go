// Package source addresses images uniformly whether they live inside an
// archive session or as plain files, and decodes them through one Dispatcher.
package source

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/islishude/mangaview/internal/archive"
	"github.com/islishude/mangaview/internal/codec"
	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/locator"
	"github.com/islishude/mangaview/internal/storage/local"
)

type Kind int

const (
	KindArchive Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindArchive {
		return "archive"
	}
	return "file"
}

// Source is either an entry of an archive session or a plain file path.
type Source struct {
	kind    Kind
	session *archive.Session
	index   int
	path    string
}

func Archive(s *archive.Session, index int) Source {
	return Source{kind: KindArchive, session: s, index: index}
}

func File(path string) Source {
	return Source{kind: KindFile, path: path, index: -1}
}

func (s Source) Kind() Kind { return s.kind }

// Index is the entry index for archive sources and -1 for files.
func (s Source) Index() int { return s.index }

// Name is the base file name used for extension sniffing and display.
func (s Source) Name() string {
	if s.kind == KindFile {
		return filepath.Base(s.path)
	}
	if e, ok := s.session.Entry(s.index); ok {
		return locator.EntryFilename(e.Name)
	}
	return ""
}

// Key identifies the image across sessions: the file path or "archive#entry".
func (s Source) Key() string {
	if s.kind == KindFile {
		return s.path
	}
	if e, ok := s.session.Entry(s.index); ok {
		return locator.Join(s.session.Path(), e.Name)
	}
	return locator.Join(s.session.Path(), fmt.Sprint(s.index))
}

// Loaded is a decoded image with the facts the viewer displays about it.
type Loaded struct {
	Image    *codec.Image
	Filename string
	Size     int64
}

type Dispatcher struct {
	decoder *codec.Decoder
	store   *local.Store
	dims    *lru.Cache[string, image.Point]
}

// NewDispatcher memoises up to dimCache image sizes.
func NewDispatcher(decoder *codec.Decoder, store *local.Store, dimCache int) (*Dispatcher, error) {
	dims, err := lru.New[string, image.Point](dimCache)
	if err != nil {
		return nil, fmt.Errorf("dimension cache: %w", err)
	}
	return &Dispatcher{decoder: decoder, store: store, dims: dims}, nil
}

// Load extracts or reads src and decodes it.
func (d *Dispatcher) Load(src Source) (*Loaded, error) {
	var (
		l   *Loaded
		err error
	)
	switch src.kind {
	case KindArchive:
		l, err = d.loadEntry(src)
	case KindFile:
		l, err = d.loadFile(src)
	default:
		err = fmt.Errorf("unknown source kind %d", src.kind)
	}
	if err != nil {
		return nil, err
	}
	d.dims.Add(src.Key(), l.Image.Size())
	return l, nil
}

func (d *Dispatcher) loadEntry(src Source) (*Loaded, error) {
	e, ok := src.session.Entry(src.index)
	if !ok {
		return nil, fmt.Errorf("entry %d: %w", src.index, diag.ErrInvalidIndex)
	}
	data, err := src.session.Extract(src.index)
	if err != nil {
		return nil, err
	}
	img, err := d.decoder.Decode(data, e.Name)
	if err != nil {
		return nil, err
	}
	return &Loaded{Image: img, Filename: locator.EntryFilename(e.Name), Size: int64(len(data))}, nil
}

func (d *Dispatcher) loadFile(src Source) (*Loaded, error) {
	meta, err := d.store.Stat(src.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", src.path, diag.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", src.path, err)
	}
	img, err := d.decoder.DecodeFile(src.path)
	if err != nil {
		return nil, err
	}
	return &Loaded{Image: img, Filename: filepath.Base(src.path), Size: meta.Size}, nil
}

// Dimensions reports the pixel size of src. There is no header-only path, so
// an unseen source is fully decoded.
func (d *Dispatcher) Dimensions(src Source) (image.Point, error) {
	if p, ok := d.dims.Get(src.Key()); ok {
		return p, nil
	}
	l, err := d.Load(src)
	if err != nil {
		return image.Point{}, err
	}
	return l.Image.Size(), nil
}

// Entries returns one source per entry of an open session.
func Entries(s *archive.Session) []Source {
	n := s.Len()
	out := make([]Source, n)
	for i := range n {
		out[i] = Archive(s, i)
	}
	return out
}

// Files wraps plain paths as sources, keeping their order.
func Files(paths []string) []Source {
	out := make([]Source, len(paths))
	for i, p := range paths {
		out[i] = File(p)
	}
	return out
}
