package source

import (
	"path/filepath"
	"sort"

	"github.com/islishude/mangaview/internal/filetype"
	"github.com/islishude/mangaview/internal/storage/local"
)

// ListImages returns the image files directly inside dir, sorted by name.
func ListImages(store *local.Store, dir string) ([]string, error) {
	infos, err := store.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, fi := range infos {
		if fi.Mode().IsRegular() && filetype.IsImageName(fi.Name()) {
			out = append(out, filepath.Join(dir, fi.Name()))
		}
	}
	return out, nil
}

// Folder is a browsable unit: a directory of images or an archive file.
type Folder struct {
	Path    string
	Archive bool
}

// ListFolders finds the browsable units under root: root itself when it holds
// images, each sub-directory holding images, and each archive file. Results
// are sorted by path.
func ListFolders(store *local.Store, root string) ([]Folder, error) {
	infos, err := store.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var (
		out        []Folder
		rootImages bool
	)
	for _, fi := range infos {
		p := filepath.Join(root, fi.Name())
		switch {
		case fi.IsDir():
			if hasImages(store, p) {
				out = append(out, Folder{Path: p})
			}
		case fi.Mode().IsRegular() && filetype.IsArchiveName(fi.Name()):
			out = append(out, Folder{Path: p, Archive: true})
		case fi.Mode().IsRegular() && filetype.IsImageName(fi.Name()):
			rootImages = true
		}
	}
	if rootImages {
		out = append(out, Folder{Path: filepath.Clean(root)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func hasImages(store *local.Store, dir string) bool {
	imgs, err := ListImages(store, dir)
	return err == nil && len(imgs) > 0
}
