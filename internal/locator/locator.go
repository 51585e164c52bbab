// Package locator parses command-line references to folders, archives,
// plain image files and single archive entries ("book.cbz#12").
package locator

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/islishude/mangaview/internal/filetype"
)

type Kind string

const (
	KindFolder  Kind = "folder"
	KindArchive Kind = "archive"
	KindFile    Kind = "file"
	KindEntry   Kind = "entry"
)

// Separator splits an archive path from the entry inside it.
const Separator = "#"

type Ref struct {
	Kind Kind
	Raw  string
	Path string
	// Entry is the entry name for KindEntry refs addressed by name.
	Entry string
	// Index is the entry index for KindEntry refs addressed by number, else -1.
	Index int
}

// Parse classifies v by extension. The filesystem is not consulted, so any
// name without an archive or image extension is treated as a folder.
func Parse(v string) (Ref, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	if archive, sel, ok := splitEntry(v); ok {
		ref := Ref{Kind: KindEntry, Raw: v, Path: archive, Index: -1}
		if sel == "" {
			return Ref{}, fmt.Errorf("reference %q has an empty entry selector", v)
		}
		if n, err := strconv.Atoi(sel); err == nil {
			if n < 0 {
				return Ref{}, fmt.Errorf("reference %q has a negative entry index", v)
			}
			ref.Index = n
		} else {
			ref.Entry = strings.ReplaceAll(sel, `\`, "/")
		}
		return ref, nil
	}
	switch {
	case filetype.IsArchiveName(v):
		return Ref{Kind: KindArchive, Raw: v, Path: v, Index: -1}, nil
	case filetype.IsImageName(v):
		return Ref{Kind: KindFile, Raw: v, Path: v, Index: -1}, nil
	default:
		return Ref{Kind: KindFolder, Raw: v, Path: v, Index: -1}, nil
	}
}

// splitEntry finds the first "#" preceded by an archive name, so folder or
// archive names may themselves contain "#".
func splitEntry(v string) (archive, selector string, ok bool) {
	for i := 0; i < len(v); i++ {
		if v[i] != Separator[0] {
			continue
		}
		if filetype.IsArchiveName(v[:i]) {
			return v[:i], v[i+1:], true
		}
	}
	return "", "", false
}

// Join builds the pseudo-path of entry inside archive.
func Join(archive, entry string) string {
	return archive + Separator + entry
}

// EntryFilename returns the base name of the entry part of a pseudo-path, or
// of the whole value when it has no entry part.
func EntryFilename(v string) string {
	if archive, sel, ok := splitEntry(v); ok && archive != "" {
		v = sel
	}
	return path.Base(strings.ReplaceAll(v, `\`, "/"))
}

func (r Ref) String() string {
	if r.Kind != KindEntry {
		return r.Path
	}
	if r.Entry != "" {
		return Join(r.Path, r.Entry)
	}
	return Join(r.Path, strconv.Itoa(r.Index))
}
