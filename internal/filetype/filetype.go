// Package filetype classifies file names by extension.
package filetype

import (
	"path"
	"strings"
)

var imageExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "bmp": {}, "tga": {}, "gif": {}, "webp": {},
}

var archiveExts = map[string]struct{}{
	"zip": {}, "cbz": {}, "rar": {}, "cbr": {}, "7z": {}, "cb7": {}, "tar": {}, "gz": {},
}

// IsImage reports whether ext names a supported image format. The leading
// dot is optional and the match ignores case.
func IsImage(ext string) bool {
	_, ok := imageExts[normalize(ext)]
	return ok
}

// IsArchive reports whether ext names a supported container format.
func IsArchive(ext string) bool {
	_, ok := archiveExts[normalize(ext)]
	return ok
}

// IsImageName classifies a file name or slash/backslash path by its extension.
func IsImageName(name string) bool { return IsImage(Ext(name)) }

func IsArchiveName(name string) bool { return IsArchive(Ext(name)) }

// IsWebP reports whether name needs the dedicated webp decoder.
func IsWebP(name string) bool { return normalize(Ext(name)) == "webp" }

// Ext returns the extension of the last path element, including the dot.
func Ext(name string) string {
	return path.Ext(strings.ReplaceAll(name, `\`, "/"))
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
