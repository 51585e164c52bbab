// Package containertest builds small in-memory containers and images for tests.
package containertest

import (
	"archive/tar"
	"bytes"
	_ "embed"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/image/bmp"

	"github.com/islishude/mangaview/internal/compress"
)

// Rar and SevenZip hold a.png (10KiB), b.txt (5KiB) and c.jpg (20KiB) in that
// order plus an empty extras directory, each body being Filler of its size.
// The rar archive stores members uncompressed with extras before c.jpg; the
// 7z archive is LZMA2 compressed with extras last.
var (
	//go:embed testdata/scenario.cbr
	Rar []byte
	//go:embed testdata/scenario.cb7
	SevenZip []byte
)

// File is one container member. A name ending in "/" is a directory.
type File struct {
	Name    string
	Body    []byte
	Symlink string
	// NonUTF8 marks a zip name as legacy-encoded.
	NonUTF8 bool
}

// Zip returns a zip archive holding files in order.
func Zip(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate, NonUTF8: f.NonUTF8, Modified: time.Unix(1700000000, 0)}
		switch {
		case isDir(f.Name):
			hdr.SetMode(0o755 | fs.ModeDir)
		case f.Symlink != "":
			hdr.SetMode(0o777 | fs.ModeSymlink)
		default:
			hdr.SetMode(0o644)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.Name, err)
		}
		body := f.Body
		if f.Symlink != "" {
			body = []byte(f.Symlink)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatalf("zip write %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Tar returns a tar archive wrapped with filter.
func Tar(t testing.TB, filter compress.Filter, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := compress.NewWriter(nopCloser{&buf}, filter)
	if err != nil {
		t.Fatalf("filter writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for _, f := range files {
		hdr := &tar.Header{Name: f.Name, Mode: 0o644, Size: int64(len(f.Body)), Typeflag: tar.TypeReg, ModTime: time.Unix(1700000000, 0)}
		switch {
		case isDir(f.Name):
			hdr.Typeflag, hdr.Mode, hdr.Size = tar.TypeDir, 0o755, 0
		case f.Symlink != "":
			hdr.Typeflag, hdr.Linkname, hdr.Size = tar.TypeSymlink, f.Symlink, 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", f.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(f.Body); err != nil {
				t.Fatalf("tar write %s: %v", f.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("filter close: %v", err)
	}
	return buf.Bytes()
}

// Picture returns a w×h gradient.
func Picture(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x + y), A: 0xff})
		}
	}
	return img
}

func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Picture(w, h)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func JPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Picture(w, h), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func BMP(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, Picture(w, h)); err != nil {
		t.Fatalf("bmp encode: %v", err)
	}
	return buf.Bytes()
}

// Filler returns n bytes of non-image payload.
func Filler(n int) []byte { return bytes.Repeat([]byte("x"), n) }

func isDir(name string) bool { return len(name) > 0 && name[len(name)-1] == '/' }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
