package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/islishude/mangaview/internal/cli"
	"github.com/islishude/mangaview/internal/compress"
	"github.com/islishude/mangaview/internal/config"
	"github.com/islishude/mangaview/internal/container/containertest"
	"github.com/islishude/mangaview/internal/viewer"
)

func TestBatchOnDiskArchives(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "vol1.cbz")
	tarPath := filepath.Join(root, "vol2.tar.gz")

	if err := os.WriteFile(zipPath, containertest.Zip(t,
		containertest.File{Name: "01.png", Body: containertest.PNG(t, 3, 3)},
		containertest.File{Name: "02.bmp", Body: containertest.BMP(t, 2, 5)},
	), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tarPath, containertest.Tar(t, compress.Gzip,
		containertest.File{Name: "p/01.jpg", Body: containertest.JPEG(t, 4, 4)},
	), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	r, err := New(config.Default(), &stdout, &bytes.Buffer{},
		viewer.WithFs(afero.NewOsFs()), viewer.WithMemoryStats(plentyOfMemory))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Close()

	for _, target := range []string{zipPath, tarPath} {
		stdout.Reset()
		got := r.Run(context.Background(), cli.Options{Mode: cli.ModeBatch, Target: target})
		if got.ExitCode != ExitSuccess {
			t.Fatalf("%s: exit=%d err=%v", target, got.ExitCode, got.Err)
		}
		if !strings.Contains(stdout.String(), "loaded") {
			t.Fatalf("%s: summary missing: %q", target, stdout.String())
		}
	}

	stdout.Reset()
	got := r.Run(context.Background(), cli.Options{Mode: cli.ModeFolders, Target: root})
	if got.ExitCode != ExitSuccess {
		t.Fatalf("folders exit=%d err=%v", got.ExitCode, got.Err)
	}
	if strings.Count(stdout.String(), "A\t") != 2 {
		t.Fatalf("folders = %q", stdout.String())
	}
}
