package archive

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islishude/mangaview/internal/compress"
	"github.com/islishude/mangaview/internal/container/containertest"
	"github.com/islishude/mangaview/internal/diag"
	"github.com/islishude/mangaview/internal/memguard"
	"github.com/islishude/mangaview/internal/pathlimit"
)

type countingFs struct {
	afero.Fs
	opens atomic.Int32
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.opens.Add(1)
	return c.Fs.Open(name)
}

type fixture struct {
	fs  *countingFs
	rec *diag.Recorder
	s   *Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{fs: &countingFs{Fs: afero.NewMemMapFs()}, rec: &diag.Recorder{}}
	guard := memguard.New(
		memguard.WithReporter(f.rec),
		memguard.WithStats(func() (uint64, uint64, error) { return 8 << 30, 16 << 30, nil }),
	)
	base := []Option{
		WithFs(f.fs),
		WithReporter(f.rec),
		WithMemoryGuard(guard),
		WithPathPolicy(pathlimit.NewWithProbe(pathlimit.ProbeFunc(func() (bool, error) { return false, nil }), f.rec)),
	}
	f.s = NewSession(append(base, opts...)...)
	t.Cleanup(f.s.Close)
	return f
}

func (f *fixture) write(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs.Fs, name, data, 0o644))
}

func scenarioZip(t *testing.T) []byte {
	return containertest.Zip(t,
		containertest.File{Name: "a.png", Body: containertest.Filler(10 << 10)},
		containertest.File{Name: "b.txt", Body: containertest.Filler(5 << 10)},
		containertest.File{Name: "c.jpg", Body: containertest.Filler(20 << 10)},
	)
}

func TestEnumerationFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/books/vol1.cbz", scenarioZip(t))

	require.NoError(t, f.s.Open("/books/vol1.cbz"))
	assert.True(t, f.s.IsOpen())
	assert.Equal(t, []Entry{
		{Name: "a.png", Size: 10 << 10, Index: 0},
		{Name: "c.jpg", Size: 20 << 10, Index: 1},
	}, f.s.Entries())
}

func TestEnumerationSkipsNonRegularAndEmpty(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/books/vol2.tar.gz", containertest.Tar(t, compress.Gzip,
		containertest.File{Name: "ch1/"},
		containertest.File{Name: `ch1\01.PNG`, Body: []byte("png")},
		containertest.File{Name: "ch1/cover.png", Symlink: "01.PNG"},
		containertest.File{Name: "ch1/blank.jpg"},
		containertest.File{Name: "ch1/02.webp", Body: []byte("webp")},
	))

	require.NoError(t, f.s.Open("/books/vol2.tar.gz"))
	entries := f.s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "ch1/01.PNG", entries[0].Name)
	assert.Equal(t, "ch1/02.webp", entries[1].Name)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
}

func TestRarAndSevenZipSessions(t *testing.T) {
	for name, data := range map[string][]byte{
		"/books/vol1.cbr": containertest.Rar,
		"/books/vol1.cb7": containertest.SevenZip,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.write(t, name, data)

			require.NoError(t, f.s.Open(name))
			assert.Equal(t, []Entry{
				{Name: "a.png", Size: 10 << 10, Index: 0},
				{Name: "c.jpg", Size: 20 << 10, Index: 1},
			}, f.s.Entries())

			// Extracting the later entry first forces a rescan back to index 0.
			got, err := f.s.Extract(1)
			require.NoError(t, err)
			assert.Equal(t, containertest.Filler(20<<10), got)
			got, err = f.s.Extract(0)
			require.NoError(t, err)
			assert.Equal(t, containertest.Filler(10<<10), got)
			assert.Empty(t, f.s.Corrupted())
		})
	}
}

func TestIndexStabilityAcrossReopen(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/a.cbz", scenarioZip(t))

	require.NoError(t, f.s.Open("/a.cbz"))
	first := f.s.Entries()
	f.s.Close()
	require.NoError(t, f.s.Open("/a.cbz"))
	assert.Equal(t, first, f.s.Entries())
}

func TestCacheRoundTrip(t *testing.T) {
	f := newFixture(t)
	body := []byte(strings.Repeat("jpeg-bytes", 300))
	f.write(t, "/a.cbz", containertest.Zip(t,
		containertest.File{Name: "a.png", Body: []byte("png")},
		containertest.File{Name: "c.jpg", Body: body},
	))
	require.NoError(t, f.s.Open("/a.cbz"))

	got, err := f.s.Extract(1)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.True(t, f.s.IsCached(1))

	got[0] = 'X'
	again, err := f.s.Extract(1)
	require.NoError(t, err)
	assert.Equal(t, body, again, "callers receive copies")

	f.s.ClearCache(1)
	assert.False(t, f.s.IsCached(1))
	fresh, err := f.s.Extract(1)
	require.NoError(t, err)
	assert.Equal(t, body, fresh)
}

func TestSecondExtractServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/a.cbz", scenarioZip(t))
	require.NoError(t, f.s.Open("/a.cbz"))

	_, err := f.s.Extract(1)
	require.NoError(t, err)
	opens := f.fs.opens.Load()
	_, err = f.s.Extract(1)
	require.NoError(t, err)
	assert.Equal(t, opens, f.fs.opens.Load())
}

func TestInvalidIndex(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/a.cbz", containertest.Zip(t,
		containertest.File{Name: "1.png", Body: []byte("1")},
		containertest.File{Name: "2.png", Body: []byte("2")},
		containertest.File{Name: "3.png", Body: []byte("3")},
	))
	require.NoError(t, f.s.Open("/a.cbz"))

	for _, i := range []int{5, 3, -1} {
		_, err := f.s.Extract(i)
		require.ErrorIs(t, err, diag.ErrInvalidIndex)
	}
	assert.Empty(t, f.s.Corrupted())
	for i := 0; i < 3; i++ {
		assert.False(t, f.s.IsCached(i))
	}

	f.s.Close()
	_, err := f.s.Extract(0)
	assert.ErrorIs(t, err, diag.ErrInvalidIndex)
}

func TestStickyCorruption(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/a.cbz", scenarioZip(t))
	require.NoError(t, f.s.Open("/a.cbz"))

	// Replace the file so the second image no longer matches what was listed.
	f.write(t, "/a.cbz", containertest.Zip(t,
		containertest.File{Name: "a.png", Body: containertest.Filler(10 << 10)},
		containertest.File{Name: "z.jpg", Body: containertest.Filler(20 << 10)},
	))

	_, err := f.s.Extract(1)
	require.ErrorIs(t, err, diag.ErrExtractionFailed)
	assert.True(t, f.s.IsCorrupted(1))
	assert.True(t, f.s.HasKnownIssues())
	require.Equal(t, 1, f.rec.Count(diag.Corruption))

	opens := f.fs.opens.Load()
	for i := 0; i < 3; i++ {
		_, err = f.s.Extract(1)
		require.ErrorIs(t, err, diag.ErrCorruptedEntry)
	}
	assert.Equal(t, opens, f.fs.opens.Load(), "no I/O for known corrupted entries")
	assert.Equal(t, 1, f.rec.Count(diag.Corruption))
	assert.Equal(t, "Corrupted entries in /a.cbz:\n- Entry 1: c.jpg\n", f.s.CorruptionReport())

	// Other entries stay usable.
	_, err = f.s.Extract(0)
	require.NoError(t, err)

	f.s.Close()
	require.NoError(t, f.s.Open("/a.cbz"))
	assert.False(t, f.s.IsCorrupted(1))
	assert.Empty(t, f.s.CorruptionReport())
	_, err = f.s.Extract(1)
	require.NoError(t, err)
}

func TestEntryCeiling(t *testing.T) {
	f := newFixture(t, WithLimits(Limits{MaxFolderDepth: 5, MaxInternalPath: 150, MaxEntryBytes: 1024}))
	f.write(t, "/a.cbz", containertest.Zip(t,
		containertest.File{Name: "small.png", Body: containertest.Filler(512)},
		containertest.File{Name: "huge.png", Body: containertest.Filler(4096)},
	))
	require.NoError(t, f.s.Open("/a.cbz"))

	_, err := f.s.Extract(1)
	require.ErrorIs(t, err, diag.ErrMemoryExhausted)
	assert.True(t, f.s.IsCorrupted(1))
	assert.Equal(t, 1, f.rec.Count(diag.Memory))

	_, err = f.s.Extract(0)
	assert.NoError(t, err)
}

func TestMemoryGuardDenial(t *testing.T) {
	f := newFixture(t)
	f.s.guard = memguard.New(memguard.WithLimits(100, 0), memguard.WithReporter(f.rec))
	f.write(t, "/a.cbz", containertest.Zip(t, containertest.File{Name: "p.png", Body: containertest.Filler(101)}))
	require.NoError(t, f.s.Open("/a.cbz"))

	_, err := f.s.Extract(0)
	require.ErrorIs(t, err, diag.ErrMemoryExhausted)
	assert.Equal(t, 1, f.rec.Count(diag.Memory))
	assert.False(t, f.s.IsCached(0))
}

func TestStructureLimits(t *testing.T) {
	cases := map[string]string{
		"depth":  "a/b/c/d/e/f/notes.txt",
		"length": strings.Repeat("n", 147) + ".png",
	}
	for name, deep := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.write(t, "/a.cbz", containertest.Zip(t,
				containertest.File{Name: "ok.png", Body: []byte("png")},
				containertest.File{Name: deep, Body: []byte("x")},
			))
			err := f.s.Open("/a.cbz")
			require.ErrorIs(t, err, diag.ErrEnumerationFailed)
			assert.False(t, f.s.IsOpen())
			assert.Zero(t, f.s.Len())
			assert.Equal(t, 1, f.rec.Count(diag.Critical))
		})
	}

	f := newFixture(t)
	f.write(t, "/edge.cbz", containertest.Zip(t,
		containertest.File{Name: "a/b/c/d/e/p.png", Body: []byte("png")},
		containertest.File{Name: strings.Repeat("n", 146) + ".png", Body: []byte("png")},
	))
	require.NoError(t, f.s.Open("/edge.cbz"), "depth 5 and 150 chars are allowed")
}

func TestOpenFailuresLeaveSessionClosed(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/empty.cbz", nil)
	f.write(t, "/garbage.cbz", []byte("this is not an archive"))
	f.write(t, "/text.zip", containertest.Zip(t, containertest.File{Name: "readme.txt", Body: []byte("hi")}))

	require.ErrorIs(t, f.s.Open("/missing.cbz"), diag.ErrSourceNotFound)
	require.ErrorIs(t, f.s.Open("/empty.cbz"), diag.ErrSourceEmpty)
	require.ErrorIs(t, f.s.Open("/garbage.cbz"), diag.ErrOpenFailed)
	require.ErrorIs(t, f.s.Open("/text.zip"), diag.ErrSourceEmpty)
	assert.False(t, f.s.IsOpen())
	assert.Empty(t, f.s.Entries())
	assert.Empty(t, f.s.Path())
}

func TestPreflightRejectionKeepsCurrentArchive(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/a.cbz", scenarioZip(t))
	require.NoError(t, f.s.Open("/a.cbz"))

	long := "/" + strings.Repeat("x", 90) + ".cbz"
	f.write(t, long, scenarioZip(t))
	require.ErrorIs(t, f.s.Open(long), diag.ErrSourceIncompatible)
	assert.True(t, f.s.IsOpen())
	assert.Equal(t, "/a.cbz", f.s.Path())
	assert.Equal(t, 1, f.rec.Count(diag.Warning))
}

func TestPreloadAndClearAll(t *testing.T) {
	f := newFixture(t)
	var files []containertest.File
	for _, n := range []string{"0.png", "1.png", "2.png", "3.png", "4.png"} {
		files = append(files, containertest.File{Name: n, Body: []byte(n)})
	}
	f.write(t, "/a.cbz", containertest.Zip(t, files...))
	require.NoError(t, f.s.Open("/a.cbz"))

	f.s.Preload(context.Background(), 1, 2)
	assert.False(t, f.s.IsCached(1))
	assert.True(t, f.s.IsCached(2))
	assert.True(t, f.s.IsCached(3))
	assert.False(t, f.s.IsCached(4))

	f.s.Preload(context.Background(), 3, 5)
	assert.True(t, f.s.IsCached(4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.s.Preload(ctx, -1, 1)
	assert.False(t, f.s.IsCached(0))

	f.s.ClearCache(All)
	for i := 0; i < 5; i++ {
		assert.False(t, f.s.IsCached(i))
	}
	assert.Equal(t, 5, f.s.Len(), "clearing the cache keeps entries")
}

func TestConcurrentExtract(t *testing.T) {
	f := newFixture(t)
	var files []containertest.File
	for i := 0; i < 8; i++ {
		files = append(files, containertest.File{Name: string(rune('a'+i)) + ".jpg", Body: containertest.Filler(100 + i)})
	}
	f.write(t, "/a.cbz", containertest.Zip(t, files...))
	require.NoError(t, f.s.Open("/a.cbz"))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				b, err := f.s.Extract(i)
				assert.NoError(t, err)
				assert.Len(t, b, 100+i)
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, f.s.Corrupted())
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.s.Close()
	f.write(t, "/a.cbz", scenarioZip(t))
	require.NoError(t, f.s.Open("/a.cbz"))
	f.s.Close()
	f.s.Close()
	assert.False(t, f.s.IsOpen())
	assert.Zero(t, f.s.Len())
}
