package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.pdf"), "b")
	touch(t, filepath.Join(root, "a.PDF"), "a")
	touch(t, filepath.Join(root, "sub", "c.png"), "c")
	touch(t, filepath.Join(root, "sub", "notes.txt"), "n")
	touch(t, filepath.Join(root, ".hidden", "d.pdf"), "d")
	touch(t, filepath.Join(root, ".e.pdf"), "e")
	touch(t, filepath.Join(root, "sub", "copy-of-b.pdf"), "b")

	got, stats, err := Discover(root, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.PDF"),
		filepath.Join(root, "b.pdf"),
		filepath.Join(root, "sub", "c.png"),
	}, got)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(1), stats.Duplicates)

	withHidden, _, err := Discover(root, []string{".pdf"}, false)
	require.NoError(t, err)
	assert.Len(t, withHidden, 4)
}

func TestDiscoverSingleFileAndErrors(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "form.pdf")
	touch(t, doc, "x")

	got, _, err := Discover(doc, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{doc}, got)

	txt := filepath.Join(dir, "notes.txt")
	touch(t, txt, "x")
	_, _, err = Discover(txt, nil, true)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, _, err = Discover("", nil, true)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, _, err = Discover(filepath.Join(dir, "missing"), nil, true)
	assert.ErrorIs(t, err, common.ErrLocalIO)
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden("/a/.git"))
	assert.False(t, IsHidden("/a/b.pdf"))
	assert.False(t, IsHidden("."))
	assert.True(t, AllowedExt(".JPEG"))
	assert.False(t, AllowedExt("txt"))
}

func TestWatchEmitsSettledFiles(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "old.pdf")
	touch(t, existing, "old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no event")
			return ""
		}
	}
	assert.Equal(t, existing, next())

	fresh := filepath.Join(root, "new.pdf")
	touch(t, fresh, "new")
	touch(t, filepath.Join(root, "skip.txt"), "x")
	assert.Equal(t, fresh, next())

	cancel()
	for range events {
	}
}
