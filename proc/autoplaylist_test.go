package proc

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAutoplaylist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoplaylist.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAutoPlaylistLoadSkipsCommentsAndBlanks(t *testing.T) {
	path := writeAutoplaylist(t, "# favourites\nhttps://a\n\n  https://b  \n")
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	assert.Equal(t, []string{"https://a", "https://b"}, ap.Refs())
	assert.True(t, ap.Enabled())
}

func TestAutoPlaylistMissingFileDisables(t *testing.T) {
	ap := NewAutoPlaylist(filepath.Join(t.TempDir(), "nope.txt"), nil, false)
	require.NoError(t, ap.Load())
	assert.False(t, ap.Enabled())
	assert.Empty(t, ap.Refs())
}

func TestAutoPlaylistNextEnqueues(t *testing.T) {
	path := writeAutoplaylist(t, "good\n")
	pl := newTestPlaylist(t, newStubResolver("good"))
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	e, err := ap.Next(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, "good", e.Title)
	assert.Nil(t, e.Requester)
	assert.Equal(t, 1, pl.Len())
}

func TestAutoPlaylistRemovesUnplayable(t *testing.T) {
	path := writeAutoplaylist(t, "bad1\nbad2\n")
	pl := newTestPlaylist(t, newStubResolver())
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	_, err := ap.Next(context.Background(), pl)
	assert.ErrorIs(t, err, ErrAutoplayExhausted)
	assert.Empty(t, ap.Refs())
	assert.False(t, ap.Enabled())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(data))
}

func TestAutoPlaylistCollectionIsAddedInBulk(t *testing.T) {
	path := writeAutoplaylist(t, "list\n")
	r := newStubResolver("x", "y")
	r.collection("list", "x", "y")
	pl := newTestPlaylist(t, r)
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	e, err := ap.Next(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, "x", e.Title)
	assert.Equal(t, 2, pl.Len())
	assert.Equal(t, []string{"list"}, ap.Refs())
}

func TestAutoPlaylistRemoveKeepsComments(t *testing.T) {
	path := writeAutoplaylist(t, "# favourites\ngood\n\nbad\n# end\n")
	pl := newTestPlaylist(t, newStubResolver("good"))
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	require.NoError(t, ap.Remove("bad"))
	assert.Equal(t, []string{"good"}, ap.Refs())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# favourites\ngood\n\n# end\n", string(data))

	_, err = ap.Next(context.Background(), pl)
	require.NoError(t, err)
}

func TestAutoPlaylistReloadKeepsManualDisable(t *testing.T) {
	path := writeAutoplaylist(t, "one\n")
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	ap.SetEnabled(false)
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0644))
	require.NoError(t, ap.reload())
	assert.Equal(t, []string{"one", "two"}, ap.Refs())
	assert.False(t, ap.Enabled())
}

func TestAutoPlaylistReloadRevivesExhausted(t *testing.T) {
	path := writeAutoplaylist(t, "bad\n")
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	_, err := ap.Next(context.Background(), newTestPlaylist(t, newStubResolver()))
	require.ErrorIs(t, err, ErrAutoplayExhausted)
	require.False(t, ap.Enabled())

	require.NoError(t, os.WriteFile(path, []byte("fresh\n"), 0644))
	require.NoError(t, ap.reload())
	assert.True(t, ap.Enabled())
}

type emptyArchive struct{}

func (emptyArchive) RandomLocal() (string, bool) { return "", false }

func TestAutoPlaylistArchiveModeWithoutSets(t *testing.T) {
	ap := NewAutoPlaylist(filepath.Join(t.TempDir(), "unused.txt"), emptyArchive{}, true)
	require.NoError(t, ap.Load())
	assert.True(t, ap.Enabled())

	_, err := ap.Next(context.Background(), newTestPlaylist(t, newStubResolver()))
	assert.ErrorIs(t, err, ErrAutoplayExhausted)
}

func TestAutoPlaylistWatchReloads(t *testing.T) {
	path := writeAutoplaylist(t, "one\n")
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, ap.Watch(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	want := []string{"one", "two"}
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("one\ntwo\n"), 0644)
		return slices.Equal(ap.Refs(), want)
	}, 5*time.Second, 100*time.Millisecond)
}

func TestAutoPlaylistSetArchiveMode(t *testing.T) {
	path := writeAutoplaylist(t, "good\n")
	ap := NewAutoPlaylist(path, nil, false)
	require.NoError(t, ap.Load())
	assert.ErrorIs(t, ap.SetArchiveMode(true), ErrNoLocalArchive)
	assert.False(t, ap.ArchiveMode())

	ap = NewAutoPlaylist(path, emptyArchive{}, false)
	require.NoError(t, ap.Load())
	require.NoError(t, ap.SetArchiveMode(true))
	assert.True(t, ap.ArchiveMode())
	assert.True(t, ap.Enabled())

	_, err := ap.Next(context.Background(), newTestPlaylist(t, newStubResolver("good")))
	assert.ErrorIs(t, err, ErrAutoplayExhausted, "archive mode ignores the file")

	require.NoError(t, ap.SetArchiveMode(false))
	pl := newTestPlaylist(t, newStubResolver("good"))
	e, err := ap.Next(context.Background(), pl)
	require.NoError(t, err)
	assert.Equal(t, "good", e.Title)
}
