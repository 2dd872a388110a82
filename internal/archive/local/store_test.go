package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRejectsFileAndEmpty(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(file)
	require.Error(t, err)
}

func TestPutObjectWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/2026/03/04/run-1.html", "text/html",
		strings.NewReader("<html>ok</html>"))
	require.NoError(t, err)

	want := filepath.Join(dir, "snapshots", "2026", "03", "04", "run-1.html")
	assert.Equal(t, "file://"+filepath.ToSlash(want), uri)

	raw, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(raw))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestPutObjectOverwrites(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.html", "", strings.NewReader("first"))
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "a.html", "", strings.NewReader("second"))
	require.NoError(t, err)

	raw, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(raw))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "", strings.NewReader("x"))
	require.True(t, errors.Is(err, ErrOutsideBaseDir), "got %v", err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.PutObject(ctx, "a.html", "", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}
