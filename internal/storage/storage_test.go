package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := "user-1/42/1700000000000_cv.pdf"
	require.NoError(t, st.Upload(ctx, key, strings.NewReader("pdf-bytes")))

	ok, err := st.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := st.Download(ctx, key)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "pdf-bytes", string(b))

	require.NoError(t, st.Delete(ctx, key))
	require.NoError(t, st.Delete(ctx, key), "deleting twice is fine")

	ok, err = st.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.Download(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_KeyCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	st, err := NewLocalStorage(root)
	require.NoError(t, err)

	require.NoError(t, st.Upload(context.Background(), "../../escape.txt", strings.NewReader("x")))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}

func TestScratch_FetchAndRelease(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Upload(ctx, "u/1/cv.docx", strings.NewReader("docx")))

	sc := NewScratch(st, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h, err := sc.Fetch(ctx, "u/1/cv.docx")
	require.NoError(t, err)
	assert.Equal(t, ".docx", filepath.Ext(h.Path))

	b, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Equal(t, "docx", string(b))

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	_, err = os.Stat(h.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestScratch_MissingObject(t *testing.T) {
	st, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	sc := NewScratch(st, t.TempDir(), nil)
	_, err = sc.Fetch(context.Background(), "u/1/missing.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
