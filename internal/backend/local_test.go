package backend_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/uri"
)

func localURI(t *testing.T, p string) uri.URI {
	t.Helper()
	u, err := uri.Parse(p, uri.Local)
	require.NoError(t, err)
	return u
}

// setupTestTree creates:
//
//	file.txt        "hello"
//	.hidden         "h"
//	sub/nested.txt  "nested"
//	sub/deep/deep.txt "deep"
//	sub/link -> nested.txt
func setupTestTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "nested.txt"), []byte("nested"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "deep", "deep.txt"), []byte("deep"), 0o644))
	require.NoError(t, os.Symlink("nested.txt", filepath.Join(dir, "sub", "link")))

	return dir
}

func names(entries []backend.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URI.Base()
	}
	sort.Strings(out)
	return out
}

func TestLocalList(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)

	entries, err := backend.ListAll(context.Background(), b, localURI(t, dir))
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden", "file.txt", "sub"}, names(entries))

	for _, e := range entries {
		switch e.URI.Base() {
		case ".hidden":
			assert.True(t, e.IsHidden)
			assert.Equal(t, backend.File, e.Kind)
		case "file.txt":
			assert.False(t, e.IsHidden)
			assert.Equal(t, uint64(5), e.Size)
		case "sub":
			assert.True(t, e.IsDir())
			assert.Zero(t, e.Size)
		}
	}
}

func TestLocalListPages(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	b := backend.NewLocal(2)
	ctx := context.Background()
	p, err := b.List(ctx, localURI(t, dir))
	require.NoError(t, err)
	defer p.Close()

	var sizes []int
	for {
		page, err := p.NextPage(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(page))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestLocalListErrors(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()

	_, err := b.List(ctx, localURI(t, filepath.Join(dir, "missing")))
	require.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.List(ctx, localURI(t, filepath.Join(dir, "file.txt")))
	require.ErrorIs(t, err, backend.ErrNotDirectory)

	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "list", be.Op)
}

func TestLocalStatSymlink(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()
	link := localURI(t, filepath.Join(dir, "sub", "link"))

	e, err := b.Stat(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, backend.Symlink, e.Kind)
	assert.Equal(t, "nested.txt", e.LinkTarget)

	followed, err := b.StatFollow(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, backend.File, followed.Kind)
	assert.Equal(t, uint64(6), followed.Size)
}

func TestLocalOpenReadOffset(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()

	r, err := b.OpenRead(ctx, localURI(t, filepath.Join(dir, "file.txt")), 2)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "llo", string(data))

	_, err = b.OpenRead(ctx, localURI(t, filepath.Join(dir, "sub")), 0)
	require.ErrorIs(t, err, backend.ErrIsDirectory)
}

func TestLocalOpenWriteResumeTruncatesTail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "partial")
	require.NoError(t, os.WriteFile(p, []byte("abcdXXXXXX"), 0o644))

	b := backend.NewLocal(0)
	w, err := b.OpenWrite(context.Background(), localURI(t, p), 4, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("ef"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
}

func TestLocalAbortKeepsPartial(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "out")

	b := backend.NewLocal(0)
	w, err := b.OpenWrite(context.Background(), localURI(t, p), 0, true)
	require.NoError(t, err)
	_, err = w.Write([]byte("part"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort(), "second abort is a no-op")

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "part", string(got))
}

func TestLocalMakeDirectory(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()

	require.NoError(t, b.MakeDirectory(ctx, localURI(t, filepath.Join(dir, "new"))))
	err := b.MakeDirectory(ctx, localURI(t, filepath.Join(dir, "new")))
	require.ErrorIs(t, err, backend.ErrAlreadyExists)

	err = b.MakeDirectory(ctx, localURI(t, filepath.Join(dir, "file.txt")))
	require.ErrorIs(t, err, backend.ErrNotDirectory)

	err = b.MakeDirectory(ctx, localURI(t, filepath.Join(dir, "a", "b")))
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestLocalRemove(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()
	sub := localURI(t, filepath.Join(dir, "sub"))

	require.ErrorIs(t, b.Remove(ctx, sub, false), backend.ErrIsDirectory)
	require.NoError(t, b.Remove(ctx, sub, true))
	assert.NoDirExists(t, filepath.Join(dir, "sub"))

	require.NoError(t, b.Remove(ctx, localURI(t, filepath.Join(dir, "file.txt")), false))
	assert.NoFileExists(t, filepath.Join(dir, "file.txt"))

	require.ErrorIs(t, b.Remove(ctx, sub, true), backend.ErrNotFound)
}

func TestLocalSymlinkReplaces(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()
	link := localURI(t, filepath.Join(dir, "sub", "link"))

	require.NoError(t, b.Symlink(ctx, "deep/deep.txt", link))
	target, err := os.Readlink(link.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, "deep/deep.txt", target)
}

func TestLocalRenameAndSetModTime(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx := context.Background()
	from := localURI(t, filepath.Join(dir, "file.txt"))
	to := localURI(t, filepath.Join(dir, "renamed.txt"))

	require.NoError(t, b.Rename(ctx, from, to))
	assert.NoFileExists(t, from.LocalPath())

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, b.SetModTime(ctx, to, mtime))
	e, err := b.Stat(ctx, to)
	require.NoError(t, err)
	assert.True(t, e.ModTime.Equal(mtime), "got %v", e.ModTime)
}

func TestLocalCancelledContext(t *testing.T) {
	t.Parallel()
	dir := setupTestTree(t)
	b := backend.NewLocal(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Stat(ctx, localURI(t, dir))
	require.ErrorIs(t, err, context.Canceled)
	_, err = b.List(ctx, localURI(t, dir))
	require.ErrorIs(t, err, context.Canceled)
}
