package backend_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/backend/backendtest"
	"github.com/bamsammich/ferry/internal/uri"
)

func blobURI(t *testing.T, p string) uri.URI {
	t.Helper()
	u, err := uri.Parse("blob://bucket"+p, uri.Blob)
	require.NoError(t, err)
	return u
}

func newTestS3(t *testing.T, pageSize int32) (*backend.S3, *backendtest.FakeS3) {
	t.Helper()
	fake := backendtest.NewFakeS3()
	b := backend.NewS3(fake, "bucket", backend.S3Opts{PageSize: pageSize})
	return b, fake
}

func TestS3ListDelimited(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)
	now := time.Now()
	fake.Put("photos/a.jpg", []byte("aaa"), now)
	fake.Put("photos/2024/b.jpg", []byte("bb"), now)
	fake.Put("photos/2024/c.jpg", []byte("c"), now)
	fake.Put("other.txt", []byte("o"), now)

	entries, err := backend.ListAll(context.Background(), b, blobURI(t, "/photos"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024", "a.jpg"}, names(entries))
	for _, e := range entries {
		if e.URI.Base() == "2024" {
			assert.True(t, e.IsDir())
		} else {
			assert.Equal(t, uint64(3), e.Size)
		}
	}

	root, err := backend.ListAll(context.Background(), b, blobURI(t, "/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"other.txt", "photos"}, names(root))
}

func TestS3ListPaginates(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 2)
	for i := range 5 {
		fake.Put(fmt.Sprintf("dir/f%d", i), []byte("x"), time.Now())
	}

	entries, err := backend.ListAll(context.Background(), b, blobURI(t, "/dir"))
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	assert.Equal(t, 3, fake.ListCalls())
}

func TestS3ListErrors(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)
	fake.Put("file", []byte("x"), time.Now())
	ctx := context.Background()

	_, err := b.List(ctx, blobURI(t, "/file"))
	require.ErrorIs(t, err, backend.ErrNotDirectory)

	_, err = backend.ListAll(ctx, b, blobURI(t, "/missing"))
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestS3Stat(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)
	mtime := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fake.Put("dir/obj", []byte("12345"), mtime)
	ctx := context.Background()

	e, err := b.Stat(ctx, blobURI(t, "/dir/obj"))
	require.NoError(t, err)
	assert.Equal(t, backend.File, e.Kind)
	assert.Equal(t, uint64(5), e.Size)
	assert.True(t, e.ModTime.Equal(mtime))

	dir, err := b.Stat(ctx, blobURI(t, "/dir"))
	require.NoError(t, err)
	assert.True(t, dir.IsDir())

	root, err := b.Stat(ctx, blobURI(t, "/"))
	require.NoError(t, err)
	assert.True(t, root.IsDir())

	_, err = b.Stat(ctx, blobURI(t, "/nope"))
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestS3ReadRange(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)
	fake.Put("obj", []byte("0123456789"), time.Now())

	assert.Equal(t, "0123456789", readAll(t, b, blobURI(t, "/obj"), 0))
	assert.Equal(t, "789", readAll(t, b, blobURI(t, "/obj"), 7))
	assert.Empty(t, readAll(t, b, blobURI(t, "/obj"), 10))

	_, err := b.OpenRead(context.Background(), blobURI(t, "/missing"), 0)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestS3WriteUploadsOnClose(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)
	ctx := context.Background()

	w, err := b.OpenWrite(ctx, blobURI(t, "/up/load.bin"), 0, true)
	require.NoError(t, err)
	_, err = io.WriteString(w, "payload")
	require.NoError(t, err)
	assert.Zero(t, fake.PutCalls(), "nothing is uploaded before Close")
	require.NoError(t, w.Close())

	got, ok := fake.Object("up/load.bin")
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))
}

func TestS3AbortUploadsNothing(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)

	w, err := b.OpenWrite(context.Background(), blobURI(t, "/aborted"), 0, true)
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, ok := fake.Object("aborted")
	assert.False(t, ok)
	assert.Zero(t, fake.PutCalls())
}

func TestS3WriteLargeObjectInParts(t *testing.T) {
	t.Parallel()
	fake := backendtest.NewFakeS3()
	fake.MinPartSize = 1000
	b := backend.NewS3(fake, "bucket", backend.S3Opts{PartSize: 1000})

	payload := bytes.Repeat([]byte("0123456789abcdef"), 160) // 2560 bytes
	w, err := b.OpenWrite(context.Background(), blobURI(t, "/big.bin"), 0, true)
	require.NoError(t, err)
	for chunk := range slices.Chunk(payload, 300) {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fake.PartCalls(), "full parts go out as they fill")
	_, ok := fake.Object("big.bin")
	assert.False(t, ok, "object is not visible before Close")

	require.NoError(t, w.Close())
	got, ok := fake.Object("big.bin")
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, 3, fake.PartCalls())
	assert.Zero(t, fake.PutCalls())
	assert.Zero(t, fake.PendingUploads())
}

func TestS3WriteExactPartMultiple(t *testing.T) {
	t.Parallel()
	fake := backendtest.NewFakeS3()
	fake.MinPartSize = 1000
	b := backend.NewS3(fake, "bucket", backend.S3Opts{PartSize: 1000})

	w, err := b.OpenWrite(context.Background(), blobURI(t, "/even.bin"), 0, true)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 2000))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, ok := fake.Object("even.bin")
	require.True(t, ok)
	assert.Len(t, got, 2000)
	assert.Equal(t, 2, fake.PartCalls())
}

func TestS3AbortCancelsMultipartUpload(t *testing.T) {
	t.Parallel()
	fake := backendtest.NewFakeS3()
	b := backend.NewS3(fake, "bucket", backend.S3Opts{PartSize: 100})
	ctx, cancel := context.WithCancel(context.Background())

	w, err := b.OpenWrite(ctx, blobURI(t, "/half.bin"), 0, true)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 250))
	require.NoError(t, err)
	require.Equal(t, 1, fake.PendingUploads())

	cancel()
	require.NoError(t, w.Abort())
	assert.Zero(t, fake.PendingUploads())
	_, ok := fake.Object("half.bin")
	assert.False(t, ok)
	require.NoError(t, w.Close(), "closing after abort is a no-op")
}

func TestS3RejectsAppend(t *testing.T) {
	t.Parallel()
	b, _ := newTestS3(t, 0)
	assert.False(t, b.Caps().PositionalWrite)

	_, err := b.OpenWrite(context.Background(), blobURI(t, "/obj"), 4, false)
	require.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestS3Remove(t *testing.T) {
	t.Parallel()
	b, fake := newTestS3(t, 0)
	now := time.Now()
	fake.Put("tree/a", []byte("a"), now)
	fake.Put("tree/sub/b", []byte("b"), now)
	fake.Put("keep", []byte("k"), now)
	ctx := context.Background()

	require.ErrorIs(t, b.Remove(ctx, blobURI(t, "/tree"), false), backend.ErrIsDirectory)
	require.NoError(t, b.Remove(ctx, blobURI(t, "/tree"), true))
	assert.Equal(t, []string{"keep"}, fake.Keys())

	require.NoError(t, b.Remove(ctx, blobURI(t, "/keep"), false))
	assert.Empty(t, fake.Keys())
}
