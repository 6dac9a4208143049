package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/uri"
)

// writeTree creates files below root. Keys are slash-separated relative
// paths; a key ending in "/" creates an empty directory.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
}

// readTree returns every regular file below root keyed by slash path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func localURI(t *testing.T, p string) uri.URI {
	t.Helper()
	u, err := uri.Parse(p, uri.Local)
	require.NoError(t, err)
	return u
}

// setMTime sets the modification time of a local file.
func setMTime(t *testing.T, p string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

// recorder is an event.Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []event.ProgressEvent
}

func (r *recorder) OnEvent(e event.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []event.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) count(phase event.Phase) int {
	n := 0
	for _, e := range r.all() {
		if e.Phase == phase {
			n++
		}
	}
	return n
}

// byTask groups events by task, preserving order.
func (r *recorder) byTask() map[string][]event.ProgressEvent {
	out := make(map[string][]event.ProgressEvent)
	for _, e := range r.all() {
		out[e.TaskID] = append(out[e.TaskID], e)
	}
	return out
}

// hookedLocal is the local backend with fault injection and accounting.
type hookedLocal struct {
	*backend.Local

	// onList, when set, may fail a listing.
	onList func(u uri.URI) error
	// onOpenRead, when set, may fail or wrap a read stream. attempt counts
	// OpenRead calls per URI, starting at 1.
	onOpenRead func(u uri.URI, attempt int, r io.ReadCloser) (io.ReadCloser, error)

	mu        sync.Mutex
	listed    []string
	attempts  map[string]int
	bytesRead atomic.Int64
}

func newHookedLocal(pageSize int) *hookedLocal {
	return &hookedLocal{Local: backend.NewLocal(pageSize), attempts: make(map[string]int)}
}

func (h *hookedLocal) List(ctx context.Context, u uri.URI) (backend.Pager, error) {
	h.mu.Lock()
	h.listed = append(h.listed, u.Path())
	h.mu.Unlock()
	if h.onList != nil {
		if err := h.onList(u); err != nil {
			return nil, err
		}
	}
	return h.Local.List(ctx, u)
}

func (h *hookedLocal) OpenRead(ctx context.Context, u uri.URI, offset uint64) (io.ReadCloser, error) {
	h.mu.Lock()
	h.attempts[u.Path()]++
	attempt := h.attempts[u.Path()]
	h.mu.Unlock()

	r, err := h.Local.OpenRead(ctx, u, offset)
	if err != nil {
		return nil, err
	}
	r = &countingReader{ReadCloser: r, n: &h.bytesRead}
	if h.onOpenRead != nil {
		return h.onOpenRead(u, attempt, r)
	}
	return r, nil
}

func (h *hookedLocal) listedPaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := slices.Clone(h.listed)
	sort.Strings(out)
	return out
}

func (h *hookedLocal) openAttempts(u uri.URI) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[u.Path()]
}

type countingReader struct {
	io.ReadCloser
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// faultReader returns err once limit bytes have been read.
type faultReader struct {
	io.ReadCloser
	limit int64
	err   error
}

func (f *faultReader) Read(p []byte) (int, error) {
	if f.limit <= 0 {
		return 0, f.err
	}
	if int64(len(p)) > f.limit {
		p = p[:f.limit]
	}
	n, err := f.ReadCloser.Read(p)
	f.limit -= int64(n)
	return n, err
}

// localRegistry returns a registry whose file: scheme is served by b.
func localRegistry(b backend.Backend) *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(uri.Local, func(context.Context, uri.URI) (backend.Backend, error) { return b, nil })
	return reg
}

// fastRetry keeps retry tests quick.
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}
