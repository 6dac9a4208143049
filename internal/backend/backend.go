package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bamsammich/ferry/internal/uri"
)

// Kind is the type of a FileEntry.
type Kind int

const (
	File Kind = iota + 1
	Directory
	Symlink
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileEntry describes a single entry returned by List or Stat.
type FileEntry struct {
	URI        uri.URI
	Kind       Kind
	Size       uint64
	ModTime    time.Time
	IsHidden   bool
	LinkTarget string
}

// NewEntry builds a FileEntry and derives IsHidden from the final segment.
func NewEntry(u uri.URI, kind Kind, size uint64, mtime time.Time) FileEntry {
	return FileEntry{
		URI:      u,
		Kind:     kind,
		Size:     size,
		ModTime:  mtime,
		IsHidden: strings.HasPrefix(u.Base(), "."),
	}
}

func (e FileEntry) IsDir() bool { return e.Kind == Directory }

// Capabilities describes what a backend supports.
type Capabilities struct {
	Symlinks        bool // can create and report symbolic links
	PositionalWrite bool // OpenWrite honours a non-zero offset without truncating
	Directories     bool // directories exist as real objects
	Rename          bool // same-backend rename is available
}

// Pager yields one listing in pages. NextPage returns io.EOF once the
// listing is exhausted.
type Pager interface {
	NextPage(ctx context.Context) ([]FileEntry, error)
	Close() error
}

// WriteStream is an open destination file. Close commits the data; Abort
// releases the stream, keeping whatever the backend has already persisted.
type WriteStream interface {
	io.WriteCloser
	Abort() error
}

// Backend is implemented once per URI scheme. Implementations are safe for
// concurrent use; returned streams are owned by a single caller.
type Backend interface {
	List(ctx context.Context, u uri.URI) (Pager, error)
	Stat(ctx context.Context, u uri.URI) (FileEntry, error)
	OpenRead(ctx context.Context, u uri.URI, offset uint64) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, u uri.URI, offset uint64, truncate bool) (WriteStream, error)
	MakeDirectory(ctx context.Context, u uri.URI) error
	Remove(ctx context.Context, u uri.URI, recursive bool) error
	Caps() Capabilities
	Close() error
}

// Symlinker is implemented by backends that can create symbolic links.
type Symlinker interface {
	Symlink(ctx context.Context, target string, u uri.URI) error
}

// LinkResolver is implemented by backends that can stat through a link.
type LinkResolver interface {
	StatFollow(ctx context.Context, u uri.URI) (FileEntry, error)
}

// Renamer is implemented by backends that can move an entry in place.
type Renamer interface {
	Rename(ctx context.Context, from, to uri.URI) error
}

// TimeSetter is implemented by backends that can set modification times.
type TimeSetter interface {
	SetModTime(ctx context.Context, u uri.URI, mtime time.Time) error
}

// ListAll drains a full listing of u.
func ListAll(ctx context.Context, b Backend, u uri.URI) ([]FileEntry, error) {
	p, err := b.List(ctx, u)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	var all []FileEntry
	for {
		page, err := p.NextPage(ctx)
		all = append(all, page...)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return all, err
		}
	}
}

// slicePager pages over a listing that the backend fetched in one call.
type slicePager struct {
	entries  []FileEntry
	pageSize int
}

func newSlicePager(entries []FileEntry, pageSize int) *slicePager {
	if pageSize <= 0 {
		pageSize = len(entries)
	}
	return &slicePager{entries: entries, pageSize: pageSize}
}

func (p *slicePager) NextPage(ctx context.Context) ([]FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.entries) == 0 {
		return nil, io.EOF
	}
	n := min(p.pageSize, len(p.entries))
	page := p.entries[:n:n]
	p.entries = p.entries[n:]
	return page, nil
}

func (*slicePager) Close() error { return nil }
