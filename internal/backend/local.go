package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/ferry/internal/uri"
)

const defaultLocalPageSize = 256

// Compile-time interface checks.
var (
	_ Backend      = (*Local)(nil)
	_ Symlinker    = (*Local)(nil)
	_ LinkResolver = (*Local)(nil)
	_ Renamer      = (*Local)(nil)
	_ TimeSetter   = (*Local)(nil)
)

// Local serves file: URIs from the local filesystem.
type Local struct {
	pageSize int
}

// NewLocal returns a local backend that lists pageSize entries per page
// (0 = default).
func NewLocal(pageSize int) *Local {
	if pageSize <= 0 {
		pageSize = defaultLocalPageSize
	}
	return &Local{pageSize: pageSize}
}

func (*Local) Caps() Capabilities {
	return Capabilities{
		Symlinks:        true,
		PositionalWrite: true,
		Directories:     true,
		Rename:          true,
	}
}

func (*Local) Close() error { return nil }

func (l *Local) List(ctx context.Context, u uri.URI) (Pager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(u.LocalPath())
	if err != nil {
		return nil, wrapErr("list", u, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapErr("list", u, err)
	}
	if !info.IsDir() {
		f.Close()
		return nil, wrapErr("list", u, ErrNotDirectory)
	}
	return &localPager{dir: f, u: u, pageSize: l.pageSize}, nil
}

// localPager reads a directory a page at a time.
type localPager struct {
	dir      *os.File
	u        uri.URI
	pageSize int
}

func (p *localPager) NextPage(ctx context.Context) ([]FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	des, err := p.dir.ReadDir(p.pageSize)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, wrapErr("list", p.u, err)
	}

	entries := make([]FileEntry, 0, len(des))
	for _, d := range des {
		child := p.u.Join(d.Name())
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between readdir and lstat.
			continue
		}
		if err != nil {
			return entries, wrapErr("stat", child, err)
		}
		entries = append(entries, localEntry(child, info))
	}
	return entries, nil
}

func (p *localPager) Close() error { return p.dir.Close() }

func (*Local) Stat(ctx context.Context, u uri.URI) (FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return FileEntry{}, err
	}
	info, err := os.Lstat(u.LocalPath())
	if err != nil {
		return FileEntry{}, wrapErr("stat", u, err)
	}
	return localEntry(u, info), nil
}

func (*Local) StatFollow(ctx context.Context, u uri.URI) (FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return FileEntry{}, err
	}
	info, err := os.Stat(u.LocalPath())
	if err != nil {
		return FileEntry{}, wrapErr("stat", u, err)
	}
	return localEntry(u, info), nil
}

func (*Local) OpenRead(ctx context.Context, u uri.URI, offset uint64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(u.LocalPath())
	if err != nil {
		return nil, wrapErr("open", u, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapErr("open", u, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, wrapErr("open", u, ErrIsDirectory)
	}
	if offset > 0 {
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil { //nolint:gosec // G115: offsets fit in int64
			f.Close()
			return nil, wrapErr("seek", u, err)
		}
	}
	return f, nil
}

func (*Local) OpenWrite(ctx context.Context, u uri.URI, offset uint64, truncate bool) (WriteStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(u.LocalPath(), flags, 0o644)
	if err != nil {
		if errors.Is(err, unix.EISDIR) {
			err = ErrIsDirectory
		}
		return nil, wrapErr("create", u, err)
	}
	if !truncate {
		// Drop anything past the offset so a resumed write never leaves
		// stale trailing bytes.
		if err := f.Truncate(int64(offset)); err != nil { //nolint:gosec // G115
			f.Close()
			return nil, wrapErr("truncate", u, err)
		}
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil { //nolint:gosec // G115
			f.Close()
			return nil, wrapErr("seek", u, err)
		}
	}
	return &localWriteStream{File: f, u: u}, nil
}

// localWriteStream writes in place; an aborted stream keeps its partial data.
type localWriteStream struct {
	*os.File
	u uri.URI
}

func (s *localWriteStream) Write(p []byte) (int, error) {
	n, err := s.File.Write(p)
	return n, wrapErr("write", s.u, err)
}

func (s *localWriteStream) Close() error {
	return wrapErr("close", s.u, s.File.Close())
}

func (s *localWriteStream) Abort() error {
	err := s.File.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return wrapErr("close", s.u, err)
}

func (*Local) MakeDirectory(ctx context.Context, u uri.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Mkdir(u.LocalPath(), 0o755)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		info, statErr := os.Stat(u.LocalPath())
		if statErr == nil && !info.IsDir() {
			return wrapErr("mkdir", u, ErrNotDirectory)
		}
		return wrapErr("mkdir", u, ErrAlreadyExists)
	}
	return wrapErr("mkdir", u, err)
}

func (*Local) Remove(ctx context.Context, u uri.URI, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := u.LocalPath()
	info, err := os.Lstat(p)
	if err != nil {
		return wrapErr("remove", u, err)
	}
	if info.IsDir() {
		if !recursive {
			return wrapErr("remove", u, ErrIsDirectory)
		}
		return wrapErr("remove", u, os.RemoveAll(p))
	}
	return wrapErr("remove", u, os.Remove(p))
}

func (*Local) Rename(ctx context.Context, from, to uri.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(from.LocalPath(), to.LocalPath()); err != nil {
		return wrapErr("rename", from, fmt.Errorf("to %s: %w", to, err))
	}
	return nil
}

func (*Local) Symlink(ctx context.Context, target string, u uri.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := u.LocalPath()
	_ = os.Remove(p)
	return wrapErr("symlink", u, os.Symlink(target, p))
}

// SetModTime sets atime and mtime without following a final symlink.
func (*Local) SetModTime(ctx context.Context, u uri.URI, mtime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := unix.NsecToTimespec(mtime.UnixNano())
	err := unix.UtimesNanoAt(unix.AT_FDCWD, u.LocalPath(), []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW)
	return wrapErr("utimensat", u, err)
}

func localEntry(u uri.URI, info fs.FileInfo) FileEntry {
	kind := File
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		kind = Symlink
	case info.IsDir():
		kind = Directory
	}
	size := uint64(0)
	if kind == File && info.Size() > 0 {
		size = uint64(info.Size())
	}
	e := NewEntry(u, kind, size, info.ModTime())
	if kind == Symlink {
		if target, err := os.Readlink(u.LocalPath()); err == nil {
			e.LinkTarget = target
		}
	}
	return e
}
