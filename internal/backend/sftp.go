package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"

	"github.com/bamsammich/ferry/internal/uri"
)

// Compile-time interface checks.
var (
	_ Backend      = (*SFTP)(nil)
	_ Symlinker    = (*SFTP)(nil)
	_ LinkResolver = (*SFTP)(nil)
	_ Renamer      = (*SFTP)(nil)
	_ TimeSetter   = (*SFTP)(nil)
)

// SFTP serves storage: URIs from a remote filesystem over SFTP. One client
// is shared by all workers; pkg/sftp multiplexes requests over the session.
type SFTP struct {
	client   *sftp.Client
	conn     io.Closer // underlying SSH connection, may be nil
	pageSize int
}

// NewSFTP wraps an established SFTP client. conn, when non-nil, is closed
// after the client.
func NewSFTP(client *sftp.Client, conn io.Closer, pageSize int) *SFTP {
	return &SFTP{client: client, conn: conn, pageSize: pageSize}
}

// DialSFTP connects to host over SSH and starts an SFTP session.
func DialSFTP(ctx context.Context, host string, opts SSHOpts, pageSize int) (*SFTP, error) {
	sshClient, err := DialSSH(ctx, host, opts)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	return NewSFTP(client, sshClient, pageSize), nil
}

func (*SFTP) Caps() Capabilities {
	return Capabilities{
		Symlinks:        true,
		PositionalWrite: true,
		Directories:     true,
		Rename:          true,
	}
}

func (s *SFTP) Close() error {
	err := s.client.Close()
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	return err
}

func (s *SFTP) List(ctx context.Context, u uri.URI) (Pager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := u.Path()
	info, err := s.client.Stat(p)
	if err != nil {
		return nil, wrapErr("list", u, err)
	}
	if !info.IsDir() {
		return nil, wrapErr("list", u, ErrNotDirectory)
	}
	infos, err := s.client.ReadDir(p)
	if err != nil {
		return nil, wrapErr("list", u, err)
	}
	entries := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, s.entry(u.Join(info.Name()), info))
	}
	return newSlicePager(entries, s.pageSize), nil
}

func (s *SFTP) Stat(ctx context.Context, u uri.URI) (FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return FileEntry{}, err
	}
	info, err := s.client.Lstat(u.Path())
	if err != nil {
		return FileEntry{}, wrapErr("stat", u, err)
	}
	return s.entry(u, info), nil
}

func (s *SFTP) StatFollow(ctx context.Context, u uri.URI) (FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return FileEntry{}, err
	}
	info, err := s.client.Stat(u.Path())
	if err != nil {
		return FileEntry{}, wrapErr("stat", u, err)
	}
	return s.entry(u, info), nil
}

func (s *SFTP) OpenRead(ctx context.Context, u uri.URI, offset uint64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.client.Open(u.Path())
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
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil { //nolint:gosec // G115
			f.Close()
			return nil, wrapErr("seek", u, err)
		}
	}
	return f, nil
}

func (s *SFTP) OpenWrite(ctx context.Context, u uri.URI, offset uint64, truncate bool) (WriteStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := u.Path()
	if info, err := s.client.Stat(p); err == nil && info.IsDir() {
		return nil, wrapErr("create", u, ErrIsDirectory)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := s.client.OpenFile(p, flags)
	if err != nil {
		return nil, wrapErr("create", u, err)
	}
	if !truncate {
		if err := f.Truncate(int64(offset)); err != nil { //nolint:gosec // G115
			f.Close()
			return nil, wrapErr("truncate", u, err)
		}
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil { //nolint:gosec // G115
			f.Close()
			return nil, wrapErr("seek", u, err)
		}
	}
	return &sftpWriteStream{File: f, u: u}, nil
}

// sftpWriteStream writes in place; an aborted stream keeps its partial data.
type sftpWriteStream struct {
	*sftp.File
	u      uri.URI
	closed bool
}

func (w *sftpWriteStream) Write(p []byte) (int, error) {
	n, err := w.File.Write(p)
	return n, wrapErr("write", w.u, err)
}

func (w *sftpWriteStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return wrapErr("close", w.u, w.File.Close())
}

func (w *sftpWriteStream) Abort() error { return w.Close() }

func (s *SFTP) MakeDirectory(ctx context.Context, u uri.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := u.Path()
	err := s.client.Mkdir(p)
	if err == nil {
		return nil
	}
	// SFTP servers report an existing path as a generic failure.
	info, statErr := s.client.Stat(p)
	if statErr != nil {
		return wrapErr("mkdir", u, err)
	}
	if !info.IsDir() {
		return wrapErr("mkdir", u, ErrNotDirectory)
	}
	return wrapErr("mkdir", u, ErrAlreadyExists)
}

func (s *SFTP) Remove(ctx context.Context, u uri.URI, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := u.Path()
	info, err := s.client.Lstat(p)
	if err != nil {
		return wrapErr("remove", u, err)
	}
	if !info.IsDir() {
		return wrapErr("remove", u, s.client.Remove(p))
	}
	if !recursive {
		return wrapErr("remove", u, ErrIsDirectory)
	}
	return wrapErr("remove", u, s.removeAll(ctx, p))
}

// removeAll recursively removes a directory over SFTP.
func (s *SFTP) removeAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := s.client.ReadDir(p)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		child := path.Join(p, entry.Name())
		if entry.IsDir() {
			if err := s.removeAll(ctx, child); err != nil {
				return err
			}
			continue
		}
		if err := s.client.Remove(child); err != nil {
			return err
		}
	}
	return s.client.RemoveDirectory(p)
}

func (s *SFTP) Rename(ctx context.Context, from, to uri.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// SFTP rename fails if the target exists; replace files only.
	if info, err := s.client.Lstat(to.Path()); err == nil && !info.IsDir() {
		_ = s.client.Remove(to.Path())
	}
	if err := s.client.Rename(from.Path(), to.Path()); err != nil {
		return wrapErr("rename", from, fmt.Errorf("to %s: %w", to, err))
	}
	return nil
}

func (s *SFTP) Symlink(ctx context.Context, target string, u uri.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := u.Path()
	if err := s.client.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapErr("symlink", u, err)
	}
	return wrapErr("symlink", u, s.client.Symlink(target, p))
}

func (s *SFTP) SetModTime(ctx context.Context, u uri.URI, mtime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapErr("chtimes", u, s.client.Chtimes(u.Path(), mtime, mtime))
}

func (s *SFTP) entry(u uri.URI, info os.FileInfo) FileEntry {
	kind := File
	switch {
	case info.Mode()&os.ModeSymlink != 0:
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
		if target, err := s.client.ReadLink(u.Path()); err == nil {
			e.LinkTarget = target
		}
	}
	return e
}
