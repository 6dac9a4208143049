package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/uri"
)

// Remove deletes targets. Directories need opts.Recursive. With filters or
// ignore files configured, only the included files below a directory are
// removed and directories that end up empty are pruned.
func Remove(ctx context.Context, reg *backend.Registry, targets []uri.URI, opts Options) (Report, error) {
	opts = opts.withDefaults()
	var rb reportBuilder
	fail := func(u uri.URI, err error) {
		opts.Logger.Warn("remove failed", "path", u, "error", err)
		rb.failed(Failure{URI: u, Err: err})
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		b, err := reg.Get(ctx, target)
		if err != nil {
			return Report{}, err
		}
		expanded := []uri.URI{target}
		if opts.GlobExpansion && HasGlobMeta(target) {
			expanded, err = ExpandGlob(ctx, b, target)
			if err != nil {
				fail(target, err)
				continue
			}
		}
		for _, u := range expanded {
			removeTarget(ctx, b, u, opts, &rb, fail)
		}
	}
	return rb.report(), ctx.Err()
}

func removeTarget(ctx context.Context, b backend.Backend, u uri.URI, opts Options, rb *reportBuilder, fail func(uri.URI, error)) {
	entry, err := b.Stat(ctx, u)
	if err != nil {
		fail(u, err)
		return
	}
	if entry.IsDir() {
		if !opts.Recursive {
			fail(u, fmt.Errorf("%s: %w (use -r)", u, backend.ErrIsDirectory))
			return
		}
		if u.IsRoot() && u.Scheme != uri.Blob {
			fail(u, fmt.Errorf("refusing to remove root %s", u))
			return
		}
	}

	if !entry.IsDir() || (len(opts.Filters) == 0 && len(opts.IgnoreFiles) == 0) {
		removeOne(ctx, b, u, entry.IsDir(), opts.Sink, rb, fail)
		return
	}

	w := NewWalker(WalkerConfig{
		Backend:     b,
		Recursive:   true,
		Rules:       opts.Filters,
		IgnoreFiles: opts.IgnoreFiles,
		Logger:      opts.Logger,
	})
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	var files []uri.URI
	for we, err := range w.Walk(ctx, u) {
		if err != nil {
			fail(we.Entry.URI, err)
			continue
		}
		if we.Entry.IsDir() {
			continue
		}
		f := we.Entry.URI
		files = append(files, f)
		g.Go(func() error {
			removeOne(ctx, b, f, false, opts.Sink, rb, fail)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() == nil {
		pruneEmpty(ctx, b, u, files)
	}
}

func removeOne(ctx context.Context, b backend.Backend, u uri.URI, recursive bool, sink event.Sink, rb *reportBuilder, fail func(uri.URI, error)) {
	id := uuid.NewString()
	notify(sink, id, u, u, event.Started, nil)
	if err := b.Remove(ctx, u, recursive); err != nil {
		notify(sink, id, u, u, event.Failed, err)
		fail(u, err)
		return
	}
	notify(sink, id, u, u, event.Completed, nil)
	rb.succeeded(0)
}

// pruneEmpty removes the directories between root and each of files,
// root included, that are now empty. Deeper directories go first.
func pruneEmpty(ctx context.Context, b backend.Backend, root uri.URI, files []uri.URI) {
	if !b.Caps().Directories {
		return
	}
	dirs := make(map[string]uri.URI)
	for _, u := range files {
		for d := u.Parent(); ; d = d.Parent() {
			if _, ok := d.Rel(root); !ok {
				break
			}
			dirs[d.String()] = d
			if d.Equal(root) {
				break
			}
		}
	}

	ordered := make([]uri.URI, 0, len(dirs))
	for _, d := range dirs {
		ordered = append(ordered, d)
	}
	slices.SortFunc(ordered, func(a, b uri.URI) int { return len(b.Segments) - len(a.Segments) })
	for _, d := range ordered {
		entries, err := backend.ListAll(ctx, b, d)
		if err != nil || len(entries) > 0 {
			continue
		}
		_ = b.Remove(ctx, d, false)
	}
}
