package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/uri"
)

// WalkerConfig controls a tree walk.
type WalkerConfig struct {
	Backend     backend.Backend
	Recursive   bool
	Rules       []filter.Rule // applied after ignore-file rules
	IgnoreFiles []string
	Logger      *slog.Logger
}

// WalkEntry is one entry produced by a walk. Rel is the entry's path below
// the walk root; it is empty for the root itself.
type WalkEntry struct {
	Entry backend.FileEntry
	Rel   []string
}

// Walker expands a root URI into a lazy depth-first sequence of entries.
type Walker struct {
	cfg WalkerConfig
}

func NewWalker(cfg WalkerConfig) *Walker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Walker{cfg: cfg}
}

// frame is one directory being listed. The stack holds at most one frame
// per level of depth, so only that many pagers are open at once.
type frame struct {
	dir    backend.FileEntry
	rel    []string
	ignore []filter.Rule // ignore-file rules in effect below this directory
	rules  []filter.Rule // ignore rules followed by the configured rules
	pager  backend.Pager
	page   []backend.FileEntry
	done   bool
}

// Walk yields the root and, when it is a directory and the walk is
// recursive, every entry below it that the filter rules include. A
// directory always precedes its descendants. Excluded directories are never
// listed. A failed listing yields the directory with the error and the walk
// continues with its siblings. The sequence is not restartable.
func (w *Walker) Walk(ctx context.Context, root uri.URI) iter.Seq2[WalkEntry, error] {
	return func(yield func(WalkEntry, error) bool) {
		rootEntry, err := w.cfg.Backend.Stat(ctx, root)
		if err != nil {
			yield(WalkEntry{Entry: backend.FileEntry{URI: root}}, err)
			return
		}
		if !rootEntry.IsDir() {
			yield(WalkEntry{Entry: rootEntry}, nil)
			return
		}
		if !w.cfg.Recursive {
			yield(WalkEntry{Entry: rootEntry}, fmt.Errorf("%s: %w (use -r)", root, backend.ErrIsDirectory))
			return
		}
		if !yield(WalkEntry{Entry: rootEntry}, nil) {
			return
		}

		var stack []*frame
		defer func() {
			for _, f := range stack {
				f.close()
			}
		}()

		top, err := w.open(ctx, rootEntry, nil, nil)
		if err != nil {
			if ctx.Err() == nil {
				yield(WalkEntry{Entry: rootEntry}, err)
			}
			return
		}
		stack = append(stack, top)

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return
			}
			f := stack[len(stack)-1]

			if len(f.page) == 0 {
				if f.done {
					f.close()
					stack = stack[:len(stack)-1]
					continue
				}
				page, err := f.pager.NextPage(ctx)
				f.page = page
				if errors.Is(err, io.EOF) {
					f.done = true
				} else if err != nil {
					f.done = true
					if ctx.Err() != nil {
						return
					}
					w.cfg.Logger.Warn("listing failed", "dir", f.dir.URI, "error", err)
					if !yield(WalkEntry{Entry: f.dir, Rel: f.rel}, err) {
						return
					}
				}
				continue
			}

			e := f.page[0]
			f.page = f.page[1:]

			rel := append(slices.Clip(f.rel), e.URI.Base())
			if filter.Matches(rel, e.IsDir(), f.rules) == filter.Excluded {
				w.cfg.Logger.Debug("excluded", "path", e.URI)
				continue
			}
			if !yield(WalkEntry{Entry: e, Rel: rel}, nil) {
				return
			}
			if !e.IsDir() {
				continue
			}

			child, err := w.open(ctx, e, rel, f.ignore)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.cfg.Logger.Warn("listing failed", "dir", e.URI, "error", err)
				if !yield(WalkEntry{Entry: e, Rel: rel}, err) {
					return
				}
				continue
			}
			stack = append(stack, child)
		}
	}
}

// open starts listing dir. When ignore files are configured the listing is
// read in full first, so rules from an ignore file also cover its siblings.
func (w *Walker) open(ctx context.Context, dir backend.FileEntry, rel []string, inherited []filter.Rule) (*frame, error) {
	pager, err := w.cfg.Backend.List(ctx, dir.URI)
	if err != nil {
		return nil, err
	}
	f := &frame{dir: dir, rel: rel, ignore: inherited, pager: pager}
	if len(w.cfg.IgnoreFiles) == 0 {
		f.rules = w.cfg.Rules
		return f, nil
	}

	for {
		page, err := pager.NextPage(ctx)
		f.page = append(f.page, page...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			pager.Close()
			return nil, err
		}
	}
	f.done = true

	for _, e := range f.page {
		if e.Kind != backend.File || !slices.Contains(w.cfg.IgnoreFiles, e.URI.Base()) {
			continue
		}
		rules, err := w.readIgnoreFile(ctx, e.URI, rel)
		if err != nil {
			pager.Close()
			return nil, err
		}
		f.ignore = slices.Concat(f.ignore, rules)
	}
	f.rules = slices.Concat(f.ignore, w.cfg.Rules)
	return f, nil
}

func (w *Walker) readIgnoreFile(ctx context.Context, u uri.URI, base []string) ([]filter.Rule, error) {
	r, err := w.cfg.Backend.OpenRead(ctx, u, 0)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rules, err := filter.ParseIgnoreFile(r, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u, err)
	}
	w.cfg.Logger.Debug("loaded ignore file", "path", u, "rules", len(rules))
	return rules, nil
}

func (f *frame) close() {
	if f.pager != nil {
		f.pager.Close()
		f.pager = nil
	}
}
