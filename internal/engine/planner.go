package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/uri"
)

// PlanSource is one source root and the destination it maps to.
type PlanSource struct {
	Root        uri.URI
	Backend     backend.Backend
	Destination uri.URI
}

// PlannerConfig controls how walk entries become tasks.
type PlannerConfig struct {
	Dst             backend.Backend
	Recursive       bool
	Rules           []filter.Rule
	IgnoreFiles     []string
	UpdateOnly      bool
	ContinuePartial bool
	ListConcurrency int
	Logger          *slog.Logger
}

// Planner walks sources and decides, per entry, whether to copy, resume or
// skip it. Directories are created as they are reached.
type Planner struct {
	cfg         PlannerConfig
	dirsCreated atomic.Int64
}

func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.ListConcurrency <= 0 {
		cfg.ListConcurrency = defaultListConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Planner{cfg: cfg}
}

// DirsCreated returns how many destination directories the planner made.
func (p *Planner) DirsCreated() int { return int(p.dirsCreated.Load()) }

// Plan sends one task per included file or symlink to tasks. Destination
// lookups run concurrently, bounded by ListConcurrency, so tasks may arrive
// out of walk order. fail is called, possibly concurrently, for every entry
// that cannot be planned. Plan returns when all sources are walked or ctx
// is done; it does not close tasks.
func (p *Planner) Plan(ctx context.Context, sources []PlanSource, tasks chan<- TransferTask, fail func(Failure)) {
	var g errgroup.Group
	g.SetLimit(p.cfg.ListConcurrency)
	seen := make(map[string]struct{})

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		w := NewWalker(WalkerConfig{
			Backend:     src.Backend,
			Recursive:   p.cfg.Recursive,
			Rules:       p.cfg.Rules,
			IgnoreFiles: p.cfg.IgnoreFiles,
			Logger:      p.cfg.Logger,
		})

		// Destination directories that could not be created; nothing below
		// them is planned.
		var brokenDirs []uri.URI

		for we, err := range w.Walk(ctx, src.Root) {
			if ctx.Err() != nil {
				break
			}
			if err != nil {
				fail(Failure{URI: we.Entry.URI, Err: err})
				continue
			}

			dst := src.Destination.Join(we.Rel...)
			if below(dst, brokenDirs) {
				continue
			}
			key := we.Entry.URI.String() + "\x00" + dst.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			if we.Entry.IsDir() {
				if err := p.makeDir(ctx, dst); err != nil {
					fail(Failure{URI: we.Entry.URI, Err: err})
					brokenDirs = append(brokenDirs, dst)
				}
				continue
			}

			entry := we.Entry
			g.Go(func() error {
				t, err := p.planFile(ctx, src, entry, dst)
				if err != nil {
					if ctx.Err() == nil {
						fail(Failure{URI: entry.URI, Err: err})
					}
					return nil
				}
				select {
				case tasks <- t:
				case <-ctx.Done():
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (p *Planner) makeDir(ctx context.Context, dst uri.URI) error {
	if !p.cfg.Dst.Caps().Directories {
		return nil
	}
	err := p.cfg.Dst.MakeDirectory(ctx, dst)
	switch {
	case err == nil:
		p.dirsCreated.Add(1)
		return nil
	case errors.Is(err, backend.ErrAlreadyExists):
		return nil
	default:
		return err
	}
}

func (p *Planner) planFile(ctx context.Context, src PlanSource, entry backend.FileEntry, dst uri.URI) (TransferTask, error) {
	caps := p.cfg.Dst.Caps()
	if entry.Kind == backend.Symlink && !caps.Symlinks {
		lr, ok := src.Backend.(backend.LinkResolver)
		if !ok {
			return TransferTask{}, fmt.Errorf("%s: symlink: %w", entry.URI, backend.ErrUnsupported)
		}
		target, err := lr.StatFollow(ctx, entry.URI)
		if err != nil {
			return TransferTask{}, err
		}
		if target.IsDir() {
			return TransferTask{}, fmt.Errorf("%s: symlink to directory: %w", entry.URI, backend.ErrUnsupported)
		}
		entry = target
	}

	existing, err := p.cfg.Dst.Stat(ctx, dst)
	if errors.Is(err, backend.ErrNotFound) {
		return newTask(entry, dst, ActionCopy, 0), nil
	}
	if err != nil {
		return TransferTask{}, err
	}
	if existing.IsDir() {
		return TransferTask{}, fmt.Errorf("%s: %w", dst, backend.ErrIsDirectory)
	}

	if p.cfg.UpdateOnly && !olderThan(existing.ModTime, entry.ModTime) {
		p.cfg.Logger.Debug("up to date", "src", entry.URI, "dst", dst)
		return newTask(entry, dst, ActionSkip, 0), nil
	}
	if p.cfg.ContinuePartial &&
		entry.Kind == backend.File && existing.Kind == backend.File &&
		caps.PositionalWrite &&
		existing.Size < entry.Size &&
		!olderThan(existing.ModTime, entry.ModTime) {
		p.cfg.Logger.Debug("resuming", "src", entry.URI, "dst", dst, "offset", existing.Size)
		return newTask(entry, dst, ActionResume, existing.Size), nil
	}
	return newTask(entry, dst, ActionCopy, 0), nil
}

// olderThan compares modification times at second granularity, the
// coarsest precision any backend reports.
func olderThan(a, b time.Time) bool {
	return a.Truncate(time.Second).Before(b.Truncate(time.Second))
}

func below(u uri.URI, dirs []uri.URI) bool {
	for _, d := range dirs {
		if _, ok := u.Rel(d); ok {
			return true
		}
	}
	return false
}
