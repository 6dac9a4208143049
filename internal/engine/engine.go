package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/uri"
)

// job is a pre-flighted operation: every source resolved to its
// destination, with pre-flight failures recorded.
type job struct {
	dstB        backend.Backend
	sources     []PlanSource
	failures    []Failure
	dirsCreated int
}

// Copy copies sources to dst. The returned error is non-nil only for fatal
// pre-flight problems and cancellation; per-entry failures are in the
// Report.
func Copy(ctx context.Context, reg *backend.Registry, sources []uri.URI, dst uri.URI, opts Options) (Report, error) {
	opts = opts.withDefaults()
	j, err := prepare(ctx, reg, sources, dst, opts)
	if err != nil {
		return Report{}, err
	}
	return run(ctx, reg, j, opts, nil)
}

// prepare expands globs, resolves destinations and creates the destination
// directory the sources are placed in.
func prepare(ctx context.Context, reg *backend.Registry, sources []uri.URI, dst uri.URI, opts Options) (*job, error) {
	dstB, err := reg.Get(ctx, dst)
	if err != nil {
		return nil, err
	}
	j := &job{dstB: dstB}

	var roots []uri.URI
	var rootB []backend.Backend
	for _, src := range sources {
		b, err := reg.Get(ctx, src)
		if err != nil {
			return nil, err
		}
		expanded := []uri.URI{src}
		if opts.GlobExpansion && HasGlobMeta(src) {
			expanded, err = ExpandGlob(ctx, b, src)
			if err != nil {
				opts.Logger.Warn("glob failed", "pattern", src, "error", err)
				j.failures = append(j.failures, Failure{URI: src, Err: err})
				continue
			}
		}
		for _, u := range expanded {
			roots = append(roots, u)
			rootB = append(rootB, b)
		}
	}
	if len(roots) == 0 {
		return j, nil
	}

	mode, err := targetMode(ctx, dstB, roots, rootB, dst, opts.TargetMode)
	if err != nil {
		return nil, err
	}
	dsts, err := uri.ResolveDestination(roots, dst, mode)
	if err != nil {
		return nil, err
	}

	parent := dst.Parent()
	if mode.IntoDirectory(len(roots), dst) {
		parent = dst
	}
	n, err := mkdirAll(ctx, dstB, parent)
	if err != nil {
		return nil, fmt.Errorf("create destination %s: %w", parent, err)
	}
	j.dirsCreated = n

	for i, root := range roots {
		if _, inside := dsts[i].Rel(root); inside {
			err := fmt.Errorf("cannot copy %s into itself (%s)", root, dsts[i])
			j.failures = append(j.failures, Failure{URI: root, Err: err})
			continue
		}
		j.sources = append(j.sources, PlanSource{Root: root, Backend: rootB[i], Destination: dsts[i]})
	}
	return j, nil
}

// targetMode settles Auto against what already exists at dst. A single file
// copied onto an existing directory goes inside it; several sources cannot
// land on an existing file.
func targetMode(
	ctx context.Context,
	dstB backend.Backend,
	roots []uri.URI,
	rootB []backend.Backend,
	dst uri.URI,
	mode uri.TargetMode,
) (uri.TargetMode, error) {
	if mode != uri.Auto || dst.TrailingSlash {
		return mode, nil
	}
	existing, err := dstB.Stat(ctx, dst)
	if errors.Is(err, backend.ErrNotFound) {
		return mode, nil
	}
	if err != nil {
		return mode, err
	}
	if len(roots) > 1 {
		if !existing.IsDir() {
			return mode, &uri.AmbiguousTargetError{
				Destination: dst,
				Sources:     len(roots),
				Reason:      "destination exists and is not a directory",
			}
		}
		return mode, nil
	}
	if existing.IsDir() {
		src, err := rootB[0].Stat(ctx, roots[0])
		if err == nil && !src.IsDir() {
			return uri.IntoDirectory, nil
		}
	}
	return mode, nil
}

// mkdirAll creates u and any missing parents, returning how many
// directories it made.
func mkdirAll(ctx context.Context, b backend.Backend, u uri.URI) (int, error) {
	if !b.Caps().Directories {
		return 0, nil
	}
	var missing []uri.URI
	for cur := u; ; cur = cur.Parent() {
		e, err := b.Stat(ctx, cur)
		if err == nil {
			if !e.IsDir() {
				return 0, fmt.Errorf("%s: %w", cur, backend.ErrNotDirectory)
			}
			break
		}
		if !errors.Is(err, backend.ErrNotFound) {
			return 0, err
		}
		missing = append(missing, cur)
		if cur.IsRoot() {
			break
		}
	}

	created := 0
	for i := len(missing) - 1; i >= 0; i-- {
		err := b.MakeDirectory(ctx, missing[i])
		if err != nil && !errors.Is(err, backend.ErrAlreadyExists) {
			return created, err
		}
		if err == nil {
			created++
		}
	}
	return created, nil
}

// run plans and executes j. The planner feeds the executor through a
// bounded channel, so listing and copying overlap.
func run(ctx context.Context, reg *backend.Registry, j *job, opts Options, onDone func(TransferTask, event.Phase)) (Report, error) {
	var (
		mu       sync.Mutex
		failures = j.failures
	)
	fail := func(f Failure) {
		opts.Logger.Warn("skipping entry", "path", f.URI, "error", f.Err)
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}

	planner := NewPlanner(PlannerConfig{
		Dst:             j.dstB,
		Recursive:       opts.Recursive,
		Rules:           opts.Filters,
		IgnoreFiles:     opts.IgnoreFiles,
		UpdateOnly:      opts.UpdateOnly,
		ContinuePartial: opts.ContinuePartial,
		ListConcurrency: opts.ListConcurrency,
		Logger:          opts.Logger,
	})

	tasks := make(chan TransferTask, opts.Concurrency*2)
	planned := make(chan struct{})
	go func() {
		defer close(planned)
		defer close(tasks)
		planner.Plan(ctx, j.sources, tasks, fail)
	}()

	var limiter *rate.Limiter
	if opts.BWLimit > 0 {
		limiter = NewBWLimiter(opts.BWLimit, opts.ChunkSize)
	}
	x := NewExecutor(ExecutorConfig{
		Registry:    reg,
		Concurrency: opts.Concurrency,
		ChunkSize:   opts.ChunkSize,
		Retry:       opts.Retry,
		Limiter:     limiter,
		Verify:      opts.Verify,
		Sink:        opts.Sink,
		Logger:      opts.Logger,
		OnDone:      onDone,
	})
	report := x.Execute(ctx, tasks)
	<-planned

	mu.Lock()
	report.merge(Report{Failed: failures, DirsCreated: j.dirsCreated + planner.DirsCreated()})
	mu.Unlock()

	opts.Logger.Debug("done", "report", report.String())
	return report, ctx.Err()
}
