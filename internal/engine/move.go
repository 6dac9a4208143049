package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/uri"
)

// Move moves sources to dst. Sources on the same backend location as dst
// are renamed in place when nothing needs filtering or comparing; the rest
// are copied and then removed. A source keeps every file that was not
// copied, so a failed move never loses data.
func Move(ctx context.Context, reg *backend.Registry, sources []uri.URI, dst uri.URI, opts Options) (Report, error) {
	opts = opts.withDefaults()
	j, err := prepare(ctx, reg, sources, dst, opts)
	if err != nil {
		return Report{}, err
	}

	var renamed Report
	var rest []PlanSource
	for _, src := range j.sources {
		ok, err := tryRename(ctx, j.dstB, src, opts)
		switch {
		case !ok:
			rest = append(rest, src)
		case err != nil:
			renamed.Failed = append(renamed.Failed, Failure{URI: src.Root, Err: err})
		default:
			renamed.Succeeded++
		}
	}
	j.sources = rest

	var (
		mu        sync.Mutex
		completed []uri.URI
		dirty     []uri.URI // sources of skipped tasks
	)
	onDone := func(t TransferTask, phase event.Phase) {
		mu.Lock()
		defer mu.Unlock()
		switch phase {
		case event.Completed:
			completed = append(completed, t.Source.URI)
		case event.Skipped:
			dirty = append(dirty, t.Source.URI)
		}
	}

	report, runErr := run(ctx, reg, j, opts, onDone)
	report.merge(renamed)

	filtered := len(opts.Filters) > 0 || len(opts.IgnoreFiles) > 0
	for _, src := range rest {
		clean := runErr == nil && !filtered &&
			!anyBelow(src.Root, dirty) && !failedBelow(src.Root, report.Failed)
		if clean {
			if err := src.Backend.Remove(ctx, src.Root, true); err != nil {
				report.Failed = append(report.Failed, Failure{URI: src.Root, Err: err})
			}
			continue
		}
		var mine []uri.URI
		for _, u := range completed {
			if _, ok := u.Rel(src.Root); ok {
				mine = append(mine, u)
			}
		}
		report.Failed = append(report.Failed, removeFiles(ctx, src.Backend, src.Root, mine)...)
	}
	return report, runErr
}

// tryRename moves src in place. ok is false when a rename does not apply
// and the source must be copied instead.
func tryRename(ctx context.Context, dstB backend.Backend, src PlanSource, opts Options) (ok bool, err error) {
	if !src.Root.SameLocation(src.Destination) ||
		len(opts.Filters) > 0 || len(opts.IgnoreFiles) > 0 ||
		opts.UpdateOnly || opts.ContinuePartial {
		return false, nil
	}
	rn, isRenamer := dstB.(backend.Renamer)
	if !isRenamer || !dstB.Caps().Rename {
		return false, nil
	}
	entry, err := src.Backend.Stat(ctx, src.Root)
	if err != nil || (entry.IsDir() && !opts.Recursive) {
		return false, nil
	}
	if _, err := dstB.Stat(ctx, src.Destination); !errors.Is(err, backend.ErrNotFound) {
		return false, nil
	}

	id := uuid.NewString()
	notify(opts.Sink, id, src.Root, src.Destination, event.Started, nil)
	if err := rn.Rename(ctx, src.Root, src.Destination); err != nil {
		notify(opts.Sink, id, src.Root, src.Destination, event.Failed, err)
		return true, err
	}
	opts.Logger.Debug("renamed", "src", src.Root, "dst", src.Destination)
	notify(opts.Sink, id, src.Root, src.Destination, event.Completed, nil)
	return true, nil
}

// removeFiles deletes the given files below root, then prunes the
// directories they leave empty.
func removeFiles(ctx context.Context, b backend.Backend, root uri.URI, files []uri.URI) []Failure {
	var failed []Failure
	removed := files[:0:0]
	for _, u := range files {
		if err := b.Remove(ctx, u, false); err != nil {
			failed = append(failed, Failure{URI: u, Err: err})
			continue
		}
		removed = append(removed, u)
	}
	pruneEmpty(ctx, b, root, removed)
	return failed
}

func anyBelow(root uri.URI, us []uri.URI) bool {
	for _, u := range us {
		if _, ok := u.Rel(root); ok {
			return true
		}
	}
	return false
}

func failedBelow(root uri.URI, failures []Failure) bool {
	for _, f := range failures {
		if _, ok := f.URI.Rel(root); ok {
			return true
		}
	}
	return false
}

// notify reports a single-step operation such as a rename or removal.
func notify(sink event.Sink, id string, src, dst uri.URI, phase event.Phase, err error) {
	sink.OnEvent(event.ProgressEvent{
		TaskID:      id,
		Source:      src.String(),
		Destination: dst.String(),
		Phase:       phase,
		Err:         err,
		Timestamp:   time.Now(),
	})
}
