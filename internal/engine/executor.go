package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/event"
)

// ExecutorConfig controls the transfer worker pool.
type ExecutorConfig struct {
	Registry    *backend.Registry
	Concurrency int
	ChunkSize   int
	Retry       RetryPolicy
	Limiter     *rate.Limiter // shared by all workers; nil = unlimited
	Verify      bool
	Sink        event.Sink
	Logger      *slog.Logger

	// OnDone, when set, is called once per task with its terminal phase.
	OnDone func(TransferTask, event.Phase)
}

// Executor drains transfer tasks through a fixed pool of workers.
type Executor struct {
	cfg    ExecutorConfig
	locks  keyedLocks
	report reportBuilder
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{cfg: cfg}
}

// Execute runs tasks until the channel is closed or ctx is done, and returns
// the outcomes. On cancellation workers stop taking tasks; a copy in flight
// stops after its current chunk and leaves its partial destination in place.
func (x *Executor) Execute(ctx context.Context, tasks <-chan TransferTask) Report {
	var wg sync.WaitGroup
	for range x.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, x.cfg.ChunkSize)
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-tasks:
					if !ok || ctx.Err() != nil {
						return
					}
					x.run(ctx, t, buf)
				}
			}
		}()
	}
	wg.Wait()
	return x.report.report()
}

func (x *Executor) run(ctx context.Context, t TransferTask, buf []byte) {
	x.emit(t, event.Started, t.ResumeOffset, nil)

	if t.Action == ActionSkip {
		x.cfg.Logger.Debug("skip", "src", t.Source.URI, "dst", t.Destination)
		x.report.skipped()
		x.emit(t, event.Skipped, 0, nil)
		x.done(t, event.Skipped)
		return
	}

	unlock := x.locks.lock(t.Destination.String())
	defer unlock()

	pos, written, err := x.transfer(ctx, t, buf)
	if err != nil {
		x.cfg.Logger.Warn("transfer failed", "src", t.Source.URI, "dst", t.Destination, "error", err)
		x.report.failed(Failure{URI: t.Source.URI, Err: err})
		x.emit(t, event.Failed, pos, err)
		x.done(t, event.Failed)
		return
	}
	x.report.succeeded(written)
	x.emit(t, event.Completed, pos, nil)
	x.done(t, event.Completed)
}

// transfer performs one task with retries. It returns the final destination
// position and the number of bytes written across all attempts.
func (x *Executor) transfer(ctx context.Context, t TransferTask, buf []byte) (pos, written uint64, err error) {
	srcB, err := x.cfg.Registry.Get(ctx, t.Source.URI)
	if err != nil {
		return t.ResumeOffset, 0, err
	}
	dstB, err := x.cfg.Registry.Get(ctx, t.Destination)
	if err != nil {
		return t.ResumeOffset, 0, err
	}

	if t.Source.Kind == backend.Symlink {
		if sl, ok := dstB.(backend.Symlinker); ok && dstB.Caps().Symlinks {
			err := x.retry(ctx, t, func() error {
				return sl.Symlink(ctx, t.Source.LinkTarget, t.Destination)
			})
			return 0, 0, err
		}
	}

	offset := t.ResumeOffset
	truncate := t.Action != ActionResume
	err = x.retry(ctx, t, func() error {
		var n uint64
		var cerr error
		pos, n, cerr = x.copyOnce(ctx, t, srcB, dstB, offset, truncate, buf)
		written += n
		// A retry continues from what is already on the destination when
		// the backend can write at an offset; otherwise it starts over.
		if dstB.Caps().PositionalWrite {
			offset, truncate = pos, false
		} else {
			offset, truncate = 0, true
		}
		return cerr
	})
	if err != nil {
		return pos, written, err
	}

	if ts, ok := dstB.(backend.TimeSetter); ok && !t.Source.ModTime.IsZero() {
		if err := ts.SetModTime(ctx, t.Destination, t.Source.ModTime); err != nil {
			x.cfg.Logger.Debug("set mtime", "dst", t.Destination, "error", err)
		}
	}

	if x.cfg.Verify {
		if err := verifyCopy(ctx, srcB, dstB, t.Source.URI, t.Destination); err != nil {
			return pos, written, err
		}
	}
	return pos, written, nil
}

// copyOnce streams the source from offset to the destination in chunks,
// emitting Progress after each. The destination stream is aborted, never
// removed, on error so its data survives for a later resume.
func (x *Executor) copyOnce(
	ctx context.Context,
	t TransferTask,
	srcB, dstB backend.Backend,
	offset uint64,
	truncate bool,
	buf []byte,
) (pos, written uint64, err error) {
	pos = offset
	r, err := srcB.OpenRead(ctx, t.Source.URI, offset)
	if err != nil {
		return pos, 0, err
	}
	defer r.Close()

	w, err := dstB.OpenWrite(ctx, t.Destination, offset, truncate)
	if err != nil {
		return pos, 0, err
	}

	src := throttle(ctx, r, x.cfg.Limiter)

	for {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return pos, written, err
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Abort()
				return pos, written, werr
			}
			pos += uint64(n)
			written += uint64(n)
			x.emit(t, event.Progress, pos, nil)
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			w.Abort()
			return pos, written, rerr
		}
	}

	if pos < t.Source.Size {
		w.Abort()
		return pos, written, &backend.TransientError{
			Err: fmt.Errorf("%s: short read at %d of %d bytes: %w", t.Source.URI, pos, t.Source.Size, io.ErrUnexpectedEOF),
		}
	}
	if err := w.Close(); err != nil {
		return pos, written, err
	}
	return pos, written, nil
}

func (x *Executor) emit(t TransferTask, phase event.Phase, done uint64, err error) {
	x.cfg.Sink.OnEvent(event.ProgressEvent{
		TaskID:           t.ID,
		Source:           t.Source.URI.String(),
		Destination:      t.Destination.String(),
		BytesTransferred: done,
		TotalBytes:       t.Source.Size,
		Phase:            phase,
		Err:              err,
		Timestamp:        time.Now(),
	})
}

func (x *Executor) done(t TransferTask, phase event.Phase) {
	if x.cfg.OnDone != nil {
		x.cfg.OnDone(t, phase)
	}
}

// keyedLocks serializes work on the same destination.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyedLock)
	}
	l, ok := k.m[key]
	if !ok {
		l = &keyedLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
