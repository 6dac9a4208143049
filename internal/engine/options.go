package engine

import (
	"log/slog"
	"runtime"

	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/uri"
)

const (
	DefaultConcurrency     = 4
	defaultListConcurrency = 8
	defaultChunkSize       = 256 << 10
)

// Options controls a Copy, Move or Remove operation. The zero value copies
// non-recursively with default concurrency and retries.
type Options struct {
	Recursive     bool
	GlobExpansion bool

	// Filters are evaluated in order after any ignore-file rules; the last
	// matching rule wins.
	Filters     []filter.Rule
	IgnoreFiles []string // names of per-directory ignore files, e.g. ".ferryignore"

	UpdateOnly      bool
	ContinuePartial bool

	Concurrency     int // transfer workers (default 4)
	ListConcurrency int // concurrent destination lookups while planning (default 8)
	TargetMode      uri.TargetMode

	Sink      event.Sink
	ChunkSize int // copy buffer size (default 256 KiB)
	Retry     RetryPolicy
	BWLimit   int64 // bytes per second across all workers; 0 = unlimited
	Verify    bool  // compare BLAKE3 digests of source and destination after copy

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ListConcurrency <= 0 {
		o.ListConcurrency = min(defaultListConcurrency, 2*runtime.NumCPU())
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Sink == nil {
		o.Sink = event.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
