package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter returns a limiter shared by every transfer of one operation.
// The burst is one copy chunk, or the whole per-second budget when that is
// smaller, so a chunk read is charged in a single wait.
func NewBWLimiter(bytesPerSec int64, chunkSize int) *rate.Limiter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	burst := max(int(min(bytesPerSec, int64(chunkSize))), 1)
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// throttle charges every byte read from r against lim. A nil lim returns r.
func throttle(ctx context.Context, r io.Reader, lim *rate.Limiter) io.Reader {
	if lim == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, lim: lim}
}

type throttledReader struct {
	ctx context.Context //nolint:containedctx // io.Reader has no context parameter
	r   io.Reader
	lim *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	// WaitN fails outright for n above the burst.
	if burst := t.lim.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n == 0 {
		return 0, err
	}
	if werr := t.lim.WaitN(t.ctx, n); werr != nil {
		return n, werr
	}
	return n, err
}
