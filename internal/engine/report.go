package engine

import (
	"fmt"
	"sync"

	"github.com/bamsammich/ferry/internal/uri"
)

// Exit codes surfaced to the CLI.
const (
	ExitOK       = 0
	ExitFailures = 1
	ExitFatal    = 2
)

// Failure records one entry that could not be transferred, listed or
// removed. The rest of the batch carries on.
type Failure struct {
	URI uri.URI
	Err error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.URI, f.Err) }
func (f Failure) Unwrap() error { return f.Err }

// Report is the outcome of an operation. Outcomes are a set: their order
// carries no meaning.
type Report struct {
	Succeeded        int
	Skipped          int
	Failed           []Failure
	BytesTransferred uint64
	DirsCreated      int
}

// ExitCode returns 0 when nothing failed and 1 otherwise.
func (r Report) ExitCode() int {
	if len(r.Failed) > 0 {
		return ExitFailures
	}
	return ExitOK
}

func (r Report) String() string {
	return fmt.Sprintf("%d succeeded, %d skipped, %d failed, %d bytes, %d directories created",
		r.Succeeded, r.Skipped, len(r.Failed), r.BytesTransferred, r.DirsCreated)
}

// merge folds o into r.
func (r *Report) merge(o Report) {
	r.Succeeded += o.Succeeded
	r.Skipped += o.Skipped
	r.Failed = append(r.Failed, o.Failed...)
	r.BytesTransferred += o.BytesTransferred
	r.DirsCreated += o.DirsCreated
}

// reportBuilder accumulates outcomes from concurrent workers.
type reportBuilder struct {
	mu sync.Mutex
	r  Report
}

func (b *reportBuilder) succeeded(bytes uint64) {
	b.mu.Lock()
	b.r.Succeeded++
	b.r.BytesTransferred += bytes
	b.mu.Unlock()
}

func (b *reportBuilder) skipped() {
	b.mu.Lock()
	b.r.Skipped++
	b.mu.Unlock()
}

func (b *reportBuilder) failed(f Failure) {
	b.mu.Lock()
	b.r.Failed = append(b.r.Failed, f)
	b.mu.Unlock()
}

func (b *reportBuilder) dirCreated() {
	b.mu.Lock()
	b.r.DirsCreated++
	b.mu.Unlock()
}

func (b *reportBuilder) report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.r
	out.Failed = append([]Failure(nil), b.r.Failed...)
	return out
}
