package ui

import (
	"io"
	"strings"

	"golang.org/x/term"

	"github.com/bamsammich/ferry/internal/stats"
)

// Presenter consumes aggregated updates and displays progress.
type Presenter interface {
	// Run consumes updates until the channel closes. Blocks until done.
	Run(updates <-chan Update) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     stats.ReadTicker
	// DstRoot is stripped from displayed destination URIs.
	DstRoot     string
	Concurrency int
	IsTTY       bool
	Quiet       bool
	Verbose     bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{stats: cfg.Stats}
	}
	if !cfg.IsTTY {
		return &plainPresenter{
			w:       cfg.Writer,
			errW:    cfg.ErrWriter,
			stats:   cfg.Stats,
			dstRoot: cfg.DstRoot,
			verbose: cfg.Verbose,
		}
	}
	return &hudPresenter{
		w:           cfg.ErrWriter, // HUD renders to stderr (the TTY)
		stats:       cfg.Stats,
		concurrency: cfg.Concurrency,
		dstRoot:     cfg.DstRoot,
		verbose:     cfg.Verbose,
		width:       80,
	}
}

// IsTTY reports whether the given file descriptor refers to a terminal.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// TermWidth returns the terminal width in columns, or 80 if it cannot be determined.
func TermWidth(fd uintptr) int {
	w, _, err := term.GetSize(int(fd))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// displayPath picks the URI an update is about: the destination for
// transfers, the target for removals.
func displayPath(u Update) string {
	if u.Event.Destination != "" {
		return u.Event.Destination
	}
	return u.Event.Source
}

// StripRoot removes a root URI prefix from a URI, returning a clean relative
// path. URIs always use '/' regardless of platform.
func StripRoot(root, path string) string {
	if root == "" {
		return path
	}
	if path == strings.TrimSuffix(root, "/") {
		return path[strings.LastIndex(path, "/")+1:]
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	if rest, ok := strings.CutPrefix(path, root); ok {
		return rest
	}
	return path
}
