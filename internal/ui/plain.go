package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/ferry/internal/stats"
)

// plainPresenter outputs one line per finished file to stdout,
// and periodic progress to stderr when not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   stats.ReadTicker
	dstRoot string
	verbose bool
}

func (p *plainPresenter) Run(updates <-chan Update) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	ticks := 0

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			p.handleUpdate(u)
		case <-ticker.C:
			p.stats.Tick()
			ticks++
			if ticks%5 == 0 {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleUpdate(u Update) {
	ev := u.Event
	path := StripRoot(p.dstRoot, displayPath(u))
	switch ev.Phase {
	case Completed:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "%s  %s  %s\n", path, FormatBytes(int64(ev.TotalBytes)), FormatRate(speed))
	case Failed:
		errMsg := "error"
		if ev.Err != nil {
			errMsg = ev.Err.Error()
		}
		fmt.Fprintf(p.w, "%s  %s  %s\n", path, FormatBytes(int64(ev.TotalBytes)), errMsg)
	case Skipped:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  skipped\n", path)
		}
	case Started, Progress:
		// progress is reported from the totals on the ticker
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesTransferred) / float64(snap.BytesTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %s files %s in flight %s eta %s\n",
			pct,
			FormatBytes(snap.BytesTransferred), FormatBytes(snap.BytesTotal),
			FormatCount(snap.FilesCompleted), FormatCount(snap.InFlight()),
			FormatRate(p.stats.RollingSpeed(10)),
			FormatETA(p.stats.ETA()),
		)
	} else {
		fmt.Fprintf(p.errW, "progress: %s copied %s files\n",
			FormatBytes(snap.BytesTransferred),
			FormatCount(snap.FilesCompleted),
		)
	}
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
