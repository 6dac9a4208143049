package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bamsammich/ferry/internal/stats"
)

// ANSI escape sequences.
const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

// hudPresenter provides a rich TTY display with a scrolling feed of finished
// files and a HUD that redraws in place.
type hudPresenter struct {
	w           io.Writer
	stats       stats.ReadTicker
	concurrency int
	dstRoot     string // destination root, stripped from displayed paths
	verbose     bool
	width       int

	// Internal state.
	hudDrawn     bool
	hudLineCount int // actual number of lines in the last HUD draw
	rateMode     bool
	rateSwitched bool // whether we've printed the switch notice
	lastHUDDraw  time.Time
}

const (
	rateThreshHigh   = 200.0
	rateThreshLow    = 100.0
	sparklineWidth   = 20
	progressBarWidth = 20
	hudMinInterval   = 50 * time.Millisecond // don't redraw faster than this
)

func (p *hudPresenter) Run(updates <-chan Update) error {
	// Fire first tick quickly to seed the ring buffer with initial speed data,
	// then switch to 1s interval.
	secTicker := time.NewTicker(250 * time.Millisecond)
	defer secTicker.Stop()
	firstTickDone := false

	// Redraw ticker for when no updates are flowing (e.g., large file copy).
	redrawTicker := time.NewTicker(100 * time.Millisecond)
	defer redrawTicker.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleUpdate(u)
			p.maybeDrawHUD()

		case <-redrawTicker.C:
			p.maybeSwitch()
			p.drawHUD()

		case <-secTicker.C:
			p.stats.Tick()
			if !firstTickDone {
				firstTickDone = true
				secTicker.Reset(1 * time.Second)
			}
		}
	}
}

func (p *hudPresenter) handleUpdate(u Update) {
	ev := u.Event
	switch ev.Phase {
	case Completed:
		if !p.rateMode {
			p.clearHUD()
			p.printCompleted(u)
			p.drawHUD() // always redraw HUD after feed line
		}

	case Failed:
		// Failures are always shown, even in rate mode.
		p.clearHUD()
		errMsg := "error"
		if ev.Err != nil {
			errMsg = ev.Err.Error()
		}
		fmt.Fprintf(p.w, "✗  %s  %10s  %s\n",
			p.styledPath(displayPath(u)), FormatBytes(int64(ev.TotalBytes)), errMsg)
		p.drawHUD()

	case Skipped:
		if p.verbose && !p.rateMode {
			p.clearHUD()
			fmt.Fprintf(p.w, "–  %s  %10s  %sskipped%s\n",
				p.styledPath(displayPath(u)), FormatBytes(int64(ev.TotalBytes)), ansiDim, ansiReset)
			p.drawHUD()
		}

	case Started, Progress:
		// reflected in the HUD totals
	}
}

func (p *hudPresenter) printCompleted(u Update) {
	size := FormatBytes(int64(u.Event.TotalBytes))
	speed := p.stats.RollingSpeed(5)
	if speed > 0 {
		fmt.Fprintf(p.w, "✓  %s  %10s  %s\n", p.styledPath(displayPath(u)), size, FormatRate(speed))
	} else {
		fmt.Fprintf(p.w, "✓  %s  %10s\n", p.styledPath(displayPath(u)), size)
	}
}

func (p *hudPresenter) maybeSwitch() {
	fps := p.stats.RollingFilesPerSec(2)

	if !p.rateMode && fps > rateThreshHigh {
		p.rateMode = true
		if !p.rateSwitched {
			p.rateSwitched = true
			p.clearHUD()
			fmt.Fprintf(p.w, "↯ rate view (%s files/s)\n", FormatCount(int64(fps)))
		}
	} else if p.rateMode && fps < rateThreshLow {
		p.rateMode = false
	}
}

// maybeDrawHUD redraws the HUD if enough time has passed since the last draw.
func (p *hudPresenter) maybeDrawHUD() {
	if time.Since(p.lastHUDDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) drawHUD() {
	snap := p.stats.Snapshot()

	p.clearHUD()

	var pct float64
	if snap.BytesTotal > 0 {
		pct = float64(snap.BytesTransferred) / float64(snap.BytesTotal)
	}

	lines := 0

	// Rate mode: extra files/s line above the main HUD.
	if p.rateMode {
		fmt.Fprintf(p.w, "files/s  %s/s   %s done\n",
			FormatCount(int64(p.stats.RollingFilesPerSec(5))), FormatCount(snap.FilesCompleted))
		lines++
	}

	// Line 1: throughput sparkline + speed + byte totals.
	spark := Sparkline(p.stats.SparklineData(sparklineWidth), sparklineWidth)
	fmt.Fprintf(p.w, "       %s   %s   %s / %s\n",
		spark, FormatRate(p.stats.RollingSpeed(10)),
		FormatBytes(snap.BytesTransferred), FormatBytes(snap.BytesTotal))
	lines++

	// Line 2: progress bar + files + active slots + eta.
	line := fmt.Sprintf(" %3.0f%%  %s   %s files   %s   eta %s",
		pct*100, ProgressBar(pct, progressBarWidth),
		FormatCount(snap.FilesCompleted),
		WorkerIndicator(int(min(snap.InFlight(), int64(p.concurrency))), p.concurrency),
		FormatETA(p.stats.ETA()))
	if snap.FilesFailed > 0 {
		line += fmt.Sprintf("   %d failed", snap.FilesFailed)
	}
	fmt.Fprintln(p.w, line)
	lines++

	p.hudDrawn = true
	p.hudLineCount = lines
	p.lastHUDDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	lines := p.hudLineCount
	if lines == 0 {
		lines = 2 // fallback
	}
	// Move cursor up N lines and clear to end of screen.
	fmt.Fprintf(p.w, "\033[%dA\033[J", lines)
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

// styledPath returns the path with the directory portion dimmed and the
// filename in normal weight, making the actual filename stand out.
func (p *hudPresenter) styledPath(path string) string {
	path = truncPath(StripRoot(p.dstRoot, path), max(p.width-30, 20))
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return fmt.Sprintf("%s%s/%s%s", ansiDim, path[:i], ansiReset, path[i+1:])
}

// truncPath shortens a path to fit within maxLen characters.
func truncPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return path[:maxLen]
	}
	return "..." + path[len(path)-maxLen+3:]
}
