package ui

import (
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/stats"
)

// Update is the unit presenters consume: one event plus running totals.
type Update = stats.Update

// Re-export event phases for convenience.
const (
	Started   = event.Started
	Progress  = event.Progress
	Completed = event.Completed
	Failed    = event.Failed
	Skipped   = event.Skipped
)
