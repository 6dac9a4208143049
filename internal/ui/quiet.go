package ui

import "github.com/bamsammich/ferry/internal/stats"

// quietPresenter consumes updates but produces no output.
type quietPresenter struct {
	stats stats.Reader
}

func (p *quietPresenter) Run(updates <-chan Update) error {
	for range updates {
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
