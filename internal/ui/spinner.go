// Package ui reports CLI progress while providers are queried.
package ui

import (
	"time"

	"github.com/briandowns/spinner"
)

// ProgressReporter reports progress of a long-running CLI step.
type ProgressReporter interface {
	Start(message string)
	Update(message string)
	Stop()
}

// SpinnerProgress implements ProgressReporter using briandowns/spinner
type SpinnerProgress struct {
	spinner *spinner.Spinner
}

// NewSpinnerProgress creates a new spinner-based progress reporter
func NewSpinnerProgress() *SpinnerProgress {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Prefix = "  "
	s.Color("cyan", "bold")

	return &SpinnerProgress{
		spinner: s,
	}
}

func (sp *SpinnerProgress) Start(message string) {
	sp.spinner.Suffix = "  " + message
	sp.spinner.Start()
}

func (sp *SpinnerProgress) Update(message string) {
	sp.spinner.Lock()
	sp.spinner.Suffix = "  " + message
	sp.spinner.Unlock()
}

func (sp *SpinnerProgress) Stop() {
	if sp.spinner.Active() {
		sp.spinner.Stop()
	}
}

// NoOpProgress is used for JSON output, where stdout must stay parseable.
type NoOpProgress struct{}

func (NoOpProgress) Start(message string)  {}
func (NoOpProgress) Update(message string) {}
func (NoOpProgress) Stop()                 {}

// New returns a spinner, or a no-op reporter when quiet is set.
func New(quiet bool) ProgressReporter {
	if quiet {
		return NoOpProgress{}
	}
	return NewSpinnerProgress()
}
