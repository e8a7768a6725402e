package display

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
)

// ScoreProgress reports a multi-plan scoring run, one line per plan and a
// closing tally.
type ScoreProgress struct {
	w      io.Writer
	total  int
	seen   int
	failed int
}

// NewScoreProgress returns a tracker for total plans. Nothing is written
// until Start.
func NewScoreProgress(w io.Writer, total int) *ScoreProgress {
	return &ScoreProgress{w: w, total: total}
}

// Start writes the run header.
func (p *ScoreProgress) Start() {
	fmt.Fprintf(p.w, "Scoring %d plans:\n", p.total)
}

// Step announces the next plan by file name.
func (p *ScoreProgress) Step(path string) {
	p.seen++
	color.New(color.FgCyan).Fprintf(p.w, "  [%d/%d] %s\n", p.seen, p.total, filepath.Base(path))
}

// Fail marks the current plan as not scored.
func (p *ScoreProgress) Fail() {
	p.failed++
}

// Done writes the tally.
func (p *ScoreProgress) Done() {
	scored := p.seen - p.failed
	if p.failed == 0 {
		color.New(color.FgGreen).Fprint(p.w, "✓")
		fmt.Fprintf(p.w, " Scored %d plans\n", scored)
		return
	}
	color.New(color.FgRed).Fprint(p.w, "✗")
	fmt.Fprintf(p.w, " Scored %d of %d plans, %d failed\n", scored, p.seen, p.failed)
}

// ScoringPlan writes the header of a single-plan run.
func ScoringPlan(w io.Writer, path string) {
	fmt.Fprintf(w, "Scoring plan from %s...\n", path)
}
