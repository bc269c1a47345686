package campaign

import (
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/history"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
)

// BatchReport summarizes one executed batch.
type BatchReport struct {
	Number int
	// Start and Size describe the whole batch, including actions run before
	// a resume.
	Start int
	Size  int

	// Executed and Succeeded count only actions run in this process.
	Executed  int
	Succeeded int

	Resumed     bool
	Interrupted bool
	Compressed  bool
	HistoryOnly bool

	// ResumeIndex is the 0-based global index of the first action not yet
	// executed when the batch ended.
	ResumeIndex int
	Duration    time.Duration
}

// Range renders the batch's 1-based inclusive range.
func (b BatchReport) Range() string {
	return history.FormatRange(b.Start, b.Size)
}

// Report summarizes a run.
type Report struct {
	RunID    string
	Platform string
	Total    int

	GraphMode graph.Mode
	Repairs   graph.Repairs

	ResumeSource persist.Source
	StartIndex   int
	Ambiguous    bool

	Batches     []BatchReport
	Executed    int
	Succeeded   int
	Interrupted bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed returns the number of executed actions that did not succeed.
func (r *Report) Failed() int {
	return r.Executed - r.Succeeded
}

// Duration returns the run's wall-clock duration.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) add(b BatchReport) {
	r.Batches = append(r.Batches, b)
	r.Executed += b.Executed
	r.Succeeded += b.Succeeded
}
