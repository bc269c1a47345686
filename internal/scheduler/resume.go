package scheduler

import (
	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/history"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
)

// ResumePoint says where the next run starts.
type ResumePoint struct {
	// BatchNumber is the number of the first batch to run.
	BatchNumber int

	// StartIndex is the 0-based global index of the first action to run.
	StartIndex int

	// Interrupted is true when the run continues a batch that was cut short.
	Interrupted bool

	// BatchEnd is the 0-based exclusive end of the interrupted batch, or 0
	// when unknown.
	BatchEnd int

	// Ambiguous is true when the history could not be read cleanly and the
	// start index is a best effort.
	Ambiguous bool
}

// Fresh starts from the first action under a new batch number, keeping batch
// numbers unique within the ledger.
func Fresh(h *history.TestingHistory) ResumePoint {
	return ResumePoint{BatchNumber: h.LatestBatchNumber() + 1}
}

// ResolveResume derives the resume point from a platform's history. An
// interrupted latest batch is continued at its recorded position under the
// same number; otherwise a new batch starts right after the latest range.
func ResolveResume(h *history.TestingHistory, logger *logging.Logger) ResumePoint {
	log := logging.OrNop(logger).WithPhase("resume")

	latest, ok := h.Latest()
	if !ok {
		return ResumePoint{BatchNumber: 1}
	}

	if latest.Interrupted() {
		rp := ResumePoint{BatchNumber: latest.BatchNumber, Interrupted: true}
		start, end, err := history.ParseRange(latest.ActionRange)
		if err == nil {
			rp.BatchEnd = end
		}
		switch {
		case latest.InterruptedAt != nil:
			rp.StartIndex = *latest.InterruptedAt
			if err == nil && rp.StartIndex < start-1 {
				rp.StartIndex = start - 1
			}
		case err == nil:
			rp.StartIndex = start - 1
			rp.Ambiguous = true
		default:
			rp.StartIndex, _ = h.LastCoveredActionIndex()
			rp.Ambiguous = true
		}
		if rp.Ambiguous {
			log.Warn("interrupted batch has no usable position, restarting it",
				"batch", latest.BatchNumber,
				"range", latest.ActionRange,
				"start_index", rp.StartIndex,
				"error", errors.ErrResumeAmbiguous.Error(),
			)
		}
		return rp
	}

	index, ambiguous := h.LastCoveredActionIndex()
	rp := ResumePoint{
		BatchNumber: h.LatestBatchNumber() + 1,
		StartIndex:  index,
		Ambiguous:   ambiguous,
	}
	if ambiguous {
		log.Warn("latest batch range unreadable, resuming after highest covered index",
			"batch", latest.BatchNumber,
			"range", latest.ActionRange,
			"start_index", index,
			"error", errors.ErrResumeAmbiguous.Error(),
		)
	}
	return rp
}

// Plan sorts the graph's actions and returns the batches still to run from
// rp. When rp continues an interrupted batch, the first batch is that batch's
// remainder under its original number; when that remainder is empty the
// following batches are numbered after it. It returns nil when nothing is
// left.
func Plan(g *graph.DependencyGraph, actions []action.Action, batchSize int, rp ResumePoint) []Batch {
	sorted := SortedActions(g, actions)
	start := max(rp.StartIndex, 0)
	if start >= len(sorted) {
		return nil
	}
	number := max(rp.BatchNumber, 1)

	var batches []Batch
	if rp.Interrupted && rp.BatchEnd > 0 && rp.BatchEnd <= start {
		// The interrupted batch has nothing left; its number stays taken.
		number++
	}
	if rp.Interrupted && rp.BatchEnd > start {
		end := min(rp.BatchEnd, len(sorted))
		batches = append(batches, Batch{
			Number:  number,
			Start:   start,
			Actions: sorted[start:end:end],
		})
		number++
		start = end
	}
	return append(batches, partition(sorted[start:], batchSize, start, number)...)
}
