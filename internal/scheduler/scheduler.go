// Package scheduler orders a graph's actions and cuts them into batches, the
// unit of persistence and resumption.
package scheduler

import (
	"sort"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/history"
)

// Batch is a contiguous slice of the sorted action sequence.
type Batch struct {
	// Number is the batch's 1-based sequence number within the platform's
	// history.
	Number int

	// Start is the 0-based global index of the batch's first action.
	Start int

	Actions []action.Action
}

// Len returns the number of actions in the batch.
func (b Batch) Len() int {
	return len(b.Actions)
}

// End returns the 0-based global index just past the batch.
func (b Batch) End() int {
	return b.Start + len(b.Actions)
}

// Range renders the batch's 1-based inclusive range, e.g. "11-20".
func (b Batch) Range() string {
	return history.FormatRange(b.Start, len(b.Actions))
}

// SortedActions flattens the graph's execution groups into one sequence.
// Within a group actions run by ascending priority, ties keeping catalog
// order. Actions the graph does not know are appended in catalog order.
// Repeated ids keep their first occurrence.
func SortedActions(g *graph.DependencyGraph, actions []action.Action) []action.Action {
	catalog := action.IndexByID(actions)
	out := make([]action.Action, 0, len(catalog))
	used := make(map[string]bool, len(catalog))

	if g != nil {
		priority := make(map[string]int, len(g.Nodes))
		for _, n := range g.Nodes {
			priority[n.ActionID] = n.Priority
		}
		for _, group := range g.ExecutionGroups {
			ids := make([]string, 0, len(group))
			for _, id := range group {
				if _, ok := catalog[id]; ok && !used[id] {
					ids = append(ids, id)
					used[id] = true
				}
			}
			sort.SliceStable(ids, func(i, j int) bool {
				pi, pj := priority[ids[i]], priority[ids[j]]
				if pi != pj {
					return pi < pj
				}
				return catalog[ids[i]] < catalog[ids[j]]
			})
			for _, id := range ids {
				out = append(out, actions[catalog[id]])
			}
		}
	}

	for _, a := range actions {
		if !used[a.ID] {
			used[a.ID] = true
			out = append(out, a)
		}
	}
	return out
}

// PartitionIntoBatches cuts sorted into batches numbered from 1.
//
// A batch closes once it holds at least batchSize actions and the next action
// belongs to a different model or platform, so neighbours of the same model
// stay together even if that makes a batch larger than batchSize. A
// batchSize below 1 is treated as 1.
func PartitionIntoBatches(sorted []action.Action, batchSize int) []Batch {
	return partition(sorted, batchSize, 0, 1)
}

// partition cuts sorted into batches whose first action sits at global index
// start and whose numbers begin at number.
func partition(sorted []action.Action, batchSize, start, number int) []Batch {
	if batchSize < 1 {
		batchSize = 1
	}

	var batches []Batch
	from := 0
	for i := range sorted {
		last := i == len(sorted)-1
		size := i - from + 1
		if !last && (size < batchSize || !safeBoundary(sorted[i], sorted[i+1])) {
			continue
		}
		batches = append(batches, Batch{
			Number:  number,
			Start:   start + from,
			Actions: sorted[from : i+1 : i+1],
		})
		number++
		from = i + 1
	}
	return batches
}

// safeBoundary reports whether a batch may end between cur and next.
func safeBoundary(cur, next action.Action) bool {
	return cur.ModelName != next.ModelName || cur.Platform != next.Platform
}
