// Package graph builds the dependency graph that orders a platform's actions.
//
// A [Builder] optionally consults an [Oracle] for dependency hints, then
// reconciles those hints against what can be derived deterministically from
// each action (its path placeholders, verb and model name). Whatever the
// oracle returns, the result is repaired until it is acyclic and layered into
// execution groups, so callers always receive a usable graph.
package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
)

// Mode records how a graph's edges were derived.
type Mode string

const (
	// ModeOracle means oracle hints were reconciled into the graph.
	ModeOracle Mode = "oracle"
	// ModeFallback means edges were derived from provides/requires overlap only.
	ModeFallback Mode = "fallback"
)

// DependencyNode is one action's position in the graph.
type DependencyNode struct {
	ActionID    string   `json:"action_id"`
	DependsOn   []string `json:"depends_on"`
	ProvidesIDs []string `json:"provides_ids"`
	RequiresIDs []string `json:"requires_ids"`

	// Priority orders actions within an execution group; lower runs earlier.
	Priority int `json:"priority"`

	Retryable bool `json:"retryable"`
	Optional  bool `json:"optional"`
}

func (n DependencyNode) clone() DependencyNode {
	n.DependsOn = slices.Clone(n.DependsOn)
	n.ProvidesIDs = slices.Clone(n.ProvidesIDs)
	n.RequiresIDs = slices.Clone(n.RequiresIDs)
	return n
}

// Repairs counts the corrections applied while building a graph.
type Repairs struct {
	DanglingEdges    int    `json:"dangling_edges"`
	DuplicateEdges   int    `json:"duplicate_edges"`
	CycleEdges       int    `json:"cycle_edges"`
	ForcedFlushes    int    `json:"forced_flushes"`
	SynthesizedNodes int    `json:"synthesized_nodes"`
	UnknownHints     int    `json:"unknown_hints"`
	OracleFallback   bool   `json:"oracle_fallback"`
	FallbackReason   string `json:"fallback_reason,omitempty"`
}

// Total returns the number of structural repairs.
func (r Repairs) Total() int {
	n := r.DanglingEdges + r.DuplicateEdges + r.CycleEdges + r.ForcedFlushes
	if r.OracleFallback {
		n++
	}
	return n
}

// DependencyGraph is an acyclic graph over a set of actions together with its
// topological layering.
type DependencyGraph struct {
	Nodes []DependencyNode `json:"nodes"`

	// ExecutionGroups partitions all node ids into topological layers. Every
	// dependency of a node lives in an earlier group.
	ExecutionGroups [][]string `json:"execution_groups"`

	Mode    Mode    `json:"mode"`
	Repairs Repairs `json:"repairs"`
}

// Node returns the node for an action id.
func (g *DependencyGraph) Node(id string) (DependencyNode, bool) {
	for _, n := range g.Nodes {
		if n.ActionID == id {
			return n, true
		}
	}
	return DependencyNode{}, false
}

// GroupIndex returns a lookup from action id to execution group index.
func (g *DependencyGraph) GroupIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, group := range g.ExecutionGroups {
		for _, id := range group {
			idx[id] = i
		}
	}
	return idx
}

// Validate checks that the execution groups partition the nodes and that
// every dependency is placed in a strictly earlier group.
func (g *DependencyGraph) Validate() error {
	groupOf := make(map[string]int, len(g.Nodes))
	for i, group := range g.ExecutionGroups {
		for _, id := range group {
			if _, dup := groupOf[id]; dup {
				return errors.NewGraphError("node placed in more than one group", nil).WithActionID(id)
			}
			groupOf[id] = i
		}
	}
	if len(groupOf) != len(g.Nodes) {
		return errors.NewGraphError(
			fmt.Sprintf("groups hold %d ids but graph has %d nodes", len(groupOf), len(g.Nodes)), nil)
	}
	for _, n := range g.Nodes {
		gi, ok := groupOf[n.ActionID]
		if !ok {
			return errors.NewGraphError("node missing from execution groups", nil).WithActionID(n.ActionID)
		}
		for _, dep := range n.DependsOn {
			di, ok := groupOf[dep]
			if !ok {
				return errors.NewGraphError("dangling dependency", nil).WithActionID(n.ActionID).WithEdge(dep)
			}
			if di >= gi {
				return errors.NewGraphError("dependency not in an earlier group", nil).WithActionID(n.ActionID).WithEdge(dep)
			}
		}
	}
	return nil
}

// Hints are an oracle's advisory classification of a set of actions.
type Hints struct {
	Nodes           []DependencyNode `json:"nodes"`
	ExecutionGroups [][]string       `json:"execution_groups,omitempty"`
}

// Oracle proposes dependency hints for a platform's actions. Implementations
// must honor ctx; the builder abandons calls that outlive their deadline.
type Oracle interface {
	Classify(ctx context.Context, actions []action.Action, platform string) (*Hints, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, actions []action.Action, platform string) (*Hints, error)

// Classify calls f.
func (f OracleFunc) Classify(ctx context.Context, actions []action.Action, platform string) (*Hints, error) {
	return f(ctx, actions, platform)
}
