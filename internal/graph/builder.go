package graph

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
)

// Builder defaults.
const (
	DefaultMaxOracleActions = 100
	DefaultOracleTimeout    = 60 * time.Second
)

// Option configures a Builder.
type Option func(*Builder)

// WithOracle sets the oracle consulted for hints. A nil oracle disables it.
func WithOracle(o Oracle) Option {
	return func(b *Builder) { b.oracle = o }
}

// WithLogger sets the logger used to report repairs.
func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) { b.logger = logging.OrNop(l).WithPhase("graph") }
}

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithMaxOracleActions sets the action count at or above which the oracle is
// skipped.
func WithMaxOracleActions(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxOracleActions = n
		}
	}
}

// Builder turns a list of actions into a DependencyGraph.
type Builder struct {
	oracle           Oracle
	logger           *logging.Logger
	timeout          time.Duration
	maxOracleActions int
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		logger:           logging.NopLogger(),
		timeout:          DefaultOracleTimeout,
		maxOracleActions: DefaultMaxOracleActions,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns a valid, acyclic, layered graph over actions. It never fails:
// oracle problems switch to fallback mode and inconsistencies are repaired.
// Actions sharing an id are collapsed to the first occurrence.
func (b *Builder) Build(ctx context.Context, actions []action.Action, platform string) *DependencyGraph {
	log := b.logger.WithPlatform(platform)
	unique := dedupActions(actions, log)

	g := &DependencyGraph{Mode: ModeFallback}
	hints, reason := b.consult(ctx, unique, platform, log)
	if hints != nil {
		g.Mode = ModeOracle
	} else {
		g.Repairs.FallbackReason = reason
		g.Repairs.OracleFallback = b.oracle != nil
	}

	nodes := reconcile(unique, hints, &g.Repairs, log)
	if g.Mode == ModeFallback {
		linkEarlierProviders(nodes)
	}

	pruneEdges(nodes, &g.Repairs, log)
	removeCycles(nodes, &g.Repairs, log)
	g.Nodes = nodes
	g.ExecutionGroups = layer(nodes, &g.Repairs, log)

	if hints != nil && len(hints.ExecutionGroups) > 0 {
		compareGroups(hints.ExecutionGroups, g.ExecutionGroups, log)
	}

	log.Info("dependency graph built",
		"mode", string(g.Mode),
		"nodes", len(g.Nodes),
		"groups", len(g.ExecutionGroups),
		"repairs", g.Repairs.Total(),
	)
	return g
}

// consult asks the oracle for hints. It returns nil hints and the reason when
// fallback mode applies.
func (b *Builder) consult(ctx context.Context, actions []action.Action, platform string, log *logging.Logger) (*Hints, string) {
	if b.oracle == nil {
		log.Debug("no oracle configured, using fallback")
		return nil, "no oracle configured"
	}
	if len(actions) >= b.maxOracleActions {
		reason := fmt.Sprintf("%d actions at or above oracle limit %d", len(actions), b.maxOracleActions)
		log.Info("skipping oracle", "reason", reason)
		return nil, reason
	}

	hints, err := b.classify(ctx, actions, platform)
	if err == nil && hints == nil {
		err = fmt.Errorf("oracle returned no hints")
	}
	if err != nil {
		oerr := errors.NewOracleError("classification failed", err).
			WithPlatform(platform).
			WithActionCount(len(actions))
		log.Warn("oracle unavailable, using fallback", "error", oerr.Error())
		return nil, err.Error()
	}
	return hints, ""
}

type classifyResult struct {
	hints *Hints
	err   error
}

// classify runs the oracle call under the builder's timeout. A panicking or
// overrunning oracle yields an error instead of blocking the build.
func (b *Builder) classify(ctx context.Context, actions []action.Action, platform string) (*Hints, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan classifyResult, 1)
	go func() {
		var res classifyResult
		var pc panics.Catcher
		pc.Try(func() {
			res.hints, res.err = b.oracle.Classify(ctx, slices.Clone(actions), platform)
		})
		if r := pc.Recovered(); r != nil {
			res = classifyResult{err: fmt.Errorf("oracle panicked: %w", r.AsError())}
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err == nil && ctx.Err() != nil {
			return nil, errors.NewTimeoutError("oracle classification", b.timeout).WithCause(ctx.Err())
		}
		return res.hints, res.err
	case <-ctx.Done():
		return nil, errors.NewTimeoutError("oracle classification", b.timeout).WithCause(ctx.Err())
	}
}

func dedupActions(actions []action.Action, log *logging.Logger) []action.Action {
	seen := make(map[string]bool, len(actions))
	out := make([]action.Action, 0, len(actions))
	for _, a := range actions {
		if seen[a.ID] {
			log.Warn("duplicate action id ignored", "action_id", a.ID)
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

// reconcile produces one node per action. Hinted nodes keep the oracle's
// edges and priority; everything else is synthesized. RequiresIDs always come
// from the action's path.
func reconcile(actions []action.Action, hints *Hints, repairs *Repairs, log *logging.Logger) []DependencyNode {
	hinted := make(map[string]DependencyNode)
	if hints != nil {
		known := action.IndexByID(actions)
		for _, h := range hints.Nodes {
			if _, ok := known[h.ActionID]; !ok {
				repairs.UnknownHints++
				log.Debug("ignoring hint for unknown action", "action_id", h.ActionID)
				continue
			}
			if _, dup := hinted[h.ActionID]; !dup {
				hinted[h.ActionID] = h.clone()
			}
		}
	}

	nodes := make([]DependencyNode, len(actions))
	var synthesized []int
	for i, a := range actions {
		h, ok := hinted[a.ID]
		if !ok {
			nodes[i] = heuristicNode(a)
			synthesized = append(synthesized, i)
			continue
		}
		if h.Priority <= 0 {
			h.Priority = Priority(a)
		}
		if len(h.ProvidesIDs) == 0 {
			h.ProvidesIDs = ProvidedIDs(a)
		}
		h.RequiresIDs = a.Placeholders()
		nodes[i] = h
	}

	if hints == nil {
		return nodes
	}
	repairs.SynthesizedNodes = len(synthesized)
	for _, i := range synthesized {
		log.Debug("synthesized node for action missing from hints", "action_id", nodes[i].ActionID)
		for j := range nodes {
			if j != i && intersects(nodes[j].ProvidesIDs, nodes[i].RequiresIDs) {
				nodes[i].DependsOn = append(nodes[i].DependsOn, nodes[j].ActionID)
			}
		}
	}
	return nodes
}

// linkEarlierProviders makes each node depend on every earlier node that
// provides one of the ids it requires.
func linkEarlierProviders(nodes []DependencyNode) {
	for i := range nodes {
		for j := 0; j < i; j++ {
			if intersects(nodes[j].ProvidesIDs, nodes[i].RequiresIDs) {
				nodes[i].DependsOn = append(nodes[i].DependsOn, nodes[j].ActionID)
			}
		}
	}
}

// pruneEdges drops edges to ids outside the node set and collapses duplicate
// edges. Self-loops are left for removeCycles.
func pruneEdges(nodes []DependencyNode, repairs *Repairs, log *logging.Logger) {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ActionID] = true
	}
	for i := range nodes {
		n := &nodes[i]
		seen := make(map[string]bool, len(n.DependsOn))
		kept := make([]string, 0, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			switch {
			case !ids[dep]:
				repairs.DanglingEdges++
				logRepair(log, "pruned dangling dependency", n.ActionID, dep)
			case seen[dep]:
				repairs.DuplicateEdges++
			default:
				seen[dep] = true
				kept = append(kept, dep)
			}
		}
		n.DependsOn = kept
	}
}

// removeCycles runs a depth-first traversal in input order and drops every
// back-edge from the node being visited, self-loops included. The remaining
// edges form a DAG.
func removeCycles(nodes []DependencyNode, repairs *Repairs, log *logging.Logger) {
	const (
		unvisited = iota
		onStack
		done
	)
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ActionID] = i
	}
	state := make([]int, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		state[i] = onStack
		n := &nodes[i]
		kept := make([]string, 0, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			j := index[dep]
			switch state[j] {
			case onStack:
				repairs.CycleEdges++
				logRepair(log, "removed dependency closing a cycle", n.ActionID, dep)
				continue
			case unvisited:
				visit(j)
			}
			kept = append(kept, dep)
		}
		n.DependsOn = kept
		state[i] = done
	}

	for i := range nodes {
		if state[i] == unvisited {
			visit(i)
		}
	}
}

// layer groups nodes into topological layers in input order. A pass that
// places nothing flushes every remaining node into one final group.
func layer(nodes []DependencyNode, repairs *Repairs, log *logging.Logger) [][]string {
	placed := make(map[string]bool, len(nodes))
	var groups [][]string

	for len(placed) < len(nodes) {
		var group []string
		for _, n := range nodes {
			if placed[n.ActionID] {
				continue
			}
			ready := true
			for _, dep := range n.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, n.ActionID)
			}
		}

		if len(group) == 0 {
			for _, n := range nodes {
				if !placed[n.ActionID] {
					group = append(group, n.ActionID)
				}
			}
			repairs.ForcedFlushes++
			const msg = "no progress while layering, flushing remaining nodes"
			log.Warn(msg,
				"remaining", len(group),
				"error", errors.NewGraphError(msg, errors.ErrGraphInconsistent).Error(),
			)
		}

		for _, id := range group {
			placed[id] = true
		}
		groups = append(groups, group)
	}
	return groups
}

// logRepair logs the removal of id's dependency on dep.
func logRepair(log *logging.Logger, msg, id, dep string) {
	err := errors.NewGraphError(msg, errors.ErrGraphInconsistent).WithActionID(id).WithEdge(dep)
	log.Warn(msg, "action_id", id, "depends_on", dep, "error", err.Error())
}

// compareGroups logs how the oracle's suggested layering differs from the
// computed one.
func compareGroups(suggested, computed [][]string, log *logging.Logger) {
	want := make(map[string]int)
	for i, g := range computed {
		for _, id := range g {
			want[id] = i
		}
	}
	moved, unknown := 0, 0
	for i, g := range suggested {
		for _, id := range g {
			gi, ok := want[id]
			switch {
			case !ok:
				unknown++
			case gi != i:
				moved++
			}
		}
	}
	if moved == 0 && unknown == 0 && len(suggested) == len(computed) {
		log.Debug("oracle execution groups match computed layering")
		return
	}
	log.Debug("oracle execution groups differ from computed layering",
		"suggested_groups", len(suggested),
		"computed_groups", len(computed),
		"moved", moved,
		"unknown", unknown,
	)
}
