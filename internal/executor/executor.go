// Package executor runs individual actions against a platform and reports
// what they produced.
//
// The campaign driver only sees the [Executor] interface. [AgentExecutor]
// delegates each action to an LLM agent and classifies its reply;
// [DryRun] succeeds immediately and fabricates the ids create actions would
// produce, which exercises batching and persistence without side effects.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
)

// Executor runs one action with the registry's accumulated context.
//
// A failed action is reported through Result.Success and Result.Error. The
// returned error is reserved for the call itself not completing, for example
// because ctx was cancelled.
type Executor interface {
	Execute(ctx context.Context, a action.Action, reg *registry.Registry) (action.Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, a action.Action, reg *registry.Registry) (action.Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, a action.Action, reg *registry.Registry) (action.Result, error) {
	return f(ctx, a, reg)
}

// DryRun is an Executor that performs no remote calls.
type DryRun struct {
	// Delay simulates per-action latency.
	Delay time.Duration

	mu       sync.Mutex
	executed []string
}

var _ Executor = (*DryRun)(nil)

// Execute implements Executor. Create actions report a generated value for
// each id they are expected to provide.
func (d *DryRun) Execute(ctx context.Context, a action.Action, _ *registry.Registry) (action.Result, error) {
	if d.Delay > 0 {
		timer := time.NewTimer(d.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return action.Result{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return action.Result{}, err
	}

	d.mu.Lock()
	d.executed = append(d.executed, a.ID)
	d.mu.Unlock()

	res := action.Result{Success: true}
	if tags := graph.ProvidedIDs(a); len(tags) > 0 {
		res.ExtractedData.IDs = make(map[string]string, len(tags))
		for _, tag := range tags {
			res.ExtractedData.IDs[tag] = "dry-" + uuid.NewString()[:8]
		}
	}
	return res, nil
}

// Executed returns the ids of the actions run so far, in order.
func (d *DryRun) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.executed...)
}
