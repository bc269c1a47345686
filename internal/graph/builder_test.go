package graph

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
)

func docActions() []action.Action {
	return []action.Action{
		{ID: "create_doc", Platform: "google-docs", ModelName: "documents", Title: "Create Document", Method: "POST", Path: "/docs"},
		{ID: "update_doc", Platform: "google-docs", ModelName: "documents", Title: "Update Document", Method: "PATCH", Path: "/docs/{{documentId}}"},
		{ID: "delete_doc", Platform: "google-docs", ModelName: "documents", Title: "Delete Document", Method: "DELETE", Path: "/docs/{{documentId}}"},
	}
}

func mustValid(t *testing.T, g *DependencyGraph) {
	t.Helper()
	if err := g.Validate(); err != nil {
		t.Fatalf("graph invalid: %v\ngroups: %v", err, g.ExecutionGroups)
	}
}

func TestBuild_FallbackDocScenario(t *testing.T) {
	g := NewBuilder().Build(context.Background(), docActions(), "google-docs")
	mustValid(t, g)

	if g.Mode != ModeFallback {
		t.Errorf("Mode = %q, want fallback", g.Mode)
	}
	if g.Repairs.OracleFallback {
		t.Error("no oracle configured should not count as a repair")
	}

	create, _ := g.Node("create_doc")
	if !slices.Equal(create.ProvidesIDs, []string{"documentId"}) || create.Priority != PriorityRootCreate {
		t.Errorf("create_doc node = %+v", create)
	}
	for _, id := range []string{"update_doc", "delete_doc"} {
		n, ok := g.Node(id)
		if !ok {
			t.Fatalf("missing node %s", id)
		}
		if !slices.Equal(n.DependsOn, []string{"create_doc"}) {
			t.Errorf("%s DependsOn = %v", id, n.DependsOn)
		}
		if !slices.Equal(n.RequiresIDs, []string{"documentId"}) {
			t.Errorf("%s RequiresIDs = %v", id, n.RequiresIDs)
		}
	}

	want := [][]string{{"create_doc"}, {"update_doc", "delete_doc"}}
	if fmt.Sprint(g.ExecutionGroups) != fmt.Sprint(want) {
		t.Errorf("ExecutionGroups = %v, want %v", g.ExecutionGroups, want)
	}
}

func TestBuild_FallbackOnlyLinksEarlierProviders(t *testing.T) {
	actions := []action.Action{
		{ID: "update_doc", Title: "Update Document", Path: "/docs/{{documentId}}"},
		{ID: "create_doc", Title: "Create Document", ModelName: "documents", Path: "/docs"},
	}
	g := NewBuilder().Build(context.Background(), actions, "docs")
	mustValid(t, g)

	n, _ := g.Node("update_doc")
	if len(n.DependsOn) != 0 {
		t.Errorf("update_doc should not depend on a later provider, got %v", n.DependsOn)
	}
}

func TestBuild_RepairsOracleHints(t *testing.T) {
	actions := []action.Action{
		{ID: "a", Title: "Run A"},
		{ID: "b", Title: "Run B"},
		{ID: "c", Title: "Run C"},
		{ID: "d", Title: "Run D"},
	}
	oracle := OracleFunc(func(ctx context.Context, _ []action.Action, _ string) (*Hints, error) {
		return &Hints{
			Nodes: []DependencyNode{
				{ActionID: "a", DependsOn: []string{"b", "b", "ghost"}, Priority: 7},
				{ActionID: "b", DependsOn: []string{"c"}, Priority: 7},
				{ActionID: "c", DependsOn: []string{"a"}, Priority: 7},
				{ActionID: "d", DependsOn: []string{"d"}, Priority: 7},
			},
		}, nil
	})

	var buf bytes.Buffer
	g := NewBuilder(WithOracle(oracle), WithLogger(logging.NewWithWriter(&buf, "debug"))).
		Build(context.Background(), actions, "demo")
	mustValid(t, g)

	if g.Mode != ModeOracle {
		t.Errorf("Mode = %q, want oracle", g.Mode)
	}
	r := g.Repairs
	if r.DanglingEdges != 1 || r.DuplicateEdges != 1 || r.CycleEdges != 2 || r.ForcedFlushes != 0 {
		t.Errorf("Repairs = %+v", r)
	}

	want := [][]string{{"c", "d"}, {"b"}, {"a"}}
	if fmt.Sprint(g.ExecutionGroups) != fmt.Sprint(want) {
		t.Errorf("ExecutionGroups = %v, want %v", g.ExecutionGroups, want)
	}
	for _, msg := range []string{"pruned dangling dependency", "removed dependency closing a cycle", "dependency graph inconsistent"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("log missing %q", msg)
		}
	}
}

func TestBuild_OracleHintsReconciled(t *testing.T) {
	oracle := OracleFunc(func(ctx context.Context, _ []action.Action, _ string) (*Hints, error) {
		return &Hints{
			Nodes: []DependencyNode{
				{ActionID: "create_doc", ProvidesIDs: []string{"documentId"}, RequiresIDs: []string{"bogus"}, Priority: 1},
				{ActionID: "ghost", DependsOn: []string{"create_doc"}},
			},
			// Deliberately wrong; suggested groups are advisory.
			ExecutionGroups: [][]string{{"delete_doc", "update_doc", "create_doc"}},
		}, nil
	})

	g := NewBuilder(WithOracle(oracle)).Build(context.Background(), docActions(), "google-docs")
	mustValid(t, g)

	if g.Mode != ModeOracle {
		t.Fatalf("Mode = %q", g.Mode)
	}
	if g.Repairs.SynthesizedNodes != 2 || g.Repairs.UnknownHints != 1 {
		t.Errorf("Repairs = %+v", g.Repairs)
	}
	create, _ := g.Node("create_doc")
	if len(create.RequiresIDs) != 0 {
		t.Errorf("RequiresIDs must come from the path, got %v", create.RequiresIDs)
	}
	del, _ := g.Node("delete_doc")
	if !slices.Equal(del.DependsOn, []string{"create_doc"}) || del.Priority != PriorityDelete {
		t.Errorf("synthesized delete_doc = %+v", del)
	}
	if len(g.ExecutionGroups) != 2 {
		t.Errorf("ExecutionGroups = %v", g.ExecutionGroups)
	}
}

func TestBuild_OracleFailuresFallBack(t *testing.T) {
	tests := []struct {
		name   string
		oracle OracleFunc
		reason string
	}{
		{
			name: "error",
			oracle: func(context.Context, []action.Action, string) (*Hints, error) {
				return nil, fmt.Errorf("rate limited")
			},
			reason: "rate limited",
		},
		{
			name: "nil hints",
			oracle: func(context.Context, []action.Action, string) (*Hints, error) {
				return nil, nil
			},
			reason: "no hints",
		},
		{
			name: "panic",
			oracle: func(context.Context, []action.Action, string) (*Hints, error) {
				panic("boom")
			},
			reason: "panicked",
		},
		{
			name: "honors deadline",
			oracle: func(ctx context.Context, _ []action.Action, _ string) (*Hints, error) {
				<-ctx.Done()
				return &Hints{}, nil
			},
			reason: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewBuilder(WithOracle(tt.oracle), WithTimeout(20*time.Millisecond)).
				Build(context.Background(), docActions(), "google-docs")
			mustValid(t, g)

			if g.Mode != ModeFallback || !g.Repairs.OracleFallback {
				t.Errorf("Mode = %q, Repairs = %+v", g.Mode, g.Repairs)
			}
			if !strings.Contains(g.Repairs.FallbackReason, tt.reason) {
				t.Errorf("FallbackReason = %q, want it to mention %q", g.Repairs.FallbackReason, tt.reason)
			}
			n, _ := g.Node("update_doc")
			if !slices.Equal(n.DependsOn, []string{"create_doc"}) {
				t.Errorf("fallback edges missing: %v", n.DependsOn)
			}
		})
	}
}

func TestBuild_AbandonsStuckOracle(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	oracle := OracleFunc(func(context.Context, []action.Action, string) (*Hints, error) {
		<-release
		return &Hints{}, nil
	})

	start := time.Now()
	g := NewBuilder(WithOracle(oracle), WithTimeout(20*time.Millisecond)).
		Build(context.Background(), docActions(), "google-docs")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Build blocked for %v", elapsed)
	}
	if g.Mode != ModeFallback {
		t.Errorf("Mode = %q, want fallback", g.Mode)
	}
}

func TestBuild_SkipsOracleAboveLimit(t *testing.T) {
	var calls atomic.Int32
	oracle := OracleFunc(func(context.Context, []action.Action, string) (*Hints, error) {
		calls.Add(1)
		return &Hints{}, nil
	})

	g := NewBuilder(WithOracle(oracle), WithMaxOracleActions(3)).
		Build(context.Background(), docActions(), "google-docs")
	if calls.Load() != 0 {
		t.Errorf("oracle called %d times", calls.Load())
	}
	if g.Mode != ModeFallback || !g.Repairs.OracleFallback {
		t.Errorf("Mode = %q, Repairs = %+v", g.Mode, g.Repairs)
	}

	NewBuilder(WithOracle(oracle), WithMaxOracleActions(4)).
		Build(context.Background(), docActions(), "google-docs")
	if calls.Load() != 1 {
		t.Errorf("oracle should be called below the limit, calls = %d", calls.Load())
	}
}

func TestBuild_DuplicateActionIDs(t *testing.T) {
	actions := append(docActions(), action.Action{ID: "create_doc", Title: "Create Other"})
	g := NewBuilder().Build(context.Background(), actions, "google-docs")
	mustValid(t, g)
	if len(g.Nodes) != 3 {
		t.Errorf("Nodes = %d, want 3", len(g.Nodes))
	}
}

func TestBuild_Empty(t *testing.T) {
	g := NewBuilder().Build(context.Background(), nil, "none")
	mustValid(t, g)
	if len(g.Nodes) != 0 || len(g.ExecutionGroups) != 0 {
		t.Errorf("graph = %+v", g)
	}
}

func TestBuild_RandomHintsAlwaysLayered(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(25)
		actions := make([]action.Action, n)
		hints := &Hints{}
		for i := range actions {
			id := fmt.Sprintf("act-%02d", i)
			actions[i] = action.Action{ID: id, Title: "Run " + id}
			node := DependencyNode{ActionID: id, Priority: 1 + rng.Intn(7)}
			for e := rng.Intn(4); e > 0; e-- {
				target := rng.Intn(n + 2) // may point past the set
				node.DependsOn = append(node.DependsOn, fmt.Sprintf("act-%02d", target))
			}
			hints.Nodes = append(hints.Nodes, node)
		}
		oracle := OracleFunc(func(context.Context, []action.Action, string) (*Hints, error) {
			return hints, nil
		})

		g := NewBuilder(WithOracle(oracle)).Build(context.Background(), actions, "random")
		if err := g.Validate(); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if g.Repairs.ForcedFlushes != 0 {
			t.Errorf("trial %d: forced flush after cycle removal", trial)
		}
	}
}

func TestLayer_ForceFlush(t *testing.T) {
	nodes := []DependencyNode{
		{ActionID: "a", DependsOn: []string{"b"}},
		{ActionID: "b", DependsOn: []string{"a"}},
		{ActionID: "c"},
	}
	var r Repairs
	groups := layer(nodes, &r, logging.NopLogger())
	want := [][]string{{"c"}, {"a", "b"}}
	if fmt.Sprint(groups) != fmt.Sprint(want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
	if r.ForcedFlushes != 1 {
		t.Errorf("ForcedFlushes = %d", r.ForcedFlushes)
	}
}

func TestValidate_DetectsBadLayering(t *testing.T) {
	g := &DependencyGraph{
		Nodes: []DependencyNode{
			{ActionID: "a"},
			{ActionID: "b", DependsOn: []string{"a"}},
		},
		ExecutionGroups: [][]string{{"a", "b"}},
	}
	if err := g.Validate(); err == nil {
		t.Error("expected error for dependency in the same group")
	}

	g.ExecutionGroups = [][]string{{"a"}}
	if err := g.Validate(); err == nil {
		t.Error("expected error for missing node")
	}
}
