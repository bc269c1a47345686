package oracle

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
)

type fakeCompleter struct {
	reply  string
	err    error
	system string
	user   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.system, f.user = system, user
	return f.reply, f.err
}

func actions() []action.Action {
	return []action.Action{
		{ID: "create_doc", ModelName: "documents", Title: "Create Document", Method: "POST", Path: "/docs"},
		{ID: "get_doc", ModelName: "documents", Title: "Get Document", Method: "GET", Path: "/docs/{{documentId}}"},
	}
}

func TestParseHints(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		nodes   int
		groups  int
		wantErr bool
	}{
		{
			name:   "bare object",
			reply:  `{"nodes":[{"actionId":"a","priority":1},{"actionId":"b","dependsOn":["a"]}],"executionGroups":[["a"],["b"]]}`,
			nodes:  2,
			groups: 2,
		},
		{
			name:   "fenced with prose",
			reply:  "Here is the analysis:\n```json\n{\"nodes\":[{\"actionId\":\"a\"}]}\n```\nLet me know.",
			nodes:  1,
		},
		{
			name:  "bare array",
			reply: `[{"actionId":"a"},{"actionId":"b"}]`,
			nodes: 2,
		},
		{
			name:  "skips nodes without id",
			reply: `{"nodes":[{"actionId":""},{"actionId":"b"}]}`,
			nodes: 1,
		},
		{
			name:  "first candidate unusable",
			reply: `Example: {"foo":1}. Answer: {"nodes":[{"actionId":"a"}]}`,
			nodes: 1,
		},
		{name: "no json", reply: "I cannot help with that.", wantErr: true},
		{name: "empty nodes", reply: `{"nodes":[]}`, wantErr: true},
		{name: "wrong shape", reply: `{"nodes":"a,b"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHints(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", h)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHints: %v", err)
			}
			if len(h.Nodes) != tt.nodes || len(h.ExecutionGroups) != tt.groups {
				t.Errorf("nodes=%d groups=%d, want %d/%d", len(h.Nodes), len(h.ExecutionGroups), tt.nodes, tt.groups)
			}
		})
	}
}

func TestParseHints_Fields(t *testing.T) {
	h, err := ParseHints(`{"nodes":[{"actionId":"get_doc","providesIds":["x"],"requiresIds":["documentId"],"dependsOn":["create_doc"],"priority":4,"retryable":true,"optional":true}]}`)
	if err != nil {
		t.Fatal(err)
	}
	n := h.Nodes[0]
	if n.ActionID != "get_doc" || n.Priority != 4 || !n.Retryable || !n.Optional {
		t.Errorf("node = %+v", n)
	}
	if !slices.Equal(n.DependsOn, []string{"create_doc"}) || !slices.Equal(n.RequiresIDs, []string{"documentId"}) {
		t.Errorf("edges = %+v", n)
	}
}

func TestClassify(t *testing.T) {
	fc := &fakeCompleter{reply: `{"nodes":[{"actionId":"create_doc","providesIds":["documentId"]},{"actionId":"get_doc","dependsOn":["create_doc"]}]}`}
	c := NewClassifier(fc, WithModelName("test-model"))

	h, err := c.Classify(context.Background(), actions(), "google-docs")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(h.Nodes) != 2 {
		t.Errorf("nodes = %d", len(h.Nodes))
	}
	if !strings.Contains(fc.user, "Platform: google-docs") || !strings.Contains(fc.user, `"/docs/{{documentId}}"`) {
		t.Errorf("prompt missing action details:\n%s", fc.user)
	}
	if !strings.Contains(fc.system, "executionGroups") {
		t.Error("system prompt should describe the reply format")
	}
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{"completion error", &fakeCompleter{err: fmt.Errorf("401 unauthorized")}},
		{"garbage reply", &fakeCompleter{reply: "sorry"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier(tt.fc, WithModelName("m")).Classify(context.Background(), actions(), "docs")
			if !errors.Is(err, errors.ErrOracleUnavailable) {
				t.Fatalf("err = %v, want oracle unavailable", err)
			}
			var oe *errors.OracleError
			if !errors.As(err, &oe) || oe.Platform != "docs" || oe.Model != "m" || oe.ActionCount != 2 {
				t.Errorf("OracleError = %+v", oe)
			}
		})
	}
}

func TestClassifierFeedsBuilder(t *testing.T) {
	fc := &fakeCompleter{reply: "```json\n{\"nodes\":[{\"actionId\":\"get_doc\",\"dependsOn\":[\"create_doc\"]}]}\n```"}
	g := graph.NewBuilder(graph.WithOracle(NewClassifier(fc))).Build(context.Background(), actions(), "google-docs")
	if g.Mode != graph.ModeOracle {
		t.Fatalf("Mode = %q", g.Mode)
	}
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
	n, _ := g.Node("get_doc")
	if !slices.Equal(n.DependsOn, []string{"create_doc"}) {
		t.Errorf("get_doc DependsOn = %v", n.DependsOn)
	}
}
