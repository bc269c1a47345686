// Package oracle asks a language model to classify a platform's actions into
// dependency hints. Its answers are advisory: the graph builder reconciles
// and repairs whatever comes back.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/llm"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

const systemPrompt = `You analyse REST API actions of one platform and work out which actions must run before others.

For every action decide:
- providesIds: id tags the action produces when it succeeds (e.g. a create action on documents provides "documentId")
- requiresIds: id tags the action's path or body needs
- dependsOn: ids of other actions from the list that must run first
- priority: 1 = create without path parameters, 2 = other create, 3 = list/search, 4 = get, 5 = update, 6 = delete, 7 = other
- retryable: true when the action is safe to repeat
- optional: true when failure should not block dependents

Also propose executionGroups: layers of action ids where every action only depends on actions in earlier layers.

Reply with one JSON object and nothing else:
{"nodes":[{"actionId":"...","providesIds":[],"requiresIds":[],"dependsOn":[],"priority":1,"retryable":false,"optional":false}],"executionGroups":[["..."]]}`

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Classifier) { c.logger = logging.OrNop(l).WithPhase("oracle") }
}

// WithModelName records the model name in errors and logs.
func WithModelName(name string) Option {
	return func(c *Classifier) { c.model = name }
}

// Classifier is a graph.Oracle backed by an LLM.
type Classifier struct {
	llm    llm.Completer
	logger *logging.Logger
	model  string
}

var _ graph.Oracle = (*Classifier)(nil)

// NewClassifier creates a Classifier over completer.
func NewClassifier(completer llm.Completer, opts ...Option) *Classifier {
	c := &Classifier{
		llm:    completer,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify implements graph.Oracle.
func (c *Classifier) Classify(ctx context.Context, actions []action.Action, platform string) (*graph.Hints, error) {
	prompt, err := BuildPrompt(actions, platform)
	if err != nil {
		return nil, c.fail("building prompt", err, platform, len(actions))
	}

	c.logger.Debug("requesting dependency hints", "platform", platform, "actions", len(actions))
	reply, err := c.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, c.fail("completion failed", err, platform, len(actions))
	}

	hints, err := ParseHints(reply)
	if err != nil {
		c.logger.Debug("unparseable oracle reply", "reply", util.TruncateString(reply, 500))
		return nil, c.fail("parsing reply", err, platform, len(actions))
	}
	c.logger.Info("received dependency hints",
		"platform", platform,
		"nodes", len(hints.Nodes),
		"groups", len(hints.ExecutionGroups),
	)
	return hints, nil
}

func (c *Classifier) fail(msg string, cause error, platform string, n int) error {
	e := errors.NewOracleError(msg, cause).WithPlatform(platform).WithActionCount(n)
	if c.model != "" {
		e = e.WithModel(c.model)
	}
	return e
}

type promptAction struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Model  string `json:"model,omitempty"`
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
}

// BuildPrompt renders the user message listing the actions to classify.
func BuildPrompt(actions []action.Action, platform string) (string, error) {
	items := make([]promptAction, len(actions))
	for i, a := range actions {
		items[i] = promptAction{ID: a.ID, Title: a.Title, Model: a.ModelName, Method: a.Method, Path: a.Path}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", platform)
	fmt.Fprintf(&b, "Actions (%d):\n", len(actions))
	b.Write(data)
	b.WriteString("\n")
	return b.String(), nil
}

type wireNode struct {
	ActionID    string   `json:"actionId"`
	ProvidesIDs []string `json:"providesIds"`
	RequiresIDs []string `json:"requiresIds"`
	DependsOn   []string `json:"dependsOn"`
	Priority    int      `json:"priority"`
	Retryable   bool     `json:"retryable"`
	Optional    bool     `json:"optional"`
}

type wireHints struct {
	Nodes           []wireNode `json:"nodes"`
	ExecutionGroups [][]string `json:"executionGroups"`
}

// ParseHints extracts hints from a model reply. The JSON may be fenced or
// surrounded by prose, and may be either the documented object or a bare
// array of nodes.
func ParseHints(reply string) (*graph.Hints, error) {
	candidates := llm.JSONCandidates(reply)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no JSON found in reply")
	}

	var lastErr error
	for _, doc := range candidates {
		var w wireHints
		if strings.HasPrefix(doc, "[") {
			lastErr = json.Unmarshal([]byte(doc), &w.Nodes)
		} else {
			lastErr = json.Unmarshal([]byte(doc), &w)
		}
		if lastErr != nil {
			continue
		}
		if len(w.Nodes) == 0 {
			lastErr = fmt.Errorf("reply contains no nodes")
			continue
		}
		return w.toHints(), nil
	}
	return nil, lastErr
}

func (w wireHints) toHints() *graph.Hints {
	h := &graph.Hints{ExecutionGroups: w.ExecutionGroups}
	for _, n := range w.Nodes {
		if strings.TrimSpace(n.ActionID) == "" {
			continue
		}
		h.Nodes = append(h.Nodes, graph.DependencyNode{
			ActionID:    n.ActionID,
			DependsOn:   n.DependsOn,
			ProvidesIDs: n.ProvidesIDs,
			RequiresIDs: n.RequiresIDs,
			Priority:    n.Priority,
			Retryable:   n.Retryable,
			Optional:    n.Optional,
		})
	}
	return h
}
