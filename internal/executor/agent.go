package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/llm"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

// Agent defaults.
const (
	DefaultActionTimeout     = 120 * time.Second
	DefaultRateLimitRetries  = 2
	DefaultRateLimitBackoff  = 5 * time.Second
	maxKnowledgeInPromptSize = 8000
)

const agentSystemPrompt = `You are an API testing agent. Execute the given action against the platform using the instructions provided, then report the outcome.

Use ids from the context when the action path needs them. Do not ask for confirmation; if required data is missing, say what is missing.

Finish your reply with one JSON object on its own:
{"success":true,"ids":{"documentId":"..."},"names":{},"created_resources":{},"extracted_lists":{},"error":"","refined_knowledge":""}`

// AgentOption configures an AgentExecutor.
type AgentOption func(*AgentExecutor)

// WithAgentLogger sets the logger.
func WithAgentLogger(l *logging.Logger) AgentOption {
	return func(e *AgentExecutor) { e.logger = logging.OrNop(l).WithPhase("execute") }
}

// WithActionTimeout bounds each action.
func WithActionTimeout(d time.Duration) AgentOption {
	return func(e *AgentExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRateLimitRetry sets how often a rate-limited or timed-out action is
// retried and the base delay between attempts. The delay doubles after each
// attempt.
func WithRateLimitRetry(retries int, backoff time.Duration) AgentOption {
	return func(e *AgentExecutor) {
		e.retries = max(retries, 0)
		e.backoff = backoff
	}
}

// AgentExecutor executes actions by handing them to an LLM agent.
type AgentExecutor struct {
	llm     llm.Completer
	logger  *logging.Logger
	timeout time.Duration
	retries int
	backoff time.Duration
}

var _ Executor = (*AgentExecutor)(nil)

// NewAgentExecutor creates an AgentExecutor over completer.
func NewAgentExecutor(completer llm.Completer, opts ...AgentOption) *AgentExecutor {
	e := &AgentExecutor{
		llm:     completer,
		logger:  logging.NopLogger(),
		timeout: DefaultActionTimeout,
		retries: DefaultRateLimitRetries,
		backoff: DefaultRateLimitBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Executor.
func (e *AgentExecutor) Execute(ctx context.Context, a action.Action, reg *registry.Registry) (action.Result, error) {
	prompt := BuildActionPrompt(a, reg)
	delay := e.backoff

	for attempt := 0; ; attempt++ {
		reply, err := e.complete(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return action.Result{}, ctx.Err()
			}
			if !errors.IsRetryable(err) || attempt >= e.retries {
				e.logger.Warn("agent call failed", "action_id", a.ID, "error", err.Error())
				return action.Result{Success: false, Error: err.Error()}, nil
			}
			e.logger.Info("agent call timed out, retrying", "action_id", a.ID, "delay", delay.String())
			if err := sleep(ctx, delay); err != nil {
				return action.Result{}, err
			}
			delay *= 2
			continue
		}

		res, kind := InterpretReply(reply)
		e.logger.Debug("agent replied",
			"action_id", a.ID,
			"pattern", kind.String(),
			"success", res.Success,
			"attempt", attempt+1,
		)
		if kind != PatternRateLimited || attempt >= e.retries {
			return res, nil
		}

		e.logger.Info("rate limited, backing off", "action_id", a.ID, "delay", delay.String())
		if err := sleep(ctx, delay); err != nil {
			return action.Result{}, err
		}
		delay *= 2
	}
}

func (e *AgentExecutor) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	reply, err := e.llm.Complete(callCtx, agentSystemPrompt, prompt)
	if err != nil && ctx.Err() == nil && callCtx.Err() != nil {
		return "", errors.NewTimeoutError("agent call", e.timeout).WithCause(err)
	}
	return reply, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BuildActionPrompt renders the user message for one action: what to call,
// how, and which ids earlier actions produced.
func BuildActionPrompt(a action.Action, reg *registry.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", a.Platform)
	fmt.Fprintf(&b, "Action: %s (%s)\n", a.Title, a.ID)
	if a.Method != "" || a.Path != "" {
		fmt.Fprintf(&b, "Request: %s %s\n", strings.ToUpper(a.Method), a.Path)
	}
	if a.ModelName != "" {
		fmt.Fprintf(&b, "Model: %s\n", a.ModelName)
	}

	if params := a.Placeholders(); len(params) > 0 && reg != nil {
		b.WriteString("\nPath parameters:\n")
		for _, p := range params {
			if v, ok := reg.Latest(p); ok {
				fmt.Fprintf(&b, "- %s = %s\n", p, v)
			} else {
				fmt.Fprintf(&b, "- %s = (unknown)\n", p)
			}
		}
	}

	if reg != nil && !reg.IsEmpty() {
		b.WriteString("\nContext:\n")
		b.WriteString(reg.Summary)
		b.WriteString("\n")
	}

	if k := strings.TrimSpace(a.Knowledge); k != "" {
		b.WriteString("\nInstructions:\n")
		b.WriteString(util.TruncateString(k, maxKnowledgeInPromptSize))
		b.WriteString("\n")
	}
	return b.String()
}

type agentReport struct {
	Success          *bool                      `json:"success"`
	IDs              map[string]any             `json:"ids"`
	Names            map[string]string          `json:"names"`
	CreatedResources map[string]json.RawMessage `json:"created_resources"`
	ExtractedLists   map[string]json.RawMessage `json:"extracted_lists"`
	Error            string                     `json:"error"`
	RefinedKnowledge string                     `json:"refined_knowledge"`
}

// InterpretReply turns an agent reply into a Result.
//
// The prose is classified with MatchPattern after removing the trailing JSON
// report. A Completed reply succeeds. When the prose is inconclusive or only
// reads as a failure, the report's "success" field decides; a report saying
// the action failed always wins. Extracted data is taken from the report of
// successful replies.
func InterpretReply(reply string) (action.Result, PatternKind) {
	var report agentReport
	prose := reply
	if doc, ok := llm.LastJSON(reply); ok {
		if err := json.Unmarshal([]byte(doc), &report); err == nil {
			if i := strings.LastIndex(prose, doc); i >= 0 {
				prose = prose[:i] + prose[i+len(doc):]
			}
		} else {
			report = agentReport{}
		}
	}

	kind := MatchPattern(prose)
	success := kind == PatternCompleted
	if (kind == PatternUnknown || kind == PatternFailed) && report.Success != nil {
		success = *report.Success
	}
	if report.Success != nil && !*report.Success {
		success = false
	}

	res := action.Result{Success: success, RefinedKnowledge: report.RefinedKnowledge}
	if !success {
		res.Error = report.Error
		if res.Error == "" {
			res.Error = fmt.Sprintf("%s: %s", kind, util.TruncateString(strings.TrimSpace(prose), 200))
		}
		return res, kind
	}

	res.ExtractedData = action.ExtractedData{
		IDs:              stringIDs(report.IDs),
		Names:            report.Names,
		CreatedResources: report.CreatedResources,
		ExtractedLists:   report.ExtractedLists,
	}
	return res, kind
}

// stringIDs keeps string and numeric id values; agents often emit numeric
// ids.
func stringIDs(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			if t != "" {
				out[k] = t
			}
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
