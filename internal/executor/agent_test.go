package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, _, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, user)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return reply, err
}

var updateDoc = action.Action{
	ID:        "update_doc",
	Platform:  "google-docs",
	ModelName: "documents",
	Title:     "Update Document",
	Method:    "patch",
	Path:      "/docs/{{documentId}}",
	Knowledge: "Send a batchUpdate request that inserts text.",
}

func TestInterpretReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		kind    PatternKind
		success bool
		ids     map[string]string
		errText string
	}{
		{
			name:    "completed with report",
			reply:   "Created the document successfully.\n```json\n{\"success\":true,\"ids\":{\"documentId\":\"doc-1\",\"revision\":42}}\n```",
			kind:    PatternCompleted,
			success: true,
			ids:     map[string]string{"documentId": "doc-1", "revision": "42"},
		},
		{
			name:    "report only",
			reply:   `{"success":true,"ids":{"fileId":"f-9"},"error":""}`,
			kind:    PatternUnknown,
			success: true,
			ids:     map[string]string{"fileId": "f-9"},
		},
		{
			name:    "report contradicts prose",
			reply:   "All done. {\"success\":false,\"error\":\"quota\"}",
			kind:    PatternCompleted,
			success: false,
			errText: "quota",
		},
		{
			name:    "failed prose",
			reply:   "The request failed with 404 Not Found.",
			kind:    PatternFailed,
			success: false,
			errText: "failed: The request failed",
		},
		{
			name:    "report overrides failure read from prose",
			reply:   "Created the draft, although the preview step failed. {\"success\":true,\"ids\":{\"draftId\":\"d-1\"}}",
			kind:    PatternFailed,
			success: true,
			ids:     map[string]string{"draftId": "d-1"},
		},
		{
			name:    "data needed ignores report success",
			reply:   "Please provide the folder ID. {\"success\":true}",
			kind:    PatternDataNeeded,
			success: false,
		},
		{
			name:    "unknown without report",
			reply:   "Hmm.",
			kind:    PatternUnknown,
			success: false,
			errText: "unknown: Hmm.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, kind := InterpretReply(tt.reply)
			if kind != tt.kind {
				t.Errorf("kind = %s, want %s", kind, tt.kind)
			}
			if res.Success != tt.success {
				t.Errorf("Success = %v, want %v", res.Success, tt.success)
			}
			if fmt.Sprint(res.ExtractedData.IDs) != fmt.Sprint(tt.ids) {
				t.Errorf("IDs = %v, want %v", res.ExtractedData.IDs, tt.ids)
			}
			if tt.errText != "" && !strings.Contains(res.Error, tt.errText) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.errText)
			}
			if res.Success && res.Error != "" {
				t.Errorf("successful result carries error %q", res.Error)
			}
		})
	}
}

func TestBuildActionPrompt(t *testing.T) {
	reg := registry.New(0)
	reg.AddID("documentId", "doc-old")
	reg.AddID("documentId", "doc-new")
	reg.Refresh()

	prompt := BuildActionPrompt(updateDoc, reg)
	for _, want := range []string{
		"Platform: google-docs",
		"Request: PATCH /docs/{{documentId}}",
		"- documentId = doc-new",
		"batchUpdate",
		"Context:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	bare := BuildActionPrompt(updateDoc, registry.New(0))
	if !strings.Contains(bare, "documentId = (unknown)") || strings.Contains(bare, "Context:") {
		t.Errorf("prompt for empty registry:\n%s", bare)
	}
}

func TestAgentExecutor_Success(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{"Updated the document. {\"success\":true,\"refined_knowledge\":\"use revisionId\"}"}}
	e := NewAgentExecutor(sc)

	res, err := e.Execute(context.Background(), updateDoc, registry.New(0))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.RefinedKnowledge != "use revisionId" {
		t.Errorf("result = %+v", res)
	}
	if len(sc.prompts) != 1 {
		t.Errorf("calls = %d", len(sc.prompts))
	}
}

func TestAgentExecutor_RetriesRateLimit(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{
		"429 Too Many Requests",
		"Rate limit exceeded, try again later",
		"Updated successfully.",
	}}
	e := NewAgentExecutor(sc, WithRateLimitRetry(2, time.Millisecond))

	res, err := e.Execute(context.Background(), updateDoc, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || len(sc.prompts) != 3 {
		t.Errorf("result = %+v after %d calls", res, len(sc.prompts))
	}
}

func TestAgentExecutor_RateLimitExhausted(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{"429", "429"}}
	e := NewAgentExecutor(sc, WithRateLimitRetry(1, time.Millisecond))

	res, err := e.Execute(context.Background(), updateDoc, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "rate_limited") {
		t.Errorf("result = %+v", res)
	}
	if len(sc.prompts) != 2 {
		t.Errorf("calls = %d, want 2", len(sc.prompts))
	}
}

func TestAgentExecutor_CallErrorIsFailedResult(t *testing.T) {
	sc := &scriptedCompleter{errs: []error{fmt.Errorf("llm request failed: 500")}}
	res, err := NewAgentExecutor(sc).Execute(context.Background(), updateDoc, nil)
	if err != nil {
		t.Fatalf("Execute returned error %v, want failed result", err)
	}
	if res.Success || !strings.Contains(res.Error, "500") {
		t.Errorf("result = %+v", res)
	}
}

func TestAgentExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAgentExecutor(&scriptedCompleter{}).Execute(ctx, updateDoc, nil)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDryRun(t *testing.T) {
	d := &DryRun{}
	create := action.Action{ID: "create_doc", Title: "Create Document", ModelName: "documents", Path: "/docs"}

	res, err := d.Execute(context.Background(), create, nil)
	if err != nil || !res.Success {
		t.Fatalf("Execute = %+v, %v", res, err)
	}
	if v := res.ExtractedData.IDs["documentId"]; !strings.HasPrefix(v, "dry-") {
		t.Errorf("documentId = %q", v)
	}

	res, _ = d.Execute(context.Background(), updateDoc, nil)
	if !res.Success || res.ExtractedData.IDs != nil {
		t.Errorf("update result = %+v", res)
	}

	if got := d.Executed(); fmt.Sprint(got) != "[create_doc update_doc]" {
		t.Errorf("Executed = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&DryRun{Delay: time.Hour}).Execute(ctx, create, nil); err != context.Canceled {
		t.Errorf("cancelled dry run err = %v", err)
	}
}

// slowCompleter blocks until the call's context ends on its first calls.
type slowCompleter struct {
	mu    sync.Mutex
	slow  int
	calls int
}

func (s *slowCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n <= s.slow {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "Updated successfully.", nil
}

func TestAgentExecutor_RetriesTimedOutCall(t *testing.T) {
	sc := &slowCompleter{slow: 1}
	e := NewAgentExecutor(sc, WithActionTimeout(10*time.Millisecond), WithRateLimitRetry(1, time.Millisecond))

	res, err := e.Execute(context.Background(), updateDoc, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || sc.calls != 2 {
		t.Errorf("result = %+v after %d calls", res, sc.calls)
	}
}

func TestAgentExecutor_TimeoutRetriesExhausted(t *testing.T) {
	sc := &slowCompleter{slow: 5}
	e := NewAgentExecutor(sc, WithActionTimeout(5*time.Millisecond), WithRateLimitRetry(1, time.Millisecond))

	res, err := e.Execute(context.Background(), updateDoc, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "timeout error: agent call") || sc.calls != 2 {
		t.Errorf("result = %+v after %d calls", res, sc.calls)
	}
}
