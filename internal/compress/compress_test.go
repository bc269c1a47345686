package compress

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"", ErrorNone},
		{"   ", ErrorNone},
		{"HTTP 403: Forbidden", ErrorPermission},
		{"The caller does not have permission", ErrorPermission},
		{"Invalid value at 'requests[0]'", ErrorValidation},
		{"field title is required", ErrorValidation},
		{"dial tcp: connection refused", ErrorNetwork},
		{"context deadline exceeded (Client.Timeout exceeded)", ErrorNetwork},
		{"503 Service Unavailable", ErrorNetwork},
		{"something odd happened", ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ClassifyError(tt.msg); got != tt.want {
				t.Errorf("ClassifyError(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestInferType(t *testing.T) {
	for tag, want := range map[string]string{
		"documentId":    "document",
		"spreadsheetId": "spreadsheet",
		"file_id":       "file",
		"labelIds":      "label",
	} {
		if got := InferType(tag); got != want {
			t.Errorf("InferType(%q) = %q, want %q", tag, got, want)
		}
	}
}

func buildBatch() (*registry.Registry, []Outcome) {
	reg := registry.New(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	steps := []struct {
		a   action.Action
		res action.Result
	}{
		{
			action.Action{ID: "create_doc", Title: "Create Document", ModelName: "documents"},
			action.Result{Success: true, ExtractedData: action.ExtractedData{
				IDs:   map[string]string{"documentId": "doc-1"},
				Names: map[string]string{"documentName": "Plan"},
			}, RefinedKnowledge: "use the v1 endpoint"},
		},
		{
			action.Action{ID: "get_doc", Title: "Get Document", ModelName: "documents", Path: "/docs/{{documentId}}"},
			action.Result{Success: true, ExtractedData: action.ExtractedData{IDs: map[string]string{"documentId": "doc-1", "revisionId": "rev-1"}}},
		},
		{
			action.Action{ID: "upload_file", Title: "Upload File", ModelName: "files"},
			action.Result{Success: true, ExtractedData: action.ExtractedData{IDs: map[string]string{"fileId": "file-1"}}},
		},
		{
			action.Action{ID: "delete_doc", Title: "Delete Document", ModelName: "documents"},
			action.Result{Success: false, Error: "403 forbidden"},
		},
	}
	var results []Outcome
	for i, s := range steps {
		reg.Update(s.a, s.res)
		results = append(results, NewOutcome(s.a, i, s.res, base.Add(time.Duration(i)*time.Minute)))
	}
	return reg, results
}

func TestCompress_Summary(t *testing.T) {
	reg, results := buildBatch()
	cc := Compress(reg, results, "google-docs", 3)

	s := cc.Summary
	if s.Platform != "google-docs" || s.BatchNumber != 3 {
		t.Errorf("summary header = %s/%d", s.Platform, s.BatchNumber)
	}
	if s.TotalActions != 4 || s.SuccessfulActions != 3 {
		t.Errorf("counts = %d/%d, want 3/4", s.SuccessfulActions, s.TotalActions)
	}
	if s.ResourceCounts["document"] != 1 || s.ResourceCounts["revision"] != 1 || s.ResourceCounts["file"] != 1 {
		t.Errorf("ResourceCounts = %v", s.ResourceCounts)
	}
	wantMilestones := []string{"Create Document (documents)", "Upload File (files)"}
	if !slices.Equal(s.Milestones, wantMilestones) {
		t.Errorf("Milestones = %v, want %v", s.Milestones, wantMilestones)
	}
	if s.WorkflowStatus != "last success: Upload File; last failure: Delete Document" {
		t.Errorf("WorkflowStatus = %q", s.WorkflowStatus)
	}
}

func TestCompress_Provenance(t *testing.T) {
	reg, results := buildBatch()
	cc := Compress(reg, results, "p", 1)

	docs := cc.Resources.ByType["document"]
	if len(docs) != 1 {
		t.Fatalf("document ids = %+v", docs)
	}
	if docs[0].CreatedBy != "create_doc" {
		t.Errorf("CreatedBy = %q, want create_doc", docs[0].CreatedBy)
	}
	if docs[0].UsageCount != 2 {
		t.Errorf("UsageCount = %d, want 2", docs[0].UsageCount)
	}
	if docs[0].Type != "document" {
		t.Errorf("Type = %q", docs[0].Type)
	}
	if cc.Resources.Names["documentName"] != "Plan" {
		t.Errorf("Names = %v", cc.Resources.Names)
	}
}

func TestCompress_ActionHistoryAndKnowledge(t *testing.T) {
	reg, results := buildBatch()
	cc := Compress(reg, results, "p", 1)

	if len(cc.ActionHistory) != 4 {
		t.Fatalf("ActionHistory len = %d", len(cc.ActionHistory))
	}
	last := cc.ActionHistory[3]
	if last.Success || last.ErrorKind != ErrorPermission {
		t.Errorf("last digest = %+v, want permission failure", last)
	}
	if len(cc.KnowledgeIndex) != 1 {
		t.Fatalf("KnowledgeIndex = %v", cc.KnowledgeIndex)
	}
	ref := cc.KnowledgeIndex["create_doc"]
	if !strings.HasPrefix(ref, "sha256:") || strings.Contains(ref, "v1 endpoint") {
		t.Errorf("knowledge ref = %q, want opaque hash", ref)
	}
	if ref != KnowledgeRef("use the v1 endpoint") {
		t.Error("KnowledgeRef not stable")
	}
}

func TestCompress_TrimsPerTypeWindow(t *testing.T) {
	reg := registry.New(0)
	for i := 0; i < 12; i++ {
		reg.AddID("documentId", fmt.Sprintf("d%02d", i))
	}
	cc := New(5).Compress(reg, nil, "p", 1)

	docs := cc.Resources.ByType["document"]
	if len(docs) != 5 {
		t.Fatalf("kept %d values, want 5", len(docs))
	}
	if docs[0].Value != "d07" || docs[4].Value != "d11" {
		t.Errorf("window = %s..%s, want d07..d11", docs[0].Value, docs[4].Value)
	}
}

func TestCompress_PinsLatestOfCollapsedTags(t *testing.T) {
	reg := registry.New(0)
	reg.AddID("document_id", "legacy")
	for i := 0; i < 6; i++ {
		reg.AddID("documentId", fmt.Sprintf("d%d", i))
	}
	cc := New(3).Compress(reg, nil, "p", 1)

	var values []string
	for _, id := range cc.Resources.ByType["document"] {
		values = append(values, id.Value)
	}
	if !slices.Contains(values, "legacy") || !slices.Contains(values, "d5") {
		t.Errorf("values = %v, want both tag heads kept", values)
	}
}

func TestExpand(t *testing.T) {
	reg, results := buildBatch()
	cc := Compress(reg, results, "google-docs", 2)
	out := Expand(cc)

	if got := out.Values("documentId"); !slices.Equal(got, []string{"doc-1"}) {
		t.Errorf("documentId = %v", got)
	}
	if got := out.Values("revisionId"); !slices.Equal(got, []string{"rev-1"}) {
		t.Errorf("revisionId = %v", got)
	}
	if out.Names["documentName"] != "Plan" {
		t.Errorf("Names = %v", out.Names)
	}
	if len(out.RecentActions) != 4 || out.RecentActions[3].Error != "permission" {
		t.Errorf("RecentActions = %+v", out.RecentActions)
	}
	for _, want := range []string{"Platform google-docs, batch 2: 3/4", "document (latest: doc-1)", "Milestones:", "Status: last success"} {
		if !strings.Contains(out.Summary, want) {
			t.Errorf("summary %q missing %q", out.Summary, want)
		}
	}
}

func TestExpandNil(t *testing.T) {
	if reg := Expand(nil); reg == nil || !reg.IsEmpty() {
		t.Error("Expand(nil) should return an empty registry")
	}
}

// Every type present before compression survives expansion together with the
// most recently added value of each tag.
func TestExpandCompress_PreservesTypesAndLatest(t *testing.T) {
	reg := registry.New(0)
	tags := []string{"documentId", "file_id", "labelIds", "spreadsheetId", "id"}
	for i, tag := range tags {
		for j := 0; j <= i*3; j++ {
			reg.AddID(tag, fmt.Sprintf("%s-%d", tag, j))
		}
	}

	out := Expand(Compress(reg, nil, "p", 1))

	for _, tag := range tags {
		typ := InferType(tag)
		latest, _ := reg.Latest(tag)
		got := out.Values(TagForType(typ))
		if len(got) == 0 {
			t.Errorf("type %q (from %q) lost", typ, tag)
			continue
		}
		if !slices.Contains(got, latest) {
			t.Errorf("type %q lost latest value %q: %v", typ, latest, got)
		}
		if InferType(TagForType(typ)) != typ {
			t.Errorf("TagForType(%q) does not map back", typ)
		}
	}
}
