// Package compress projects a resource registry and the batch's action
// outcomes into a bounded, storage-efficient CompactContext, and expands a
// CompactContext back into a (reduced) registry.
//
// The projection is lossy by design of its bounds: ids are regrouped by
// inferred resource type and trimmed to a per-type window, error strings are
// collapsed into a small taxonomy, and knowledge payloads are replaced by
// content hashes. Expansion guarantees that every resource type survives
// together with its most recently used value.
package compress

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

const (
	// DefaultValuesPerType bounds how many values of one resource type are kept.
	DefaultValuesPerType = 5

	// MaxMilestones bounds the milestone list of a ContextSummary.
	MaxMilestones = 3
)

// ErrorKind is the collapsed classification of an action error.
type ErrorKind string

const (
	ErrorNone       ErrorKind = ""
	ErrorPermission ErrorKind = "permission"
	ErrorValidation ErrorKind = "validation"
	ErrorNetwork    ErrorKind = "network"
	ErrorUnknown    ErrorKind = "unknown"
)

// Outcome is the per-action result row of a batch.
type Outcome struct {
	ActionID         string               `json:"action_id"`
	ActionTitle      string               `json:"action_title"`
	ModelName        string               `json:"model_name"`
	Index            int                  `json:"index"`
	Success          bool                 `json:"success"`
	Error            string               `json:"error,omitempty"`
	ExtractedData    action.ExtractedData `json:"extracted_data"`
	RefinedKnowledge string               `json:"refined_knowledge,omitempty"`
	Timestamp        time.Time            `json:"timestamp"`
}

// NewOutcome builds an Outcome from an action and the executor's result.
func NewOutcome(a action.Action, index int, res action.Result, at time.Time) Outcome {
	return Outcome{
		ActionID:         a.ID,
		ActionTitle:      a.Title,
		ModelName:        a.ModelName,
		Index:            index,
		Success:          res.Success,
		Error:            res.Error,
		ExtractedData:    res.ExtractedData,
		RefinedKnowledge: res.RefinedKnowledge,
		Timestamp:        at,
	}
}

// ContextSummary is the headline view of a batch.
type ContextSummary struct {
	Platform          string         `json:"platform"`
	BatchNumber       int            `json:"batch_number"`
	TotalActions      int            `json:"total_actions"`
	SuccessfulActions int            `json:"successful_actions"`
	ResourceCounts    map[string]int `json:"resource_counts"`
	Milestones        []string       `json:"milestones,omitempty"`
	WorkflowStatus    string         `json:"workflow_status"`
}

// CompactID is one retained id value with its provenance.
type CompactID struct {
	Value      string    `json:"value"`
	Type       string    `json:"type"`
	CreatedBy  string    `json:"created_by,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	UsageCount int       `json:"usage_count"`
}

// CompactResources is the reduced form of a registry's ids and names.
type CompactResources struct {
	// ByType maps an inferred resource type to its retained values, oldest first.
	ByType map[string][]CompactID `json:"by_type"`
	Names  map[string]string      `json:"names,omitempty"`
}

// ActionDigest is a recent action with its error collapsed to an ErrorKind.
type ActionDigest struct {
	ActionID  string    `json:"action_id,omitempty"`
	Title     string    `json:"title"`
	ModelName string    `json:"model_name"`
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CompactContext is the storage-efficient projection of a batch's context.
type CompactContext struct {
	Summary        ContextSummary    `json:"summary"`
	Resources      CompactResources  `json:"resources"`
	ActionHistory  []ActionDigest    `json:"action_history"`
	KnowledgeIndex map[string]string `json:"knowledge_index,omitempty"`
	Capacity       int               `json:"capacity"`
}

// Compressor holds the bounds of the projection.
type Compressor struct {
	valuesPerType int
	now           func() time.Time
}

// New creates a Compressor. A non-positive valuesPerType selects
// DefaultValuesPerType.
func New(valuesPerType int) *Compressor {
	if valuesPerType <= 0 {
		valuesPerType = DefaultValuesPerType
	}
	return &Compressor{valuesPerType: valuesPerType, now: time.Now}
}

// Compress projects reg and the batch outcomes into a CompactContext.
func (c *Compressor) Compress(reg *registry.Registry, results []Outcome, platform string, batchNumber int) *CompactContext {
	if reg == nil {
		reg = registry.New(0)
	}
	return &CompactContext{
		Summary:        c.summarize(reg, results, platform, batchNumber),
		Resources:      c.compactResources(reg, results),
		ActionHistory:  digestActions(reg.RecentActions),
		KnowledgeIndex: knowledgeIndex(results),
		Capacity:       reg.Capacity,
	}
}

// Compress is a convenience wrapper using default bounds.
func Compress(reg *registry.Registry, results []Outcome, platform string, batchNumber int) *CompactContext {
	return New(0).Compress(reg, results, platform, batchNumber)
}

func (c *Compressor) summarize(reg *registry.Registry, results []Outcome, platform string, batchNumber int) ContextSummary {
	s := ContextSummary{
		Platform:       platform,
		BatchNumber:    batchNumber,
		TotalActions:   len(results),
		ResourceCounts: make(map[string]int),
	}
	for tag, values := range reg.IDs {
		s.ResourceCounts[InferType(tag)] += len(values)
	}

	var lastOK, lastFailed string
	for _, r := range results {
		if r.Success {
			s.SuccessfulActions++
			lastOK = r.ActionTitle
			if isMilestone(r.ActionTitle) {
				s.Milestones = append(s.Milestones, milestoneText(r))
			}
		} else {
			lastFailed = r.ActionTitle
		}
	}
	if over := len(s.Milestones) - MaxMilestones; over > 0 {
		s.Milestones = s.Milestones[over:]
	}
	s.WorkflowStatus = fmt.Sprintf("last success: %s; last failure: %s", orNone(lastOK), orNone(lastFailed))
	return s
}

var milestoneVerbs = []string{"create", "deploy", "publish", "upload", "generate", "provision", "insert"}

func isMilestone(title string) bool {
	t := strings.ToLower(title)
	for _, v := range milestoneVerbs {
		if strings.Contains(t, v) {
			return true
		}
	}
	return false
}

func milestoneText(r Outcome) string {
	text := r.ActionTitle
	if r.ModelName != "" {
		text = fmt.Sprintf("%s (%s)", text, r.ModelName)
	}
	return util.TruncateString(text, 80)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// compactResources regroups ids by inferred type, annotating each value with
// the action that first produced it and how often outcomes reported it.
func (c *Compressor) compactResources(reg *registry.Registry, results []Outcome) CompactResources {
	type provenance struct {
		createdBy string
		at        time.Time
		uses      int
	}
	seen := make(map[string]*provenance)
	for _, r := range results {
		if !r.Success {
			continue
		}
		for _, v := range r.ExtractedData.IDs {
			p, ok := seen[v]
			if !ok {
				p = &provenance{createdBy: r.ActionID, at: r.Timestamp}
				seen[v] = p
			}
			p.uses++
		}
	}

	now := c.now().UTC()
	out := CompactResources{ByType: make(map[string][]CompactID)}
	// The latest value of every tag survives trimming, even when several
	// tags collapse into one type.
	pinned := make(map[string]map[string]bool)
	for _, tag := range reg.Tags() {
		typ := InferType(tag)
		if latest, ok := reg.Latest(tag); ok {
			if pinned[typ] == nil {
				pinned[typ] = make(map[string]bool)
			}
			pinned[typ][latest] = true
		}
		for _, v := range reg.IDs[tag] {
			id := CompactID{Value: v, Type: typ, Timestamp: now}
			if p, ok := seen[v]; ok {
				id.CreatedBy = p.createdBy
				id.UsageCount = p.uses
				if !p.at.IsZero() {
					id.Timestamp = p.at
				}
			}
			out.ByType[typ] = appendUnique(out.ByType[typ], id)
		}
	}
	for typ, ids := range out.ByType {
		out.ByType[typ] = trimWindow(ids, c.valuesPerType, pinned[typ])
	}
	if len(reg.Names) > 0 {
		out.Names = make(map[string]string, len(reg.Names))
		for k, v := range reg.Names {
			out.Names[k] = v
		}
	}
	return out
}

// appendUnique appends id, moving an existing entry with the same value to
// the end so the most recently listed value stays last.
func appendUnique(ids []CompactID, id CompactID) []CompactID {
	for i, existing := range ids {
		if existing.Value == id.Value {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return append(ids, id)
}

// trimWindow keeps the newest window entries plus any pinned values, in their
// original order.
func trimWindow(ids []CompactID, window int, pinned map[string]bool) []CompactID {
	if len(ids) <= window {
		return ids
	}
	keep := make([]bool, len(ids))
	kept := 0
	for i := len(ids) - 1; i >= 0; i-- {
		if kept < window || pinned[ids[i].Value] {
			keep[i] = true
			kept++
		}
	}
	out := make([]CompactID, 0, kept)
	for i, id := range ids {
		if keep[i] {
			out = append(out, id)
		}
	}
	return out
}

func digestActions(recent []registry.ActionDigest) []ActionDigest {
	out := make([]ActionDigest, 0, len(recent))
	for _, d := range recent {
		out = append(out, ActionDigest{
			ActionID:  d.ActionID,
			Title:     d.ActionTitle,
			ModelName: d.ModelName,
			Success:   d.Success,
			ErrorKind: ClassifyError(d.Error),
			Timestamp: d.Timestamp,
		})
	}
	return out
}

func knowledgeIndex(results []Outcome) map[string]string {
	idx := make(map[string]string)
	for _, r := range results {
		if r.RefinedKnowledge == "" {
			continue
		}
		idx[r.ActionID] = KnowledgeRef(r.RefinedKnowledge)
	}
	if len(idx) == 0 {
		return nil
	}
	return idx
}

// KnowledgeRef returns an opaque content reference for a knowledge payload.
func KnowledgeRef(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return "sha256:" + hex.EncodeToString(sum[:])[:12]
}

var errorTaxonomy = []struct {
	kind     ErrorKind
	patterns []string
}{
	{ErrorPermission, []string{"permission", "forbidden", "unauthorized", "unauthorised", "access denied", "insufficient scope", "401", "403"}},
	{ErrorValidation, []string{"invalid", "validation", "required", "missing", "malformed", "bad request", "400", "422", "unprocessable"}},
	{ErrorNetwork, []string{"timeout", "timed out", "network", "connection", "econnrefused", "econnreset", "dns", "unavailable", "502", "503", "504"}},
}

// ClassifyError collapses an error string into the ErrorKind taxonomy by
// substring match. An empty string yields ErrorNone.
func ClassifyError(msg string) ErrorKind {
	if strings.TrimSpace(msg) == "" {
		return ErrorNone
	}
	lower := strings.ToLower(msg)
	for _, entry := range errorTaxonomy {
		for _, p := range entry.patterns {
			if strings.Contains(lower, p) {
				return entry.kind
			}
		}
	}
	return ErrorUnknown
}

// InferType derives a resource type from an id tag: "documentId" and
// "document_id" both become "document".
func InferType(tag string) string {
	return registry.NormalizeTag(tag)
}

// TagForType is the tag an expanded registry uses for a resource type.
func TagForType(typ string) string {
	return typ + "Id"
}

// Expand reconstructs a registry from a CompactContext.
//
// Ids come back grouped by inferred type under TagForType(type), names are
// copied unchanged, recent actions carry their error kind as the error text,
// and the summary is synthesized from the structured fields. Raw payloads are
// not part of the compact form and do not come back.
func Expand(cc *CompactContext) *registry.Registry {
	reg := registry.New(0)
	if cc == nil {
		return reg
	}
	if cc.Capacity > 0 {
		reg.Capacity = cc.Capacity
	}

	types := make([]string, 0, len(cc.Resources.ByType))
	for typ := range cc.Resources.ByType {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		for _, id := range cc.Resources.ByType[typ] {
			reg.AddID(TagForType(typ), id.Value)
		}
	}
	for k, v := range cc.Resources.Names {
		reg.Names[k] = v
	}
	for _, d := range cc.ActionHistory {
		reg.RecentActions = append(reg.RecentActions, registry.ActionDigest{
			ActionID:    d.ActionID,
			ActionTitle: d.Title,
			ModelName:   d.ModelName,
			Success:     d.Success,
			Error:       string(d.ErrorKind),
			Timestamp:   d.Timestamp,
		})
	}
	if over := len(reg.RecentActions) - reg.Capacity; over > 0 {
		reg.RecentActions = reg.RecentActions[over:]
	}
	reg.Summary = describe(cc)
	return reg
}

// describe renders a textual summary from a CompactContext.
func describe(cc *CompactContext) string {
	s := cc.Summary
	var sb strings.Builder
	fmt.Fprintf(&sb, "Platform %s, batch %d: %d/%d actions succeeded.", s.Platform, s.BatchNumber, s.SuccessfulActions, s.TotalActions)

	if len(cc.Resources.ByType) > 0 {
		types := make([]string, 0, len(cc.Resources.ByType))
		for typ := range cc.Resources.ByType {
			types = append(types, typ)
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, typ := range types {
			ids := cc.Resources.ByType[typ]
			if len(ids) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s (latest: %s)", typ, ids[len(ids)-1].Value))
		}
		fmt.Fprintf(&sb, "\nResources: %s", strings.Join(parts, ", "))
	}
	if len(s.Milestones) > 0 {
		fmt.Fprintf(&sb, "\nMilestones: %s", strings.Join(s.Milestones, "; "))
	}
	if s.WorkflowStatus != "" {
		fmt.Fprintf(&sb, "\nStatus: %s", s.WorkflowStatus)
	}
	return sb.String()
}
