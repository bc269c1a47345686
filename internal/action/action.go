// Package action defines the testable operations a campaign exercises and the
// data an executor reports back after running one.
//
// An [Action] is created once per run from the catalog and never mutated.
// Everything downstream (graph building, batching, registry updates) treats
// actions as values keyed by their ID.
package action

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Action is an immutable description of one remote API operation.
type Action struct {
	// ID uniquely identifies the action within the catalog.
	ID string `json:"id" yaml:"id"`

	// Platform is the integration the action belongs to (e.g. "google-docs").
	Platform string `json:"platform" yaml:"platform"`

	// ModelName is the resource model the action operates on (e.g. "documents").
	ModelName string `json:"model_name" yaml:"model_name"`

	// Title is the human-readable verb/action name (e.g. "Create Document").
	Title string `json:"title" yaml:"title"`

	// Method is the optional HTTP verb of the underlying request.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Path is the request path template. It may contain {{param}} or :param
	// placeholders.
	Path string `json:"path" yaml:"path"`

	// Knowledge is the free-text execution payload handed to the executor.
	Knowledge string `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
}

// Verb is the coarse operation class of an action.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbList   Verb = "list"
	VerbSearch Verb = "search"
	VerbGet    Verb = "get"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
	VerbOther  Verb = "other"
)

// String returns the string representation of the verb.
func (v Verb) String() string {
	return string(v)
}

// verbKeywords maps title words to verbs. Title words are looked up from
// left to right and the first one found here decides the verb.
var verbKeywords = map[string]Verb{
	"create":   VerbCreate,
	"add":      VerbCreate,
	"insert":   VerbCreate,
	"new":      VerbCreate,
	"upload":   VerbCreate,
	"post":     VerbCreate,
	"list":     VerbList,
	"search":   VerbSearch,
	"find":     VerbSearch,
	"query":    VerbSearch,
	"get":      VerbGet,
	"retrieve": VerbGet,
	"fetch":    VerbGet,
	"read":     VerbGet,
	"update":   VerbUpdate,
	"patch":    VerbUpdate,
	"modify":   VerbUpdate,
	"edit":     VerbUpdate,
	"replace":  VerbUpdate,
	"delete":   VerbDelete,
	"remove":   VerbDelete,
	"trash":    VerbDelete,
}

var wordSplitter = regexp.MustCompile(`[^a-zA-Z]+`)

// Verb classifies the action from its title, falling back to the HTTP method.
func (a Action) Verb() Verb {
	for _, word := range wordSplitter.Split(a.Title, -1) {
		if v, ok := verbKeywords[strings.ToLower(word)]; ok {
			return v
		}
	}

	switch strings.ToUpper(a.Method) {
	case "POST":
		return VerbCreate
	case "GET":
		if len(a.Placeholders()) == 0 {
			return VerbList
		}
		return VerbGet
	case "PUT", "PATCH":
		return VerbUpdate
	case "DELETE":
		return VerbDelete
	}
	return VerbOther
}

// Placeholders returns the path parameters of the action's path template.
func (a Action) Placeholders() []string {
	return Placeholders(a.Path)
}

var (
	mustachePlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	colonPlaceholder    = regexp.MustCompile(`(?:^|/):([A-Za-z_][A-Za-z0-9_]*)`)
)

// Placeholders parses {{param}} and :param placeholders from a path template.
// The result is de-duplicated and keeps first-seen order.
func Placeholders(path string) []string {
	if path == "" {
		return nil
	}

	type match struct {
		pos  int
		name string
	}
	var matches []match
	for _, m := range mustachePlaceholder.FindAllStringSubmatchIndex(path, -1) {
		matches = append(matches, match{pos: m[0], name: path[m[2]:m[3]]})
	}
	for _, m := range colonPlaceholder.FindAllStringSubmatchIndex(path, -1) {
		matches = append(matches, match{pos: m[2], name: path[m[2]:m[3]]})
	}

	// Restore textual order across both syntaxes
	for i := 1; i < len(matches); i++ {
		key := matches[i]
		j := i - 1
		for j >= 0 && matches[j].pos > key.pos {
			matches[j+1] = matches[j]
			j--
		}
		matches[j+1] = key
	}

	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if seen[m.name] {
			continue
		}
		seen[m.name] = true
		names = append(names, m.name)
	}
	return names
}

// ExtractedData is the structured data an executor pulled out of a
// successful action response.
type ExtractedData struct {
	// IDs maps a resource-type tag (e.g. "documentId") to an observed value.
	IDs map[string]string `json:"ids,omitempty"`

	// Names maps a key to a human-readable resource name.
	Names map[string]string `json:"names,omitempty"`

	// CreatedResources holds payloads of resources the action created.
	CreatedResources map[string]json.RawMessage `json:"created_resources,omitempty"`

	// ExtractedLists holds list payloads returned by list/search actions.
	ExtractedLists map[string]json.RawMessage `json:"extracted_lists,omitempty"`
}

// IsEmpty reports whether no data was extracted.
func (d ExtractedData) IsEmpty() bool {
	return len(d.IDs) == 0 && len(d.Names) == 0 &&
		len(d.CreatedResources) == 0 && len(d.ExtractedLists) == 0
}

// Result is what the executor reports for one action.
type Result struct {
	Success       bool          `json:"success"`
	ExtractedData ExtractedData `json:"extracted_data"`
	Error         string        `json:"error,omitempty"`

	// RefinedKnowledge is an optional corrected execution payload the
	// executor produced while working around failures.
	RefinedKnowledge string `json:"refined_knowledge,omitempty"`
}

// IndexByID returns a lookup from action ID to its catalog position.
func IndexByID(actions []Action) map[string]int {
	idx := make(map[string]int, len(actions))
	for i, a := range actions {
		if _, dup := idx[a.ID]; !dup {
			idx[a.ID] = i
		}
	}
	return idx
}
