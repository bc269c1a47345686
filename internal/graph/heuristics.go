package graph

import (
	"strings"
	"unicode"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
)

// Verb priorities. Lower runs earlier within an execution group.
const (
	PriorityRootCreate = 1
	PriorityCreate     = 2
	PriorityList       = 3
	PriorityGet        = 4
	PriorityUpdate     = 5
	PriorityDelete     = 6
	PriorityOther      = 7
)

// conventionalTags maps a singular model keyword to the id tag APIs use for it.
var conventionalTags = map[string]string{
	"document":    "documentId",
	"doc":         "documentId",
	"spreadsheet": "spreadsheetId",
	"sheet":       "sheetId",
	"file":        "fileId",
	"folder":      "folderId",
	"drive":       "driveId",
	"calendar":    "calendarId",
	"event":       "eventId",
	"message":     "messageId",
	"thread":      "threadId",
	"draft":       "draftId",
	"label":       "labelId",
	"channel":     "channelId",
	"contact":     "contactId",
	"user":        "userId",
	"team":        "teamId",
	"project":     "projectId",
	"task":        "taskId",
	"issue":       "issueId",
	"comment":     "commentId",
	"page":        "pageId",
	"database":    "databaseId",
	"customer":    "customerId",
	"invoice":     "invoiceId",
	"order":       "orderId",
	"product":     "productId",
	"webhook":     "webhookId",
}

// Priority returns the heuristic priority of an action from its verb.
func Priority(a action.Action) int {
	switch a.Verb() {
	case action.VerbCreate:
		if len(a.Placeholders()) == 0 {
			return PriorityRootCreate
		}
		return PriorityCreate
	case action.VerbList, action.VerbSearch:
		return PriorityList
	case action.VerbGet:
		return PriorityGet
	case action.VerbUpdate:
		return PriorityUpdate
	case action.VerbDelete:
		return PriorityDelete
	default:
		return PriorityOther
	}
}

// ProvidedIDs returns the id tags a create action is expected to produce.
// Other verbs provide nothing.
func ProvidedIDs(a action.Action) []string {
	if a.Verb() != action.VerbCreate {
		return nil
	}
	if tag := ModelTag(modelSource(a)); tag != "" {
		return []string{tag}
	}
	return nil
}

// modelSource is the model name, or the title's words when the catalog left
// the model empty ("Create Sales Order" yields "Sales Order").
func modelSource(a action.Action) string {
	if strings.TrimSpace(a.ModelName) != "" {
		return a.ModelName
	}
	words := splitWords(a.Title)
	if len(words) > 1 {
		return strings.Join(words[1:], " ")
	}
	return ""
}

// ModelTag derives the id tag for a model name: a conventional tag when the
// head noun is a known keyword, else "{model}Id" in singular lowerCamel form.
//
//	"documents"       -> "documentId"
//	"calendar_events" -> "eventId"
//	"SalesOrders"     -> "orderId"
//	"widgets"         -> "widgetId"
func ModelTag(model string) string {
	words := splitWords(model)
	if len(words) == 0 {
		return ""
	}
	for i := range words {
		words[i] = singular(words[i])
	}
	if tag, ok := conventionalTags[words[len(words)-1]]; ok {
		return tag
	}

	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(w)
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(w[1:])
	}
	b.WriteString("Id")
	return b.String()
}

// splitWords splits on non-letters and lower-to-upper case changes, returning
// lower-cased words.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII || !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return words
}

func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return strings.TrimSuffix(w, "ies") + "y"
	case strings.HasSuffix(w, "sses"),
		strings.HasSuffix(w, "ches"),
		strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "xes"):
		return strings.TrimSuffix(w, "es")
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// heuristicNode synthesizes a node for an action the oracle did not cover.
func heuristicNode(a action.Action) DependencyNode {
	verb := a.Verb()
	return DependencyNode{
		ActionID:    a.ID,
		ProvidesIDs: ProvidedIDs(a),
		RequiresIDs: a.Placeholders(),
		Priority:    Priority(a),
		Retryable:   verb == action.VerbGet || verb == action.VerbList || verb == action.VerbSearch,
	}
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
