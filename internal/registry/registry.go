// Package registry accumulates the resource facts (ids, names, payloads)
// observed while a campaign executes actions.
//
// A Registry is created empty at the start of a platform run and is only
// mutated through [Registry.Update] and [Merge]. It survives across runs only
// through the persistence layer. The Summary field is always re-derived from
// the other fields; nothing writes it directly except Merge's provenance note
// and context expansion.
package registry

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
)

// DefaultCapacity is the default size of the recent-action ring.
const DefaultCapacity = 10

// ActionDigest is a compact record of one executed action.
type ActionDigest struct {
	ActionID    string    `json:"action_id,omitempty"`
	ActionTitle string    `json:"action_title"`
	ModelName   string    `json:"model_name"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Registry holds everything successful actions have revealed about the
// platform's resources.
type Registry struct {
	// IDs maps a resource-type tag to an ordered, duplicate-free list of values.
	IDs map[string][]string `json:"ids"`

	// Names maps a key to a human-readable name. Last write wins.
	Names map[string]string `json:"names"`

	// Resources maps a key to a raw payload. Last write wins.
	Resources map[string]json.RawMessage `json:"resources"`

	// RecentActions is a bounded ring of the most recent digests, oldest first.
	RecentActions []ActionDigest `json:"recent_actions"`

	// Summary is a textual digest derived from the fields above.
	Summary string `json:"summary"`

	// Capacity bounds RecentActions.
	Capacity int `json:"capacity"`
}

// New creates an empty Registry. A non-positive capacity selects
// DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		IDs:           make(map[string][]string),
		Names:         make(map[string]string),
		Resources:     make(map[string]json.RawMessage),
		RecentActions: make([]ActionDigest, 0, capacity),
		Capacity:      capacity,
	}
	r.Refresh()
	return r
}

// ensure initializes nil maps, which appear after decoding sparse JSON.
func (r *Registry) ensure() {
	if r.IDs == nil {
		r.IDs = make(map[string][]string)
	}
	if r.Names == nil {
		r.Names = make(map[string]string)
	}
	if r.Resources == nil {
		r.Resources = make(map[string]json.RawMessage)
	}
	if r.Capacity <= 0 {
		r.Capacity = DefaultCapacity
	}
}

// Update records the outcome of one action.
//
// The digest is always appended to the recent-action ring. Ids, names and
// payloads are only merged when the result succeeded, followed by a
// path-parameter back-fill for the action's placeholders. The summary is
// regenerated last.
func (r *Registry) Update(a action.Action, result action.Result) {
	r.ensure()

	r.pushDigest(ActionDigest{
		ActionID:    a.ID,
		ActionTitle: a.Title,
		ModelName:   a.ModelName,
		Success:     result.Success,
		Error:       result.Error,
		Timestamp:   time.Now().UTC(),
	})

	if result.Success {
		data := result.ExtractedData
		for _, tag := range sortedKeys(data.IDs) {
			r.AddID(tag, data.IDs[tag])
		}
		for key, name := range data.Names {
			r.Names[key] = name
		}
		for key, payload := range data.CreatedResources {
			r.Resources[key] = cloneRaw(payload)
		}
		for key, payload := range data.ExtractedLists {
			r.Resources[key] = cloneRaw(payload)
		}
		r.backfill(a, data)
	}

	r.Refresh()
}

// AddID appends value to the tag's list unless it is already present.
// Returns true if the value was added.
func (r *Registry) AddID(tag, value string) bool {
	if tag == "" || value == "" {
		return false
	}
	r.ensure()
	if slices.Contains(r.IDs[tag], value) {
		return false
	}
	r.IDs[tag] = append(r.IDs[tag], value)
	return true
}

func (r *Registry) pushDigest(d ActionDigest) {
	r.RecentActions = append(r.RecentActions, d)
	if over := len(r.RecentActions) - r.Capacity; over > 0 {
		r.RecentActions = append([]ActionDigest(nil), r.RecentActions[over:]...)
	}
}

// backfill satisfies the action's path placeholders from values stored under
// a tag with the same stem, e.g. placeholder "folderId" from key "folder".
// Extracted data from this action is preferred over older registry entries.
func (r *Registry) backfill(a action.Action, data action.ExtractedData) {
	for _, param := range a.Placeholders() {
		if len(r.IDs[param]) > 0 {
			continue
		}
		stem := NormalizeTag(param)

		filled := false
		for _, key := range sortedKeys(data.IDs) {
			if key != param && NormalizeTag(key) == stem {
				filled = r.AddID(param, data.IDs[key]) || filled
			}
		}
		if filled {
			continue
		}
		for _, tag := range r.Tags() {
			if tag == param || NormalizeTag(tag) != stem {
				continue
			}
			for _, v := range r.IDs[tag] {
				r.AddID(param, v)
			}
		}
	}
}

// NormalizeTag reduces a tag to its resource stem: lower-cased, separators
// removed and a trailing "id"/"ids" stripped ("folder_id", "FolderID" and
// "folderId" all become "folder").
func NormalizeTag(tag string) string {
	s := strings.ToLower(tag)
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	for _, suffix := range []string{"ids", "id"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

// Refresh regenerates Summary from the current state.
func (r *Registry) Refresh() {
	r.Summary = r.render()
}

// render is a pure function of the registry's fields.
func (r *Registry) render() string {
	if r.IsEmpty() {
		return "No resources recorded yet."
	}

	var sb strings.Builder
	if tags := r.Tags(); len(tags) > 0 {
		parts := make([]string, 0, len(tags))
		for _, tag := range tags {
			values := r.IDs[tag]
			parts = append(parts, fmt.Sprintf("%s=%d (latest: %s)", tag, len(values), values[len(values)-1]))
		}
		sb.WriteString("Resources: ")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	if len(r.Names) > 0 {
		keys := sortedKeys(r.Names)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%q", k, r.Names[k]))
		}
		sb.WriteString("Names: ")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	if len(r.Resources) > 0 {
		sb.WriteString("Payloads: ")
		sb.WriteString(strings.Join(sortedKeys(r.Resources), ", "))
		sb.WriteString("\n")
	}
	if n := len(r.RecentActions); n > 0 {
		ok := 0
		for _, d := range r.RecentActions {
			if d.Success {
				ok++
			}
		}
		last := r.RecentActions[n-1]
		status := "ok"
		if !last.Success {
			status = "failed"
		}
		fmt.Fprintf(&sb, "Recent actions: %d/%d succeeded; last: %s (%s)\n", ok, n, last.ActionTitle, status)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// IsEmpty reports whether the registry holds no facts and no history.
func (r *Registry) IsEmpty() bool {
	return len(r.IDs) == 0 && len(r.Names) == 0 && len(r.Resources) == 0 && len(r.RecentActions) == 0
}

// Tags returns the resource-type tags in sorted order.
func (r *Registry) Tags() []string {
	return sortedKeys(r.IDs)
}

// Values returns a copy of the values recorded for tag.
func (r *Registry) Values(tag string) []string {
	return slices.Clone(r.IDs[tag])
}

// Latest returns the most recently added value for tag.
func (r *Registry) Latest(tag string) (string, bool) {
	values := r.IDs[tag]
	if len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}

// Size returns the serialized size of the registry in bytes.
func (r *Registry) Size() int {
	data, err := json.Marshal(r)
	if err != nil {
		return 0
	}
	return len(data)
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	c := &Registry{
		IDs:           make(map[string][]string, len(r.IDs)),
		Names:         make(map[string]string, len(r.Names)),
		Resources:     make(map[string]json.RawMessage, len(r.Resources)),
		RecentActions: slices.Clone(r.RecentActions),
		Summary:       r.Summary,
		Capacity:      r.Capacity,
	}
	for k, v := range r.IDs {
		c.IDs[k] = slices.Clone(v)
	}
	for k, v := range r.Names {
		c.Names[k] = v
	}
	for k, v := range r.Resources {
		c.Resources[k] = cloneRaw(v)
	}
	c.ensure()
	return c
}

// Merge combines two registries into a new one; neither input is modified.
//
// Id lists are unioned without duplicates, keeping a's first-seen order then
// b's. Names and payloads take b's value on collision. The recent-action ring
// is the concatenation truncated to the most recent entries. The summary is
// b's with a provenance note when b has one, otherwise regenerated.
func Merge(a, b *Registry) *Registry {
	switch {
	case a == nil && b == nil:
		return New(DefaultCapacity)
	case a == nil:
		return b.Clone()
	case b == nil:
		return a.Clone()
	}

	c := a.Clone()
	if b.Capacity > c.Capacity {
		c.Capacity = b.Capacity
	}
	for _, tag := range b.Tags() {
		for _, v := range b.IDs[tag] {
			c.AddID(tag, v)
		}
	}
	for k, v := range b.Names {
		c.Names[k] = v
	}
	for k, v := range b.Resources {
		c.Resources[k] = cloneRaw(v)
	}

	c.RecentActions = append(c.RecentActions, b.RecentActions...)
	if over := len(c.RecentActions) - c.Capacity; over > 0 {
		c.RecentActions = append([]ActionDigest(nil), c.RecentActions[over:]...)
	}

	if b.Summary != "" && !b.IsEmpty() {
		c.Summary = fmt.Sprintf("%s\n(merged with prior context: %d resource types)", b.Summary, len(a.IDs))
	} else {
		c.Refresh()
	}
	return c
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return append(json.RawMessage(nil), m...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
