package catalog

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ameyarj/pica-testing-sub000/internal/errors"
)

const yamlCatalog = `platform: google-docs
actions:
  - id: create_doc
    title: Create Document
    model_name: documents
    method: POST
    path: /v1/documents
    knowledge: |
      POST an empty body with a title.
  - id: get_doc
    title: Get Document
    model_name: documents
    path: /v1/documents/{{documentId}}
  - id: send_message
    platform: slack
    title: Send Message
    model_name: messages
    path: /chat.postMessage
`

const jsonCatalog = `[
  {"id": "list_files", "platform": "google-drive", "title": "List Files", "model_name": "files", "path": "/files"},
  {"id": "create_file", "platform": "Google Drive", "title": "Create File", "model_name": "files", "path": "/files"}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func ids(t *testing.T, path, platform string) []string {
	t.Helper()
	actions, err := LoadFile(path, platform)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	var out []string
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "catalog.yaml", yamlCatalog)

	if got := ids(t, path, "google-docs"); !slices.Equal(got, []string{"create_doc", "get_doc"}) {
		t.Errorf("google-docs = %v", got)
	}
	if got := ids(t, path, "Slack"); !slices.Equal(got, []string{"send_message"}) {
		t.Errorf("slack = %v", got)
	}
	if got := ids(t, path, ""); len(got) != 3 {
		t.Errorf("all = %v", got)
	}
	if got := ids(t, path, "jira"); len(got) != 0 {
		t.Errorf("jira = %v", got)
	}

	actions, _ := LoadFile(path, "google-docs")
	if actions[0].Knowledge != "POST an empty body with a title.\n" || actions[1].Path != "/v1/documents/{{documentId}}" {
		t.Errorf("fields not decoded: %+v", actions)
	}
}

func TestLoadFile_JSONList(t *testing.T) {
	path := writeFile(t, "catalog.json", jsonCatalog)
	if got := ids(t, path, "google-drive"); !slices.Equal(got, []string{"list_files", "create_file"}) {
		t.Errorf("google-drive = %v", got)
	}
}

func TestLoadFile_YAMLList(t *testing.T) {
	path := writeFile(t, "catalog.yml", "- id: a\n  platform: p\n  title: Get A\n- id: b\n  platform: p\n  title: Get B\n")
	if got := ids(t, path, "p"); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("ids = %v", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"empty", "  \n", true},
		{"missing id", "platform: p\nactions:\n  - title: Get A\n", true},
		{"missing title", "platform: p\nactions:\n  - id: a\n", true},
		{"missing platform", "actions:\n  - id: a\n    title: Get A\n", true},
		{"malformed", "actions: [", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, "c.yaml", tt.content), "")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.invalid != errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("err = %v, invalid input = %v", err, tt.invalid)
			}
		})
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFilter_DefensiveCopy(t *testing.T) {
	path := writeFile(t, "catalog.yaml", yamlCatalog)
	all, _ := LoadFile(path, "")
	copied := Filter(all, "")
	copied[0].Title = "changed"
	if all[0].Title == "changed" {
		t.Error("Filter must not alias its input")
	}
}

func TestPlatforms(t *testing.T) {
	all, _ := Parse([]byte(jsonCatalog), FormatJSON)
	if got := Platforms(all); !slices.Equal(got, []string{"google-drive"}) {
		t.Errorf("Platforms = %v", got)
	}
}
