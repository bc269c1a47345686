// Package catalog loads action catalog snapshots from disk.
//
// A catalog file is JSON or YAML and holds either a bare list of actions or
// an object with a default platform and an actions list:
//
//	platform: google-docs
//	actions:
//	  - id: create_doc
//	    title: Create Document
//	    model_name: documents
//	    method: POST
//	    path: /v1/documents
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ameyarj/pica-testing-sub000/internal/action"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

// Format is a catalog file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// File is the object form of a catalog file.
type File struct {
	// Platform is applied to actions that do not name one.
	Platform string          `json:"platform,omitempty" yaml:"platform,omitempty"`
	Actions  []action.Action `json:"actions" yaml:"actions"`
}

// FormatFor infers the format from a file extension. Unknown extensions are
// read as YAML, which also accepts JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Parse decodes catalog data and validates every action.
func Parse(data []byte, format Format) ([]action.Action, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.NewValidationError("catalog is empty")
	}

	var file File
	isList := strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "-")
	var err error
	switch {
	case format == FormatJSON && isList:
		err = json.Unmarshal(data, &file.Actions)
	case format == FormatJSON:
		err = json.Unmarshal(data, &file)
	case isList:
		err = yaml.Unmarshal(data, &file.Actions)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	actions := make([]action.Action, len(file.Actions))
	for i, a := range file.Actions {
		if a.Platform == "" {
			a.Platform = file.Platform
		}
		a.ID = strings.TrimSpace(a.ID)
		if err := validate(a); err != nil {
			return nil, errors.Wrapf(err, "action %d", i+1)
		}
		actions[i] = a
	}
	return actions, nil
}

func validate(a action.Action) error {
	if a.ID == "" {
		return errors.NewValidationError("action id is required").WithField("id")
	}
	if strings.TrimSpace(a.Title) == "" {
		return errors.NewValidationError("action title is required").WithField("title").WithValue(a.ID)
	}
	if a.Platform == "" {
		return errors.NewValidationError("action platform is required").WithField("platform").WithValue(a.ID)
	}
	return nil
}

// LoadFile reads a catalog file and returns the actions of platform in file
// order. An empty platform returns every action. The returned slice is owned
// by the caller.
func LoadFile(path, platform string) ([]action.Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog file")
	}
	actions, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, err
	}
	return Filter(actions, platform), nil
}

// Filter returns a new slice holding the actions of platform. Platforms are
// compared by slug, so "Google Docs" matches "google-docs". An empty platform
// copies every action.
func Filter(actions []action.Action, platform string) []action.Action {
	if platform == "" {
		return slices.Clone(actions)
	}
	want := util.Slug(platform)
	var out []action.Action
	for _, a := range actions {
		if util.Slug(a.Platform) == want {
			out = append(out, a)
		}
	}
	return out
}

// Platforms lists the distinct platforms in actions, sorted by slug.
func Platforms(actions []action.Action) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range actions {
		s := util.Slug(a.Platform)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
