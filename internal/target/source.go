// Package target resolves the inputs of a publish job into a single upload
// URL and the registry endpoints derived from it.
//
// Inputs come in three mutually exclusive groups:
//
//	url                     a complete upload URL
//	workspace [+registry]   constructed against the API base
//	index                   looked up from the project's package index table
//
// NewSource validates the combination and returns exactly one Source
// variant; Resolve turns that variant into a Target.
package target

import (
	"fmt"
	"strings"

	"github.com/tomasbasham/pyx-auth/internal/failure"
)

const (
	// DefaultAPIBase is the registry API used to construct upload URLs from
	// a workspace and registry.
	DefaultAPIBase = "https://api.pyx.dev"

	// DefaultProjectFile is read when the upload URL comes from a named
	// index.
	DefaultProjectFile = "pyproject.toml"
)

// Input holds the raw, unvalidated inputs of an invocation.
type Input struct {
	URL       string
	Workspace string
	Registry  string
	Index     string

	// APIBase defaults to DefaultAPIBase when empty.
	APIBase string

	// ProjectFile defaults to DefaultProjectFile when empty.
	ProjectFile string
}

// Source is one of DirectURL, WorkspaceRegistry or NamedIndex.
type Source interface {
	isSource()
}

// DirectURL uses the given upload URL verbatim.
type DirectURL struct {
	URL string
}

// WorkspaceRegistry constructs the upload URL from a workspace and an
// optional registry. An empty Registry selects the workspace's default
// registry, which the registry service resolves.
type WorkspaceRegistry struct {
	APIBase   string
	Workspace string
	Registry  string
}

// NamedIndex reads the upload URL from the publish-url of the named index in
// ProjectFile.
type NamedIndex struct {
	Name        string
	ProjectFile string
}

func (DirectURL) isSource()         {}
func (WorkspaceRegistry) isSource() {}
func (NamedIndex) isSource()        {}

// NewSource validates in and returns the single Source it describes. It
// fails with failure.InvalidInput when no group, or more than one group, of
// inputs is supplied.
func NewSource(in Input) (Source, error) {
	rawURL := strings.TrimSpace(in.URL)
	workspace := strings.TrimSpace(in.Workspace)
	registry := strings.TrimSpace(in.Registry)
	index := strings.TrimSpace(in.Index)

	var supplied []string
	if rawURL != "" {
		supplied = append(supplied, "'url'")
	}
	if workspace != "" || registry != "" {
		supplied = append(supplied, "'workspace'/'registry'")
	}
	if index != "" {
		supplied = append(supplied, "'index'")
	}

	switch len(supplied) {
	case 0:
		return nil, failure.New(failure.InvalidInput,
			"specify exactly one of 'index', 'workspace'/'registry', or 'url' (none given)")
	case 1:
	default:
		return nil, failure.New(failure.InvalidInput,
			"specify exactly one of 'index', 'workspace'/'registry', or 'url' (got %s)", strings.Join(supplied, ", "))
	}

	switch {
	case rawURL != "":
		return DirectURL{URL: rawURL}, nil
	case index != "":
		projectFile := in.ProjectFile
		if projectFile == "" {
			projectFile = DefaultProjectFile
		}
		return NamedIndex{Name: index, ProjectFile: projectFile}, nil
	}

	if workspace == "" {
		return nil, failure.New(failure.InvalidInput, "'registry' %q requires 'workspace'", registry)
	}
	if err := validateSegment("workspace", workspace); err != nil {
		return nil, err
	}
	if registry != "" {
		if err := validateSegment("registry", registry); err != nil {
			return nil, err
		}
	}

	apiBase := strings.TrimSpace(in.APIBase)
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return WorkspaceRegistry{APIBase: apiBase, Workspace: workspace, Registry: registry}, nil
}

func validateSegment(field, value string) error {
	if strings.ContainsAny(value, "/?#") {
		return failure.New(failure.InvalidInput, "'%s' %q must not contain '/', '?' or '#'", field, value)
	}
	if value == "." || value == ".." {
		return failure.New(failure.InvalidInput, "'%s' %q is not a valid identifier", field, value)
	}
	return nil
}

// Describe renders the source for log output.
func Describe(src Source) string {
	switch s := src.(type) {
	case DirectURL:
		return fmt.Sprintf("url %s", s.URL)
	case WorkspaceRegistry:
		if s.Registry == "" {
			return fmt.Sprintf("workspace %s (default registry)", s.Workspace)
		}
		return fmt.Sprintf("workspace %s, registry %s", s.Workspace, s.Registry)
	case NamedIndex:
		return fmt.Sprintf("index %s in %s", s.Name, s.ProjectFile)
	default:
		return "unknown source"
	}
}
