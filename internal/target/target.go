package target

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomasbasham/pyx-auth/internal/failure"
)

const (
	uploadPrefix      = "/v1/upload/"
	publishingPrefix  = "/v1/trusted-publishing"
	audiencePath      = publishingPrefix + "/audience"
	mintTokenSuffix   = "mint-token"
	uploadPathExample = "/v1/upload/{workspace}[/{registry}]"
)

// Target is the resolved publish target of an invocation.
type Target struct {
	// UploadURL is echoed back to the job exactly as supplied or constructed.
	UploadURL string

	Workspace string

	// Registry is empty when the workspace's default registry is used.
	Registry string

	// AudienceURL serves the OIDC audience the registry expects.
	AudienceURL string

	// MintURL exchanges an identity assertion for an upload token.
	MintURL string

	// Audience is set when the caller pins the audience instead of fetching
	// it from AudienceURL.
	Audience string
}

// Option configures Resolve.
type Option func(*options)

type options struct {
	audience string
}

// WithAudience pins the OIDC audience, skipping the registry lookup.
func WithAudience(audience string) Option {
	return func(o *options) {
		o.audience = strings.TrimSpace(audience)
	}
}

// Resolve turns src into a Target. It performs no network I/O; NamedIndex
// sources read their project file.
func Resolve(src Source, opts ...Option) (*Target, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var uploadURL string
	switch s := src.(type) {
	case DirectURL:
		uploadURL = s.URL
	case WorkspaceRegistry:
		u, err := buildUploadURL(s)
		if err != nil {
			return nil, err
		}
		uploadURL = u
	case NamedIndex:
		u, err := lookupPublishURL(s.ProjectFile, s.Name)
		if err != nil {
			return nil, err
		}
		uploadURL = u
	default:
		return nil, failure.New(failure.InvalidInput, "unsupported input source %T", src)
	}

	t, err := parseUploadURL(uploadURL)
	if err != nil {
		return nil, err
	}
	t.Audience = o.audience
	return t, nil
}

func buildUploadURL(s WorkspaceRegistry) (string, error) {
	base, err := url.Parse(s.APIBase)
	if err != nil {
		return "", failure.Wrap(failure.InvalidInput, err, "invalid API base %q", s.APIBase)
	}

	segments := []string{"v1", "upload", url.PathEscape(s.Workspace)}
	if s.Registry != "" {
		segments = append(segments, url.PathEscape(s.Registry))
	}
	return base.JoinPath(segments...).String(), nil
}

// parseUploadURL validates raw and derives the registry endpoints from it.
// The URL must be https, name a host and a path, carry no password, and its
// path must be /v1/upload/{workspace}[/{registry}].
func parseUploadURL(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, err, "invalid URL %q", raw)
	}
	if u.Scheme != "https" {
		return nil, failure.New(failure.InvalidInput, "invalid URL %q: scheme must be https", raw)
	}
	if u.Host == "" {
		return nil, failure.New(failure.InvalidInput, "invalid URL %q: missing host", raw)
	}
	if u.Path == "" {
		return nil, failure.New(failure.InvalidInput, "invalid URL %q: missing path", raw)
	}
	if _, ok := u.User.Password(); ok {
		return nil, failure.New(failure.InvalidInput, "invalid URL: must not contain a password")
	}

	workspace, registry, err := splitUploadPath(u.Path)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, err, "invalid URL %q", raw)
	}

	mintPath := publishingPrefix + "/" + workspace
	if registry != "" {
		mintPath += "/" + registry
	}
	mintPath += "/" + mintTokenSuffix

	return &Target{
		UploadURL:   raw,
		Workspace:   workspace,
		Registry:    registry,
		AudienceURL: endpoint(u, audiencePath),
		MintURL:     endpoint(u, mintPath),
	}, nil
}

func splitUploadPath(p string) (workspace, registry string, err error) {
	rest, ok := strings.CutPrefix(p, uploadPrefix)
	if !ok {
		return "", "", fmt.Errorf("unexpected upload URL path %q, want %s", p, uploadPathExample)
	}
	rest = strings.TrimSuffix(rest, "/")

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("unexpected upload URL path %q, want %s", p, uploadPathExample)
	}
}

// endpoint returns the URL on u's scheme and host with path p and no query,
// fragment or user info.
func endpoint(u *url.URL, p string) string {
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: p}).String()
}
