// Package identity obtains an ambient OIDC identity assertion from the CI
// platform running the job. Each supported platform is a Provider; a
// Detector picks the one matching the environment.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// PermissionHint is appended to identity failures that most likely stem from
// a job that may not request OIDC tokens.
const PermissionHint = "ensure the job has the `id-token: write` permission " +
	"(pull requests from forks and some other triggers cannot request OIDC tokens)"

// Auto selects the first provider whose platform is detected.
const Auto = "auto"

// Provider acquires identity assertions from a CI platform.
type Provider interface {
	// Name is the identifier used to pin the provider from the command line.
	Name() string

	// Detect reports whether the process runs on the provider's platform.
	Detect() bool

	// Token requests an assertion scoped to audience.
	Token(ctx context.Context, audience string) (secret.String, error)
}

// Getenv looks up an environment variable, like os.Getenv.
type Getenv func(key string) string

// DefaultProviders returns every supported provider in detection order.
// Google Cloud probes the metadata server and therefore comes last.
func DefaultProviders(getenv Getenv, client *http.Client) []Provider {
	return []Provider{
		NewGitHubActions(getenv, client),
		NewGitLab(getenv),
		NewBuildkite(getenv),
		NewCircleCI(getenv),
		NewGoogleCloud(),
	}
}

// Detector selects a provider.
type Detector struct {
	providers []Provider
}

func NewDetector(providers ...Provider) *Detector {
	return &Detector{providers: providers}
}

// Names lists the known provider names.
func (d *Detector) Names() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name())
	}
	return names
}

// Select returns the provider called name. An empty name or Auto returns the
// first detected provider.
func (d *Detector) Select(name string) (Provider, error) {
	if name == "" || name == Auto {
		for _, p := range d.providers {
			if p.Detect() {
				return p, nil
			}
		}
		return nil, failure.New(failure.IdentityProviderError,
			"no ambient OIDC credential available on this CI platform; %s", PermissionHint)
	}

	for _, p := range d.providers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, failure.New(failure.InvalidInput,
		"unknown identity provider %q (want one of %s, %s)", name, Auto, strings.Join(d.Names(), ", "))
}

// truncate shortens a diagnostic body to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... (%d bytes truncated)", len(s)-n)
}
