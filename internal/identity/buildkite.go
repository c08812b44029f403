package identity

import (
	"context"
	"strings"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// Buildkite requests tokens through the buildkite-agent CLI available to
// every Buildkite job.
type Buildkite struct {
	getenv Getenv
	run    CommandRunner
}

func NewBuildkite(getenv Getenv) *Buildkite {
	return &Buildkite{getenv: getenv, run: ExecCommand}
}

func (p *Buildkite) Name() string {
	return "buildkite"
}

func (p *Buildkite) Detect() bool {
	return p.getenv("BUILDKITE") == "true"
}

func (p *Buildkite) Token(ctx context.Context, audience string) (secret.String, error) {
	out, err := p.run(ctx, "buildkite-agent", "oidc", "request-token", "--audience", audience)
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "failed to request OIDC token from buildkite-agent")
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return secret.String{}, failure.New(failure.IdentityProviderError, "buildkite-agent returned an empty OIDC token")
	}
	return secret.New(token), nil
}
