package identity

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// CircleCI requests tokens with a custom audience through the circleci CLI.
type CircleCI struct {
	getenv Getenv
	run    CommandRunner
}

func NewCircleCI(getenv Getenv) *CircleCI {
	return &CircleCI{getenv: getenv, run: ExecCommand}
}

func (p *CircleCI) Name() string {
	return "circleci"
}

func (p *CircleCI) Detect() bool {
	return p.getenv("CIRCLECI") == "true"
}

func (p *CircleCI) Token(ctx context.Context, audience string) (secret.String, error) {
	claims, err := json.Marshal(map[string]string{"aud": audience})
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "failed to encode OIDC claims")
	}

	out, err := p.run(ctx, "circleci", "run", "oidc", "get", "--claims", string(claims))
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "failed to request OIDC token from circleci")
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return secret.String{}, failure.New(failure.IdentityProviderError, "circleci returned an empty OIDC token")
	}
	return secret.New(token), nil
}
