package identity

import (
	"context"
	"strings"
	"unicode"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// GitLab reads the ID token GitLab CI injects for an id_tokens entry whose
// variable is named after the audience.
type GitLab struct {
	getenv Getenv
}

func NewGitLab(getenv Getenv) *GitLab {
	return &GitLab{getenv: getenv}
}

func (p *GitLab) Name() string {
	return "gitlab"
}

func (p *GitLab) Detect() bool {
	return p.getenv("GITLAB_CI") == "true"
}

func (p *GitLab) Token(_ context.Context, audience string) (secret.String, error) {
	name := GitLabVariable(audience)
	if token := p.getenv(name); token != "" {
		return secret.New(token), nil
	}
	return secret.String{}, failure.New(failure.IdentityProviderError,
		"GitLab CI did not provide %s; declare it under the job's id_tokens with aud: %s", name, audience)
}

// GitLabVariable returns the environment variable holding the ID token for
// audience: the audience upper-cased with every character outside [A-Z0-9]
// replaced by an underscore, a leading run of digits collapsed into a single
// underscore, suffixed with _ID_TOKEN.
func GitLabVariable(audience string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, audience)
	if trimmed := strings.TrimLeftFunc(sanitized, unicode.IsDigit); trimmed != sanitized {
		sanitized = "_" + trimmed
	}
	return sanitized + "_ID_TOKEN"
}
