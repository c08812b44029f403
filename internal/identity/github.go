package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

const maxDiagnosticBody = 512

// GitHubActions requests tokens from the Actions OIDC endpoint advertised to
// jobs holding the id-token: write permission.
type GitHubActions struct {
	getenv Getenv
	client *http.Client
}

func NewGitHubActions(getenv Getenv, client *http.Client) *GitHubActions {
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHubActions{getenv: getenv, client: client}
}

func (p *GitHubActions) Name() string {
	return "github"
}

func (p *GitHubActions) Detect() bool {
	return p.getenv("GITHUB_ACTIONS") == "true"
}

func (p *GitHubActions) Token(ctx context.Context, audience string) (secret.String, error) {
	requestURL := p.getenv("ACTIONS_ID_TOKEN_REQUEST_URL")
	requestToken := secret.New(p.getenv("ACTIONS_ID_TOKEN_REQUEST_TOKEN"))
	if requestURL == "" || requestToken.IsZero() {
		return secret.String{}, failure.New(failure.IdentityProviderError,
			"GitHub Actions did not expose an OIDC token request endpoint to this job; %s", PermissionHint)
	}

	u, err := url.Parse(requestURL)
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "invalid ACTIONS_ID_TOKEN_REQUEST_URL")
	}
	q := u.Query()
	q.Set("audience", audience)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "failed to create OIDC token request")
	}
	req.Header.Set("Authorization", "bearer "+requestToken.Reveal())
	req.Header.Set("Accept", "application/json; api-version=2.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return secret.String{}, failure.New(failure.NetworkError,
			"failed to request OIDC token from GitHub Actions: %s", secret.Scrub(transportError(err), requestToken))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return secret.String{}, failure.New(failure.IdentityProviderError,
			"GitHub Actions refused the OIDC token request with HTTP %d; %s", resp.StatusCode, PermissionHint)
	case resp.StatusCode != http.StatusOK:
		return secret.String{}, failure.New(failure.IdentityProviderError,
			"GitHub Actions OIDC token request returned HTTP %d: %s",
			resp.StatusCode, truncate(secret.Scrub(string(body), requestToken), maxDiagnosticBody))
	}

	var tokenResp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return secret.String{}, failure.New(failure.IdentityProviderError, "failed to parse GitHub Actions OIDC token response")
	}
	if tokenResp.Value == "" {
		return secret.String{}, failure.New(failure.IdentityProviderError, "GitHub Actions OIDC token response did not contain a token")
	}
	return secret.New(tokenResp.Value), nil
}

// transportError renders a client error, naming timeouts explicitly.
func transportError(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Sprintf("request timed out: %s", ue.Err)
	}
	return err.Error()
}
