package identity

import (
	"context"

	"cloud.google.com/go/compute/metadata"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// GoogleCloud mints ID tokens for the ambient service account, either from
// the metadata server or from application default credentials.
type GoogleCloud struct {
	onGCE       func() bool
	tokenSource func(ctx context.Context, audience string, opts ...option.ClientOption) (oauth2.TokenSource, error)
	opts        []option.ClientOption
}

// NewGoogleCloud creates a GoogleCloud provider. opts are passed through to
// the ID token source, allowing credential injection.
func NewGoogleCloud(opts ...option.ClientOption) *GoogleCloud {
	return &GoogleCloud{
		onGCE:       metadata.OnGCE,
		tokenSource: idtoken.NewTokenSource,
		opts:        opts,
	}
}

func (p *GoogleCloud) Name() string {
	return "gcp"
}

func (p *GoogleCloud) Detect() bool {
	return p.onGCE()
}

func (p *GoogleCloud) Token(ctx context.Context, audience string) (secret.String, error) {
	ts, err := p.tokenSource(ctx, audience, p.opts...)
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "failed to create Google Cloud ID token source")
	}
	tok, err := ts.Token()
	if err != nil {
		return secret.String{}, failure.Wrap(failure.IdentityProviderError, err, "failed to obtain Google Cloud ID token")
	}
	if tok.AccessToken == "" {
		return secret.String{}, failure.New(failure.IdentityProviderError, "Google Cloud returned an empty ID token")
	}
	return secret.New(tok.AccessToken), nil
}
