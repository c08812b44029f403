package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// Claims are the non-secret claims of an identity assertion, used for
// diagnostics only.
type Claims struct {
	Issuer   string
	Subject  string
	Audience []string
	Expiry   time.Time
}

// Inspect decodes the claims of assertion WITHOUT verifying its signature.
// The registry performs the verification; the result is only fit for logs.
func Inspect(ctx context.Context, assertion secret.String) (*Claims, error) {
	verifier := oidc.NewVerifier("", nil, &oidc.Config{
		SkipClientIDCheck:          true,
		SkipIssuerCheck:            true,
		SkipExpiryCheck:            true,
		InsecureSkipSignatureCheck: true,
		SupportedSigningAlgs: []string{
			oidc.RS256, oidc.RS384, oidc.RS512,
			oidc.ES256, oidc.ES384, oidc.ES512,
			oidc.PS256, oidc.PS384, oidc.PS512,
		},
	})

	tok, err := verifier.Verify(ctx, assertion.Reveal())
	if err != nil {
		return nil, fmt.Errorf("identity: failed to decode assertion claims: %s", secret.Scrub(err.Error(), assertion))
	}
	return &Claims{
		Issuer:   tok.Issuer,
		Subject:  tok.Subject,
		Audience: tok.Audience,
		Expiry:   tok.Expiry,
	}, nil
}
