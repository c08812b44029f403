// Package exchange performs the trusted publishing exchange against the
// registry: it discovers the OIDC audience the registry expects and trades an
// identity assertion for a short-lived upload token.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
	"github.com/tomasbasham/pyx-auth/internal/target"
)

const (
	// DefaultTimeout bounds each request to the registry.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody is the number of response body bytes quoted in errors.
	maxErrorBody = 512

	requestIDHeader = "X-Request-Id"
)

// Credential is a minted upload token.
type Credential struct {
	Token secret.String

	// Expires is zero when the registry does not report an expiry.
	Expires time.Time
}

// Client talks to the registry's trusted publishing endpoints. Every call is
// a single attempt; failures are never retried.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client, which applies DefaultTimeout.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "pyx-auth",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestIDKey struct{}

// WithRequestID attaches an ID sent with every registry request made with
// ctx, for correlation with registry logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// FetchAudience asks the registry which audience its identity assertions
// must carry.
func (c *Client) FetchAudience(ctx context.Context, t *target.Target) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, t.AudienceURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", failure.New(failure.NetworkError, "failed to fetch audience URL: %s", transportError(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", failure.New(failure.RegistryRejected, "audience URL returned HTTP %d: %s",
			resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	var audienceResp struct {
		Audience string `json:"audience"`
	}
	if err := json.Unmarshal(body, &audienceResp); err != nil {
		return "", failure.Wrap(failure.RegistryRejected, err, "failed to parse audience response")
	}
	if audienceResp.Audience == "" {
		return "", failure.New(failure.RegistryRejected, "audience response did not contain an audience")
	}
	return audienceResp.Audience, nil
}

// Mint exchanges assertion for an upload token. The assertion is sent in the
// JSON body and as a bearer credential; it never appears in returned errors.
func (c *Client) Mint(ctx context.Context, t *target.Target, assertion secret.String) (*Credential, error) {
	payload, err := json.Marshal(map[string]string{"token": assertion.Reveal()})
	if err != nil {
		return nil, fmt.Errorf("exchange: failed to encode mint request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, t.MintURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.bearerClient(assertion).Do(req)
	if err != nil {
		return nil, failure.New(failure.NetworkError, "failed to mint token: %s",
			secret.Scrub(transportError(err), assertion))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.New(failure.RegistryRejected, "token minting returned HTTP %d: %s",
			resp.StatusCode, truncate(secret.Scrub(string(body), assertion), maxErrorBody))
	}

	var mintResp struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := json.Unmarshal(body, &mintResp); err != nil {
		return nil, failure.New(failure.RegistryRejected, "failed to parse mint response")
	}
	if mintResp.Token == "" {
		return nil, failure.New(failure.RegistryRejected, "mint response did not contain a token")
	}

	cred := &Credential{Token: secret.New(mintResp.Token)}
	if mintResp.Expires > 0 {
		cred.Expires = time.Unix(mintResp.Expires, 0)
	}
	return cred, nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, err, "failed to create request for %s", rawURL)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		req.Header.Set(requestIDHeader, id)
	}
	return req, nil
}

// bearerClient derives a client presenting assertion as a bearer token. It
// refuses redirects so the assertion is only ever sent to the mint URL.
func (c *Client) bearerClient(assertion secret.String) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: assertion.Reveal(),
				TokenType:   "Bearer",
			}),
			Base: c.httpClient.Transport,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Jar:     c.httpClient.Jar,
		Timeout: c.httpClient.Timeout,
	}
}

func transportError(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Sprintf("request to %s timed out: %s", ue.URL, ue.Err)
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... (%d bytes truncated)", len(s)-n)
}
