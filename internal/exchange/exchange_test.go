package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/identity"
	"github.com/tomasbasham/pyx-auth/internal/operation"
	"github.com/tomasbasham/pyx-auth/internal/secret"
	"github.com/tomasbasham/pyx-auth/internal/target"
)

const assertion = "header.oidc-assertion-value.signature"

type fakeProvider struct {
	audience string
	err      error
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Detect() bool { return true }
func (p *fakeProvider) Token(_ context.Context, audience string) (secret.String, error) {
	p.audience = audience
	if p.err != nil {
		return secret.String{}, p.err
	}
	return secret.New(assertion), nil
}

type recordingRunner struct {
	events  []string
	outputs map[string]string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{outputs: make(map[string]string)}
}

func (r *recordingRunner) SetOutput(name, value string) error {
	if _, ok := r.outputs[name]; ok {
		return fmt.Errorf("output %q set twice", name)
	}
	r.events = append(r.events, "output:"+name)
	r.outputs[name] = value
	return nil
}

func (r *recordingRunner) AddMask(value secret.String) {
	r.events = append(r.events, "mask:"+value.Reveal())
}

// registry is a fake trusted publishing API.
type registry struct {
	server   *httptest.Server
	requests atomic.Int32

	audienceStatus int
	mintStatus     int
	mintBody       string

	mu               sync.Mutex
	gotAuthorization string
	gotBody          map[string]string
	gotRequestID     string
}

// received returns what the mint endpoint last saw.
func (r *registry) received() (authorization string, body map[string]string, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gotAuthorization, r.gotBody, r.gotRequestID
}

func newRegistry(t *testing.T) *registry {
	t.Helper()
	r := &registry{
		audienceStatus: http.StatusOK,
		mintStatus:     http.StatusOK,
		mintBody:       `{"token":"pyx_upload_token","expires":1900000000}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/trusted-publishing/audience", func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)
		if r.audienceStatus != http.StatusOK {
			http.Error(w, "unavailable", r.audienceStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"audience":"pyx"}`)
	})
	mux.HandleFunc("POST /v1/trusted-publishing/acme/main/mint-token", func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)
		r.mu.Lock()
		r.gotAuthorization = req.Header.Get("Authorization")
		r.gotRequestID = req.Header.Get(requestIDHeader)
		_ = json.NewDecoder(req.Body).Decode(&r.gotBody)
		r.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(r.mintStatus)
		fmt.Fprint(w, r.mintBody)
	})
	mux.HandleFunc("POST /v1/trusted-publishing/acme/redirect/mint-token", func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)
		http.Redirect(w, req, "/elsewhere", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, req *http.Request) {
		t.Errorf("redirect followed with Authorization %q", req.Header.Get("Authorization"))
	})

	r.server = httptest.NewTLSServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func (r *registry) uploadURL(registryName string) string {
	return r.server.URL + "/v1/upload/acme/" + registryName
}

func newExchanger(r *registry, provider identity.Provider, runner *recordingRunner, logs *bytes.Buffer) *Exchanger {
	logger := logrus.New()
	logger.SetOutput(logs)
	logger.SetLevel(logrus.DebugLevel)

	return New(Options{
		Client:   NewClient(WithHTTPClient(r.server.Client())),
		Detector: identity.NewDetector(provider),
		Runner:   runner,
		Logger:   logger,
	})
}

func TestRunSuccess(t *testing.T) {
	reg := newRegistry(t)
	provider := &fakeProvider{}
	runner := newRecordingRunner()
	var logs bytes.Buffer

	res, err := newExchanger(reg, provider, runner, &logs).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("main")})
	require.NoError(t, err)

	authorization, body, requestID := reg.received()
	assert.Equal(t, "pyx", provider.audience)
	assert.Equal(t, "Bearer "+assertion, authorization)
	assert.Equal(t, map[string]string{"token": assertion}, body)
	assert.Equal(t, res.Operation.ID, requestID)

	assert.Equal(t, []string{"mask:pyx_upload_token", "output:url", "output:token"}, runner.events)
	assert.Equal(t, reg.uploadURL("main"), runner.outputs[OutputURL])
	assert.Equal(t, "pyx_upload_token", runner.outputs[OutputToken])

	assert.Equal(t, operation.StatusEmitted, res.Operation.Status)
	assert.Equal(t, reg.uploadURL("main"), res.UploadURL)
	assert.Equal(t, time.Unix(1900000000, 0), res.Expires)

	assert.Contains(t, logs.String(), "Successfully exchanged token")
	assert.NotContains(t, logs.String(), assertion)
	assert.NotContains(t, logs.String(), "pyx_upload_token")
}

func TestRunPinnedAudienceSkipsLookup(t *testing.T) {
	reg := newRegistry(t)
	reg.audienceStatus = http.StatusInternalServerError
	provider := &fakeProvider{}
	runner := newRecordingRunner()

	_, err := newExchanger(reg, provider, runner, &bytes.Buffer{}).Run(context.Background(),
		target.DirectURL{URL: reg.uploadURL("main")}, target.WithAudience("custom"))
	require.NoError(t, err)
	assert.Equal(t, "custom", provider.audience)
	assert.Equal(t, int32(1), reg.requests.Load())
}

func TestRunRegistryRejected(t *testing.T) {
	reg := newRegistry(t)
	reg.mintStatus = http.StatusForbidden
	reg.mintBody = `{"error":"not authorized"}`
	runner := newRecordingRunner()
	var logs bytes.Buffer

	res, err := newExchanger(reg, &fakeProvider{}, runner, &logs).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("main")})
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.RegistryRejected))
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Contains(t, err.Error(), `{"error":"not authorized"}`)
	assert.NotContains(t, err.Error(), assertion)
	assert.NotContains(t, logs.String(), assertion)

	assert.Empty(t, runner.events)
	assert.Equal(t, operation.StatusFailed, res.Operation.Status)
	assert.Equal(t, failure.RegistryRejected, res.Operation.Kind)
}

func TestRunRegistryEchoesAssertion(t *testing.T) {
	reg := newRegistry(t)
	reg.mintStatus = http.StatusBadRequest
	reg.mintBody = `{"error":"invalid token ` + assertion + `"}` + strings.Repeat("x", 1024)

	_, err := newExchanger(reg, &fakeProvider{}, newRecordingRunner(), &bytes.Buffer{}).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("main")})
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.RegistryRejected))
	assert.NotContains(t, err.Error(), assertion)
	assert.Contains(t, err.Error(), secret.Redacted)
	assert.Contains(t, err.Error(), "bytes truncated")
}

func TestRunMintResponseWithoutToken(t *testing.T) {
	reg := newRegistry(t)
	reg.mintBody = `{"expires":1900000000}`
	runner := newRecordingRunner()

	_, err := newExchanger(reg, &fakeProvider{}, runner, &bytes.Buffer{}).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("main")})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.RegistryRejected))
	assert.Empty(t, runner.events)
}

func TestRunRedirectIsNotFollowed(t *testing.T) {
	reg := newRegistry(t)

	_, err := newExchanger(reg, &fakeProvider{}, newRecordingRunner(), &bytes.Buffer{}).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("redirect")})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.RegistryRejected))
	assert.Contains(t, err.Error(), "HTTP 307")
}

func TestRunAudienceUnavailable(t *testing.T) {
	reg := newRegistry(t)
	reg.audienceStatus = http.StatusServiceUnavailable
	provider := &fakeProvider{}

	res, err := newExchanger(reg, provider, newRecordingRunner(), &bytes.Buffer{}).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("main")})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.RegistryRejected))
	assert.Contains(t, err.Error(), "failed to get audience from registry")
	assert.Empty(t, provider.audience)
	assert.Equal(t, operation.StatusFailed, res.Operation.Status)
}

func TestRunIdentityProviderError(t *testing.T) {
	reg := newRegistry(t)
	provider := &fakeProvider{err: failure.New(failure.IdentityProviderError, "no token; %s", identity.PermissionHint)}

	res, err := newExchanger(reg, provider, newRecordingRunner(), &bytes.Buffer{}).Run(context.Background(), target.DirectURL{URL: reg.uploadURL("main")})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.IdentityProviderError))
	assert.Contains(t, err.Error(), "id-token: write")
	assert.Equal(t, failure.IdentityProviderError, res.Operation.Kind)
}

func TestRunInvalidInputPerformsNoIO(t *testing.T) {
	reg := newRegistry(t)
	provider := &fakeProvider{}

	res, err := newExchanger(reg, provider, newRecordingRunner(), &bytes.Buffer{}).Run(context.Background(), target.DirectURL{URL: "http://insecure.example/v1/upload/acme"})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.InvalidInput))
	assert.Equal(t, int32(0), reg.requests.Load())
	assert.Empty(t, provider.audience)
	assert.Equal(t, operation.StatusFailed, res.Operation.Status)
}

func TestRunTimeoutIsNetworkError(t *testing.T) {
	slow := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	client := slow.Client()
	client.Timeout = 50 * time.Millisecond

	e := New(Options{
		Client:   NewClient(WithHTTPClient(client)),
		Detector: identity.NewDetector(&fakeProvider{}),
		Runner:   newRecordingRunner(),
		Logger:   logrus.New(),
	})

	_, err := e.Run(context.Background(), target.DirectURL{URL: slow.URL + "/v1/upload/acme/main"})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.NetworkError))
	assert.Contains(t, err.Error(), "timed out")
}

func TestClientMintTransportError(t *testing.T) {
	server := httptest.NewTLSServer(http.NotFoundHandler())
	client := server.Client()
	server.Close()

	tgt, err := target.Resolve(target.DirectURL{URL: server.URL + "/v1/upload/acme/main"})
	require.NoError(t, err)

	_, err = NewClient(WithHTTPClient(client)).Mint(context.Background(), tgt, secret.New(assertion))
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.NetworkError))
	assert.NotContains(t, err.Error(), assertion)
}
