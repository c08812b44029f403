package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/pyx-auth/internal/identity"
	"github.com/tomasbasham/pyx-auth/internal/operation"
	"github.com/tomasbasham/pyx-auth/internal/target"
	"github.com/tomasbasham/pyx-auth/internal/workflow"
)

// Output names published to the job.
const (
	OutputURL   = "url"
	OutputToken = "token"
)

// Options configures an Exchanger.
type Options struct {
	Client   *Client
	Detector *identity.Detector
	Runner   workflow.Runner
	Logger   logrus.FieldLogger

	// Provider pins the identity provider by name. Empty or identity.Auto
	// selects the detected one.
	Provider string
}

// Exchanger runs one trusted publishing exchange end to end.
type Exchanger struct {
	client   *Client
	detector *identity.Detector
	runner   workflow.Runner
	logger   logrus.FieldLogger
	provider string
}

func New(opts Options) *Exchanger {
	client := opts.Client
	if client == nil {
		client = NewClient()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exchanger{
		client:   client,
		detector: opts.Detector,
		runner:   opts.Runner,
		logger:   logger,
		provider: opts.Provider,
	}
}

// Result describes a completed exchange. It never carries the token itself,
// which only leaves through the runner.
type Result struct {
	Operation *operation.Operation
	UploadURL string
	Expires   time.Time
	Duration  time.Duration
}

// Run resolves src, obtains an identity assertion, mints an upload token and
// emits the url and token outputs. The returned operation records the status
// reached; on failure it is StatusFailed with the failure kind.
func (e *Exchanger) Run(ctx context.Context, src target.Source, opts ...target.Option) (*Result, error) {
	op := operation.New()
	log := e.logger.WithField("invocation", op.ID)

	res, err := e.run(WithRequestID(ctx, op.ID), op, log, src, opts...)
	if err != nil {
		if markErr := op.MarkFailed(err); markErr != nil {
			log.WithError(markErr).Debug("Failed to record failure")
		}
		return &Result{Operation: op, UploadURL: op.UploadURL}, err
	}
	return res, nil
}

func (e *Exchanger) run(ctx context.Context, op *operation.Operation, log logrus.FieldLogger, src target.Source, opts ...target.Option) (*Result, error) {
	log.Debugf("Resolving upload URL from %s", target.Describe(src))
	t, err := target.Resolve(src, opts...)
	if err != nil {
		return nil, err
	}
	if err := op.MarkResolved(t.UploadURL); err != nil {
		return nil, err
	}
	log.Debugf("Using upload URL: %s", t.UploadURL)

	start := time.Now()

	audience := t.Audience
	if audience == "" {
		log.Debugf("Using audience URL: %s", t.AudienceURL)
		audience, err = e.client.FetchAudience(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to get audience from registry: %w", err)
		}
		t.Audience = audience
	}
	log.Debugf("Using audience: %s", audience)

	provider, err := e.detector.Select(e.provider)
	if err != nil {
		return nil, err
	}
	log.Debugf("Requesting OIDC token from %s", provider.Name())

	assertion, err := provider.Token(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain ambient OIDC token: %w", err)
	}
	if err := op.MarkAssertionObtained(); err != nil {
		return nil, err
	}
	if claims, err := identity.Inspect(ctx, assertion); err != nil {
		log.WithError(err).Debug("Could not inspect OIDC token claims")
	} else {
		log.WithFields(logrus.Fields{
			"issuer":  claims.Issuer,
			"subject": claims.Subject,
		}).Debug("Obtained OIDC token")
	}

	log.Debugf("Using token mint URL: %s", t.MintURL)
	cred, err := e.client.Mint(ctx, t, assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to mint registry token: %w", err)
	}
	e.runner.AddMask(cred.Token)
	if err := op.MarkTokenObtained(); err != nil {
		return nil, err
	}
	duration := time.Since(start)

	if err := e.runner.SetOutput(OutputURL, t.UploadURL); err != nil {
		return nil, err
	}
	if err := e.runner.SetOutput(OutputToken, cred.Token.Reveal()); err != nil {
		return nil, err
	}
	if err := op.MarkEmitted(); err != nil {
		return nil, err
	}

	log.Infof("Successfully exchanged token in %.4fs", duration.Seconds())
	return &Result{
		Operation: op,
		UploadURL: t.UploadURL,
		Expires:   cred.Expires,
		Duration:  duration,
	}, nil
}
