package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/pyx-auth/internal/exchange"
	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/identity"
	"github.com/tomasbasham/pyx-auth/internal/target"
	"github.com/tomasbasham/pyx-auth/internal/workflow"
)

type ExchangeOptions struct {
	getenv     func(string) string
	httpClient *http.Client
	providers  []identity.Provider

	logger   *logrus.Logger
	runner   workflow.Runner
	detector *identity.Detector
	source   target.Source

	InputOptions

	Provider string
	Timeout  time.Duration
	Debug    bool

	iooption.IOStreams
}

var (
	exchangeLong = templates.LongDesc(`
		Resolve the upload URL, obtain an OIDC identity token from the CI
		platform and exchange it for a short-lived pyx upload token.

		Exactly one of --url, --workspace (with an optional --registry) or
		--index must be given. Flags that are not set fall back to the
		GHA_PYX_INPUT_* environment variables. On success the url and token
		outputs are published to the job and the token is masked in its logs.`)

	exchangeExample = templates.Examples(`
		# Mint a token for a specific registry
		pyx-auth exchange --workspace acme --registry main

		# Mint a token for the publish-url of an index in pyproject.toml
		pyx-auth exchange --index pyx

		# Mint a token for an explicit upload URL
		pyx-auth exchange --url https://api.pyx.dev/v1/upload/acme/main`)
)

func NewExchangeOptions(streams iooption.IOStreams) *ExchangeOptions {
	return &ExchangeOptions{
		getenv:    os.Getenv,
		IOStreams: streams,
	}
}

func NewExchangeCommand(o *ExchangeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "exchange",
		DisableFlagsInUseLine: true,
		Short:                 "Exchange the job's OIDC identity for a pyx upload token",
		Long:                  exchangeLong,
		Example:               exchangeExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return o.fail(err)
			}
			if err := o.Validate(); err != nil {
				return o.fail(err)
			}
			if err := o.Run(); err != nil {
				return o.fail(err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	o.InputOptions.AddFlags(flags)
	flags.StringVar(&o.Provider, "provider", identity.Auto, "Identity provider: auto, github, gitlab, buildkite, circleci or gcp")
	flags.DurationVarP(&o.Timeout, "timeout", "t", exchange.DefaultTimeout, "Timeout for each network request")
	flags.BoolVar(&o.Debug, "debug", false, "Enable debug logging")

	return cmd
}

func (o *ExchangeOptions) Complete(cmd *cobra.Command, args []string) error {
	o.logger = newLogger(o.getenv, o.IOStreams, o.Debug)

	if err := applyEnv(cmd, o.getenv); err != nil {
		return failure.Wrap(failure.InvalidInput, err, "invalid input")
	}

	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.Timeout}
	}
	if o.providers == nil {
		o.providers = identity.DefaultProviders(o.getenv, o.httpClient)
	}
	o.detector = identity.NewDetector(o.providers...)
	return nil
}

func (o *ExchangeOptions) Validate() error {
	if o.Timeout <= 0 {
		return failure.New(failure.InvalidInput, "--timeout must be positive, got %s", o.Timeout)
	}

	source, err := target.NewSource(o.Input())
	if err != nil {
		return err
	}
	o.source = source

	if o.Provider != "" && o.Provider != identity.Auto {
		if _, err := o.detector.Select(o.Provider); err != nil {
			return err
		}
	}

	runner, err := workflow.Detect(o.getenv, o.Out)
	if err != nil {
		return err
	}
	o.runner = runner

	return nil
}

func (o *ExchangeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := exchange.New(exchange.Options{
		Client: exchange.NewClient(
			exchange.WithHTTPClient(o.httpClient),
			exchange.WithUserAgent(userAgent()),
		),
		Detector: o.detector,
		Runner:   o.runner,
		Logger:   o.logger,
		Provider: o.Provider,
	})

	_, err := e.Run(ctx, o.source, o.TargetOptions()...)
	return err
}

// fail reports err on the job's diagnostic channel and returns it prefixed
// with its kind.
func (o *ExchangeOptions) fail(err error) error {
	err = classified(err)
	if o.logger != nil && workflow.IsGitHubActions(o.getenv) {
		o.logger.Error(err.Error())
	}
	return err
}

// classified prefixes err with its failure kind, if it has one.
func classified(err error) error {
	if kind, ok := failure.KindOf(err); ok {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}

// newLogger configures logging for the environment. On GitHub Actions log
// lines are workflow commands on the output stream and debug lines are always
// emitted, since the runner hides them unless step debugging is enabled.
func newLogger(getenv func(string) string, streams iooption.IOStreams, debug bool) *logrus.Logger {
	github := workflow.IsGitHubActions(getenv)

	logger := logrus.New()
	logger.SetFormatter(&workflow.Formatter{GitHub: github})
	logger.SetLevel(logrus.InfoLevel)

	if github {
		logger.SetOutput(streams.Out)
		logger.SetLevel(logrus.DebugLevel)
		return logger
	}

	logger.SetOutput(streams.ErrOut)
	if debug || getenv("RUNNER_DEBUG") == "1" {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
