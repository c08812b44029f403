package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Exchange a CI job's ambient OIDC identity for a short-lived pyx upload
		token using trusted publishing.`)

	rootExamples = templates.Examples(`
		# Mint a token for the default registry of a workspace
		pyx-auth exchange --workspace acme

		# Show the endpoints an upload URL resolves to
		pyx-auth resolve --url https://api.pyx.dev/v1/upload/acme/main`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// PyxAuthOptions defines the options for the `pyx-auth` command.
type PyxAuthOptions struct {
	iooption.IOStreams
}

// NewPyxAuthOptions provides an initialised PyxAuthOptions instance.
func NewPyxAuthOptions(streams iooption.IOStreams) *PyxAuthOptions {
	return &PyxAuthOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `pyx-auth` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewPyxAuthOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `pyx-auth` command and its nested
// children.
func NewRootCommandWithArgs(o *PyxAuthOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "pyx-auth [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Trusted publishing credential broker for pyx",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewExchangeCommand(NewExchangeOptions(o.IOStreams)))
	cmd.AddCommand(NewResolveCommand(NewResolveOptions(o.IOStreams)))

	// The globlal normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}

func userAgent() string {
	if version == "" {
		return "pyx-auth"
	}
	return "pyx-auth/" + version
}
