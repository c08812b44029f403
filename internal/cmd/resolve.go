package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/pyx-auth/internal/target"
)

type ResolveOptions struct {
	getenv func(string) string
	source target.Source

	InputOptions

	iooption.IOStreams
}

var (
	resolveLong = templates.LongDesc(`
		Resolve the upload URL and print the registry endpoints a token
		exchange would contact, without performing any network requests.`)

	resolveExample = templates.Examples(`
		# Show the endpoints for the default registry of a workspace
		pyx-auth resolve --workspace acme

		# Show the upload URL configured for an index
		pyx-auth resolve --index pyx --project-file ./pyproject.toml`)
)

func NewResolveOptions(streams iooption.IOStreams) *ResolveOptions {
	return &ResolveOptions{
		getenv:    os.Getenv,
		IOStreams: streams,
	}
}

func NewResolveCommand(o *ResolveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "resolve",
		DisableFlagsInUseLine: true,
		Short:                 "Print the upload URL and registry endpoints",
		Long:                  resolveLong,
		Example:               resolveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return classified(err)
			}
			if err := o.Validate(); err != nil {
				return classified(err)
			}
			return classified(o.Run())
		},
	}

	o.InputOptions.AddFlags(cmd.Flags())

	return cmd
}

func (o *ResolveOptions) Complete(cmd *cobra.Command, args []string) error {
	return applyEnv(cmd, o.getenv)
}

func (o *ResolveOptions) Validate() error {
	source, err := target.NewSource(o.Input())
	if err != nil {
		return err
	}
	o.source = source
	return nil
}

func (o *ResolveOptions) Run() error {
	t, err := target.Resolve(o.source, o.TargetOptions()...)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "source:    %s\n", target.Describe(o.source))
	fmt.Fprintf(o.Out, "upload:    %s\n", t.UploadURL)
	if t.Audience != "" {
		fmt.Fprintf(o.Out, "audience:  %s\n", t.Audience)
	} else {
		fmt.Fprintf(o.Out, "audience:  %s\n", t.AudienceURL)
	}
	fmt.Fprintf(o.Out, "mint:      %s\n", t.MintURL)
	return nil
}
