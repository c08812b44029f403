package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tomasbasham/pyx-auth/internal/target"
)

// inputEnvPrefix names the environment variables the composite action uses
// to pass its inputs, e.g. GHA_PYX_INPUT_WORKSPACE.
const inputEnvPrefix = "GHA_PYX_INPUT_"

// InputOptions are the target inputs shared by every command.
type InputOptions struct {
	URL         string
	Workspace   string
	Registry    string
	Index       string
	APIBase     string
	ProjectFile string
	Audience    string
}

// AddFlags binds the inputs to flags.
func (o *InputOptions) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.URL, "url", "", "Upload URL to mint a token for")
	flags.StringVar(&o.Workspace, "workspace", "", "Workspace to construct the upload URL from")
	flags.StringVar(&o.Registry, "registry", "", "Registry within the workspace (default: the workspace default registry)")
	flags.StringVar(&o.Index, "index", "", "Name of a [[tool.uv.index]] entry whose publish-url is the upload URL")
	flags.StringVar(&o.APIBase, "api-base", target.DefaultAPIBase, "API base used with --workspace")
	flags.StringVar(&o.ProjectFile, "project-file", target.DefaultProjectFile, "Project file read with --index")
	flags.StringVar(&o.Audience, "audience", "", "OIDC audience to request (default: discovered from the registry)")
}

// inputEnv maps flag names to the action input they fall back to.
var inputEnv = map[string]string{
	"url":          "URL",
	"workspace":    "WORKSPACE",
	"registry":     "REGISTRY",
	"index":        "INDEX",
	"api-base":     "INTERNAL_API_BASE",
	"project-file": "PROJECT_FILE",
	"audience":     "AUDIENCE",
	"provider":     "PROVIDER",
}

// applyEnv fills every flag the user did not set explicitly from its action
// input environment variable, when that variable is non-empty.
func applyEnv(cmd *cobra.Command, getenv func(string) string) error {
	flags := cmd.Flags()
	for name, input := range inputEnv {
		flag := flags.Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}
		value := strings.TrimSpace(getenv(inputEnvPrefix + input))
		if value == "" {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Input converts the options into raw resolver input.
func (o *InputOptions) Input() target.Input {
	return target.Input{
		URL:         o.URL,
		Workspace:   o.Workspace,
		Registry:    o.Registry,
		Index:       o.Index,
		APIBase:     o.APIBase,
		ProjectFile: o.ProjectFile,
	}
}

// TargetOptions returns the resolver options implied by the inputs.
func (o *InputOptions) TargetOptions() []target.Option {
	if strings.TrimSpace(o.Audience) == "" {
		return nil
	}
	return []target.Option{target.WithAudience(o.Audience)}
}
