// Package workflow talks to the CI job runner that hosts an invocation: it
// emits named step outputs, registers values for log masking and formats log
// lines as workflow commands.
package workflow

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tomasbasham/pyx-auth/internal/failure"
	"github.com/tomasbasham/pyx-auth/internal/secret"
)

// Runner exposes values to later steps of the same job.
type Runner interface {
	// SetOutput publishes a named step output.
	SetOutput(name, value string) error

	// AddMask asks the runner to redact value from all subsequent log
	// output.
	AddMask(value secret.String)
}

// Getenv looks up an environment variable, like os.Getenv.
type Getenv func(key string) string

// IsGitHubActions reports whether the process runs inside a GitHub Actions
// job.
func IsGitHubActions(getenv Getenv) bool {
	return getenv("GITHUB_ACTIONS") == "true"
}

// Detect returns the runner for the current environment. Workflow commands
// are written to out.
func Detect(getenv Getenv, out io.Writer) (Runner, error) {
	if IsGitHubActions(getenv) {
		return NewGitHubRunner(out, getenv("GITHUB_OUTPUT"))
	}
	return NewPlainRunner(out), nil
}

// GitHubRunner appends outputs to the file named by GITHUB_OUTPUT and masks
// values with the add-mask workflow command.
type GitHubRunner struct {
	out        io.Writer
	outputPath string
}

// NewGitHubRunner creates a GitHubRunner. outputPath is the value of
// GITHUB_OUTPUT.
func NewGitHubRunner(out io.Writer, outputPath string) (*GitHubRunner, error) {
	if outputPath == "" {
		return nil, failure.New(failure.InvalidInput, "missing GITHUB_OUTPUT env var")
	}
	return &GitHubRunner{out: out, outputPath: outputPath}, nil
}

// SetOutput appends name and value using the multi-line delimiter form, so
// that values can never inject additional outputs.
func (r *GitHubRunner) SetOutput(name, value string) error {
	delimiter := "ghadelimiter_" + uuid.New().String()
	if strings.Contains(name, delimiter) || strings.Contains(value, delimiter) {
		return fmt.Errorf("workflow: output %q collides with delimiter", name)
	}

	f, err := os.OpenFile(r.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("workflow: failed to open output file %q: %w", r.outputPath, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter); err != nil {
		return fmt.Errorf("workflow: failed to write output %q: %w", name, err)
	}
	return f.Close()
}

func (r *GitHubRunner) AddMask(value secret.String) {
	if value.IsZero() {
		return
	}
	fmt.Fprintf(r.out, "::add-mask::%s\n", escapeData(value.Reveal()))
}

// PlainRunner is used outside a recognised CI runner. Outputs are written as
// name=value lines; there is no log masking facility to register with.
type PlainRunner struct {
	out io.Writer
}

func NewPlainRunner(out io.Writer) *PlainRunner {
	return &PlainRunner{out: out}
}

func (r *PlainRunner) SetOutput(name, value string) error {
	if _, err := fmt.Fprintf(r.out, "%s=%s\n", name, value); err != nil {
		return fmt.Errorf("workflow: failed to write output %q: %w", name, err)
	}
	return nil
}

func (r *PlainRunner) AddMask(secret.String) {}

// escapeData escapes a workflow command payload.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}
