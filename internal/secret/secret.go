// Package secret provides a string type for credentials that must never be
// rendered into logs or error messages by accident. Formatting a String with
// any fmt verb, marshalling it to JSON or text, or logging it yields a fixed
// placeholder; the raw value is only available through Reveal.
package secret

import (
	"fmt"
	"strings"
)

// Redacted is rendered in place of a secret value.
const Redacted = "[REDACTED]"

// String holds a sensitive value such as an OIDC identity assertion or an
// upload token.
type String struct {
	value string
}

// New wraps value as a secret.
func New(value string) String {
	return String{value: value}
}

// Reveal returns the raw value. Call sites are the only places a secret
// leaves this package, which keeps them easy to audit.
func (s String) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s String) IsZero() bool {
	return s.value == ""
}

func (s String) String() string {
	return Redacted
}

func (s String) GoString() string {
	return "secret.String(" + Redacted + ")"
}

// Format implements fmt.Formatter so that %s, %v, %q, %x and friends all
// render the placeholder.
func (s String) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", Redacted)
	default:
		fmt.Fprint(f, Redacted)
	}
}

func (s String) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}

func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

// Scrub replaces every occurrence of each non-empty secret in text with the
// placeholder.
func Scrub(text string, secrets ...String) string {
	for _, s := range secrets {
		if s.value == "" {
			continue
		}
		text = strings.ReplaceAll(text, s.value, Redacted)
	}
	return text
}
