// Package failure classifies the terminal errors of a token exchange. Every
// error surfaced to the operator carries exactly one Kind, which the CLI
// renders ahead of the message.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind string

const (
	// InvalidInput covers bad, conflicting or missing inputs. It is always
	// raised before any network I/O.
	InvalidInput Kind = "InvalidInput"

	// ConfigUnreadable, IndexNotFound and MissingPublishURL only occur when
	// the upload URL is looked up from a named package index.
	ConfigUnreadable  Kind = "ConfigUnreadable"
	IndexNotFound     Kind = "IndexNotFound"
	MissingPublishURL Kind = "MissingPublishUrl"

	IdentityProviderError Kind = "IdentityProviderError"
	RegistryRejected      Kind = "RegistryRejected"
	NetworkError          Kind = "NetworkError"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, prefixing it with a formatted message.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
