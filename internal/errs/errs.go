// Copyright Contributors to the Mellea project

// Package errs defines the control plane's discriminated error taxonomy.
//
// Every error the core surfaces carries a Kind so callers (and, at the
// system boundary, the external HTTP facade) can discriminate on it
// without string matching. See spec §7 for the full policy per kind.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure the core can surface.
type Kind string

const (
	// KindInvalidStateTransition is raised by a state machine when a
	// requested transition is not in the allowed set. Never auto-corrected.
	KindInvalidStateTransition Kind = "InvalidStateTransition"

	// KindNotFound is raised for a missing Run/Environment/Artifact/Policy/
	// Job/cache entry.
	KindNotFound Kind = "NotFound"

	// KindEnvironmentNotReady is raised when an Environment lacks a ready
	// image tag at submission time.
	KindEnvironmentNotReady Kind = "EnvironmentNotReady"

	// KindCredentialValidation is raised when a required credential is
	// missing or expired at submission time. The Run is never modified.
	KindCredentialValidation Kind = "CredentialValidationError"

	// KindQuotaExceeded is raised when collecting an artifact would push a
	// user's usage over their quota.
	KindQuotaExceeded Kind = "QuotaExceeded"

	// KindArtifactTooLarge is raised when a single artifact exceeds the
	// configured maximum size.
	KindArtifactTooLarge Kind = "ArtifactTooLarge"

	// KindImageBuildError is captured into BuildResult.ErrorMessage. No code
	// in this module sets the program's ImageBuildStatus.
	KindImageBuildError Kind = "ImageBuildError"

	// KindRegistryPush is a non-fatal registry push failure; logged as a
	// warning, never fails an otherwise-successful build.
	KindRegistryPush Kind = "RegistryPushError"

	// KindRegistryPull is a non-fatal registry pull failure.
	KindRegistryPull Kind = "RegistryPullError"

	// KindCluster wraps a transport/API error talking to Kubernetes.
	KindCluster Kind = "ClusterError"

	// KindControllerCycle marks a per-cycle controller failure; the
	// controller logs it and keeps looping.
	KindControllerCycle Kind = "ControllerCycleError"

	// KindJobCreation is raised when a Kubernetes Job fails to create.
	KindJobCreation Kind = "JobCreationFailure"

	// KindTimeout is raised by WaitForBuild when the deadline elapses
	// before the build reaches a terminal state.
	KindTimeout Kind = "Timeout"
)

// Error is the structured payload every core error renders as:
// {kind, message, context}. It implements the standard error interface.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to a wrapped cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a bare Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// WithContext attaches quantitative context (current usage, limit,
// requested, etc.) and returns the same Error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
