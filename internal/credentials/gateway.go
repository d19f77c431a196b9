// Copyright Contributors to the Mellea project

// Package credentials implements the Credential Gateway (spec.md §2): it
// resolves a credential reference to secret key-value material, computes
// the in-cluster Secret name for a reference, and checks validity and
// expiration. The storage backend (file-encrypted vs cluster-native
// Secrets) is opaque to the rest of the core — callers only ever see the
// Gateway interface.
package credentials

import (
	"time"

	"github.com/mellea/controlplane/internal/errs"
)

// Material is the resolved key-value payload for one credential, ready to
// be projected into a Kubernetes Secret by the Kubernetes Adapter.
type Material struct {
	Reference string
	Data      map[string][]byte
	ExpiresAt *time.Time
}

// Expired reports whether the credential was already past its expiry at t.
func (m Material) Expired(t time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(t)
}

// Gateway resolves credential references into secret material. Backends
// (file-encrypted-at-rest, cluster-native Secrets, a vault service) each
// implement this the same way the Kubernetes Adapter's two sub-adapters
// share one shape: one interface, swappable concrete types.
type Gateway interface {
	// Resolve returns the key-value material for reference, or a
	// CredentialValidationError-kinded error if reference is unknown.
	Resolve(reference string) (Material, error)

	// SecretName computes the in-cluster Secret name a reference maps
	// to, without fetching its material. Deterministic so the
	// Kubernetes Adapter can build a Job spec that references the
	// Secret by name before the Secret itself is guaranteed to exist.
	SecretName(reference string) string

	// CheckValid resolves reference and returns an error unless the
	// credential exists and is not expired as of now.
	CheckValid(reference string, now time.Time) error
}

// secretNamePrefix namespaces every projected Secret so it cannot
// collide with unrelated cluster objects.
const secretNamePrefix = "mellea-cred-"

// SecretNameFor computes the deterministic in-cluster Secret name for a
// credential reference, shared by every Gateway backend.
func SecretNameFor(reference string) string {
	return secretNamePrefix + sanitize(reference)
}

// sanitize lowercases and replaces any rune outside [a-z0-9-] with '-' so
// the result is always a valid Kubernetes object name.
func sanitize(reference string) string {
	out := make([]rune, 0, len(reference))
	for _, r := range reference {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

// checkValid is the shared validity check every backend's CheckValid
// method delegates to after calling its own Resolve.
func checkValid(reference string, mat Material, err error, now time.Time) error {
	if err != nil {
		return err
	}
	if mat.Expired(now) {
		return errs.Newf(errs.KindCredentialValidation, "credential %q expired at %s", reference, mat.ExpiresAt)
	}
	return nil
}
