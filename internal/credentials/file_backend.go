// Copyright Contributors to the Mellea project

package credentials

import (
	"time"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/store"
)

// record is the persisted shape of one credential in the file-backed
// Store. Encryption-at-rest is an external collaborator's concern
// (spec.md §1 Out of scope); this backend only has to round-trip
// whatever material it is handed.
type record struct {
	Reference string            `json:"reference"`
	Data      map[string][]byte `json:"data"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// GetID implements store.Identifiable, keyed by the credential reference
// rather than a generated id: references are the stable external handle
// every caller already has.
func (r record) GetID() string { return r.Reference }

// FileGateway is a Gateway backed by the same atomic JSON Store every
// other core service uses. It stands in for whatever encrypted-at-rest
// backend the external collaborator actually runs in production; the
// core only ever depends on the Gateway interface.
type FileGateway struct {
	store *store.Store[record]
}

// NewFileGateway opens (or creates) the credential store at path.
func NewFileGateway(path string) (*FileGateway, error) {
	st, err := store.New[record](path, "credentials")
	if err != nil {
		return nil, err
	}
	return &FileGateway{store: st}, nil
}

// Put upserts the material for reference. Used by tests and by whatever
// admin path provisions credentials; the Run Executor never calls this.
func (g *FileGateway) Put(reference string, data map[string][]byte, expiresAt *time.Time) error {
	rec := record{Reference: reference, Data: data, ExpiresAt: expiresAt}
	if _, err := g.store.Get(reference); err == nil {
		return g.store.Update(reference, rec)
	}
	return g.store.Create(rec)
}

// Resolve implements Gateway.
func (g *FileGateway) Resolve(reference string) (Material, error) {
	rec, err := g.store.Get(reference)
	if err != nil {
		return Material{}, errs.Newf(errs.KindCredentialValidation, "credential %q not found", reference)
	}
	return Material{Reference: rec.Reference, Data: rec.Data, ExpiresAt: rec.ExpiresAt}, nil
}

// SecretName implements Gateway.
func (g *FileGateway) SecretName(reference string) string {
	return SecretNameFor(reference)
}

// CheckValid implements Gateway.
func (g *FileGateway) CheckValid(reference string, now time.Time) error {
	mat, err := g.Resolve(reference)
	return checkValid(reference, mat, err, now)
}
