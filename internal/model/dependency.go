// Copyright Contributors to the Mellea project

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// DependencySpecSource identifies where a DependencySpec was derived from.
type DependencySpecSource string

const (
	SourcePyproject    DependencySpecSource = "pyproject"
	SourceRequirements DependencySpecSource = "requirements"
	SourceManual       DependencySpecSource = "manual"
)

// DefaultInterpreterVersion is used whenever a DependencySpec omits one.
const DefaultInterpreterVersion = "3.12"

// PackageRef is a single dependency entry within a DependencySpec.
type PackageRef struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Extras  []string `json:"extras,omitempty"`
}

// DependencySpec is a program's declared dependency set. Two
// DependencySpecs that are permutations/case-variants of one another with
// identical versions, extras, and interpreter version must canonicalize to
// identical bytes — this is the contract the build cache key rests on.
type DependencySpec struct {
	Source             DependencySpecSource `json:"source"`
	Packages           []PackageRef         `json:"packages"`
	InterpreterVersion string               `json:"interpreter_version,omitempty"`
}

// canonicalPackage is the wire shape used for hashing: lowercased name,
// empty-string version when absent, sorted extras. Field order here is
// fixed and must never change — it is part of the cache-key identity.
type canonicalPackage struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Extras  []string `json:"extras"`
}

type canonicalSpec struct {
	InterpreterVersion string             `json:"interpreter_version"`
	Packages           []canonicalPackage `json:"packages"`
}

// Canonicalize produces the deterministic byte layout described in
// spec.md §4.4: interpreter version defaulted, package names lowercased,
// extras sorted, packages sorted by lowercased name, version empty-string
// when absent, encoded with no insignificant whitespace and no random key
// order (achieved by building the struct with json tags in a fixed order
// rather than round-tripping through a map).
func (d DependencySpec) Canonicalize() []byte {
	interpreter := d.InterpreterVersion
	if interpreter == "" {
		interpreter = DefaultInterpreterVersion
	}

	packages := make([]canonicalPackage, 0, len(d.Packages))
	for _, p := range d.Packages {
		extras := append([]string(nil), p.Extras...)
		sort.Strings(extras)
		packages = append(packages, canonicalPackage{
			Name:    strings.ToLower(p.Name),
			Version: p.Version,
			Extras:  extras,
		})
	}
	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})

	// json.Marshal on a struct (not a map) preserves field declaration
	// order and emits no extra whitespace, which is exactly the stable
	// encoding the cache key depends on.
	out, err := json.Marshal(canonicalSpec{
		InterpreterVersion: interpreter,
		Packages:           packages,
	})
	if err != nil {
		// canonicalSpec only contains strings and slices of strings; this
		// can only fail on an encoding invariant violation, which would be
		// a programming error, not a runtime condition to recover from.
		panic("model: failed to canonicalize dependency spec: " + err.Error())
	}
	return out
}

// CacheKey returns the hex SHA-256 digest of the canonical form — the
// identity of a reusable dependency image layer.
func (d DependencySpec) CacheKey() string {
	sum := sha256.Sum256(d.Canonicalize())
	return hex.EncodeToString(sum[:])
}
