// Copyright Contributors to the Mellea project

// Package model holds the control plane's durable entity types and the
// dependency-spec canonicalization contract that backs the build cache.
package model

import "github.com/google/uuid"

// NewID returns an opaque unique token suitable for any entity's id field.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the lowercased first n characters of id, used to build
// deterministic Kubernetes object names from entity ids.
func ShortID(id string, n int) string {
	lower := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		lower = append(lower, c)
	}
	if n > len(lower) {
		n = len(lower)
	}
	return string(lower[:n])
}
