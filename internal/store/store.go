// Copyright Contributors to the Mellea project

// Package store implements the generic keyed-document store every
// stateful service in the control plane is built on (spec.md §4.1). Each
// collection lives in its own JSON file under data_dir/metadata, holding
// a single document `{collection_key: [...entities...]}`; rewrites are
// atomic via write-temp-then-rename.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/mellea/controlplane/internal/errs"
)

// Identifiable is implemented by every entity kept in a Store.
type Identifiable interface {
	GetID() string
}

// Store is a generic, file-backed, in-process-atomic document store for
// a single collection of type T.
type Store[T Identifiable] struct {
	mu            sync.Mutex
	path          string
	collectionKey string
	docs          map[string]T
}

type fileDoc[T any] map[string][]T

// New opens (or initializes) the store backing collectionKey at path.
// path's parent directories are created if missing.
func New[T Identifiable](path, collectionKey string) (*Store[T], error) {
	s := &Store[T]{
		path:          path,
		collectionKey: collectionKey,
		docs:          make(map[string]T),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[T]) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindCluster, err, "read store file "+s.path)
	}
	if len(data) == 0 {
		return nil
	}
	var doc fileDoc[T]
	if err := json.Unmarshal(data, &doc); err != nil {
		return errs.Wrap(errs.KindCluster, err, "decode store file "+s.path)
	}
	for _, item := range doc[s.collectionKey] {
		s.docs[item.GetID()] = item
	}
	return nil
}

// persist must be called with s.mu held.
func (s *Store[T]) persist() error {
	items := make([]T, 0, len(s.docs))
	for _, v := range s.docs {
		items = append(items, v)
	}
	doc := fileDoc[T]{s.collectionKey: items}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindCluster, err, "encode store file "+s.path)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindCluster, err, "create store dir "+dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindCluster, err, "create temp store file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindCluster, err, "write temp store file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindCluster, err, "close temp store file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindCluster, err, "rename temp store file")
	}
	return nil
}

// Create adds doc, failing if its id already exists.
func (s *Store[T]) Create(doc T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.GetID()]; exists {
		return errs.Newf(errs.KindNotFound, "entity %q already exists", doc.GetID())
	}
	s.docs[doc.GetID()] = doc
	if err := s.persist(); err != nil {
		delete(s.docs, doc.GetID())
		return err
	}
	return nil
}

// Get returns the document with the given id.
func (s *Store[T]) Get(id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		var zero T
		return zero, errs.Newf(errs.KindNotFound, "entity %q not found", id)
	}
	return doc, nil
}

// Update replaces the document with the given id.
func (s *Store[T]) Update(id string, doc T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.docs[id]
	if !ok {
		return errs.Newf(errs.KindNotFound, "entity %q not found", id)
	}
	s.docs[id] = doc
	if err := s.persist(); err != nil {
		s.docs[id] = prev
		return err
	}
	return nil
}

// Delete removes the document with the given id.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.docs[id]
	if !ok {
		return errs.Newf(errs.KindNotFound, "entity %q not found", id)
	}
	delete(s.docs, id)
	if err := s.persist(); err != nil {
		s.docs[id] = prev
		return err
	}
	return nil
}

// ListAll returns every document in the collection, order unspecified.
func (s *Store[T]) ListAll() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]T, 0, len(s.docs))
	for _, v := range s.docs {
		out = append(out, v)
	}
	return out
}

// Find returns every document matching predicate.
func (s *Store[T]) Find(predicate func(T) bool) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []T
	for _, v := range s.docs {
		if predicate(v) {
			out = append(out, v)
		}
	}
	return out
}
