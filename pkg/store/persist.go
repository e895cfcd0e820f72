package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conceptmesh/mesh-go/pkg/concept"
)

/*
SaveSnapshot persists the current state as a JSON snapshot file. The file
is advisory, a cache for fast restart; the audit archive remains the
source of truth. Written via a temp file + rename so a crash mid-write
never leaves a torn snapshot.
*/
func (s *Store) SaveSnapshot(path string) error {
	snap := s.Snapshot()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

/*
Restore loads a snapshot file into the store, replacing current state.
Meant to run once at startup before any writer is active.
*/
func (w *Writer) Restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	w.s.concepts = make(map[string]*concept.Concept, len(snap.Concepts))
	for id, c := range snap.Concepts {
		w.s.concepts[id] = c.Clone()
	}
	w.s.edges = make(map[string]map[string]*concept.Edge, len(snap.Edges))
	for from, list := range snap.Edges {
		m := make(map[string]*concept.Edge, len(list))
		for _, e := range list {
			e := e
			m[e.To+"|"+e.Relation] = &e
		}
		w.s.edges[from] = m
	}
	w.s.version = snap.Version

	return nil
}
