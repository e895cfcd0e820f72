package store

import (
	"sort"
	"sync"
	"time"

	"github.com/conceptmesh/mesh-go/pkg/concept"
)

/*
Store owns the concept mesh: nodes, edges and versioned snapshots. It has
no knowledge of mutation policy - all writes arrive through the Writer and
StabilityWriter handles returned by New, which exist exactly once per
store. Holding the only write paths in capability handles (rather than
exported methods) is what makes the single-writer invariant structural:
whoever is not handed the Writer cannot mutate, full stop.
*/
type Store struct {
	mu       sync.RWMutex
	concepts map[string]*concept.Concept
	// edges is keyed from → (to + "|" + relation) → edge
	edges   map[string]map[string]*concept.Edge
	version uint64
}

/*
New creates an empty store and its two write capabilities. The Writer is
intended for the mutation gateway (and archive replay); the
StabilityWriter is the narrow bypass handed to the spectral monitor,
able to touch nothing but stability scores.
*/
func New() (*Store, *Writer, *StabilityWriter) {
	s := &Store{
		concepts: make(map[string]*concept.Concept),
		edges:    make(map[string]map[string]*concept.Edge),
	}
	return s, &Writer{s: s}, &StabilityWriter{s: s}
}

/*
Get returns a copy of the concept with the given id.
*/
func (s *Store) Get(id string) (*concept.Concept, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

/*
Neighbors lists the outgoing edges of a concept, sorted by destination id
then relation so traversal order is reproducible.
*/
func (s *Store) Neighbors(id string) []concept.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]concept.Edge, 0, len(s.edges[id]))
	for _, e := range s.edges[id] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Relation < out[j].Relation
	})
	return out
}

/*
QueryByPhase returns copies of all non-archived concepts whose phase lies
within radius of the given angle, sorted by id.
*/
func (s *Store) QueryByPhase(phase, radius float64) []*concept.Concept {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*concept.Concept
	for _, c := range s.concepts {
		if c.Archived {
			continue
		}
		if concept.PhaseDistance(c.Phase, phase) <= radius {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of concepts, archived included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.concepts)
}

// Version reports the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

/*
Snapshot is an immutable, versioned view of the mesh. Readers compute off
this without ever touching live state; the spectral monitor in particular
never holds a store lock while it works.
*/
type Snapshot struct {
	Version  uint64                      `json:"version"`
	TakenAt  time.Time                   `json:"taken_at"`
	Concepts map[string]*concept.Concept `json:"concepts"`
	Edges    map[string][]concept.Edge   `json:"edges"`
}

/*
Snapshot deep-copies the current committed state.
*/
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Version:  s.version,
		TakenAt:  time.Now().UTC(),
		Concepts: make(map[string]*concept.Concept, len(s.concepts)),
		Edges:    make(map[string][]concept.Edge, len(s.edges)),
	}
	for id, c := range s.concepts {
		snap.Concepts[id] = c.Clone()
	}
	for from, m := range s.edges {
		list := make([]concept.Edge, 0, len(m))
		for _, e := range m {
			list = append(list, *e)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].To != list[j].To {
				return list[i].To < list[j].To
			}
			return list[i].Relation < list[j].Relation
		})
		snap.Edges[from] = list
	}
	return snap
}
