package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/conceptmesh/mesh-go/pkg/archive"
	"github.com/conceptmesh/mesh-go/pkg/concept"
	"github.com/conceptmesh/mesh-go/pkg/errors"
)

// CreatePayload is the archived form of a node creation. It carries the
// full concept so replay needs nothing but the frame.
type CreatePayload struct {
	Concept concept.Concept `json:"concept"`
}

// MergePayload is the archived form of a provenance merge onto an
// existing fingerprint. ContextPhase is the semantic position of the
// context the concept was just used in; the merge pulls the node's phase
// toward it by one energy-weighted step. Carrying the value in the payload
// keeps replay deterministic.
type MergePayload struct {
	ID           string             `json:"id"`
	Provenance   concept.Provenance `json:"provenance"`
	EnergyDelta  float64            `json:"energy_delta"`
	ContextPhase *float64           `json:"context_phase,omitempty"`
}

// EdgePayload is the archived form of an edge creation or weight bump.
type EdgePayload struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Relation    string  `json:"relation"`
	WeightDelta float64 `json:"weight_delta"`
}

// StabilityPayload is the archived form of one spectral monitor cycle's
// score writes.
type StabilityPayload struct {
	WindowTS time.Time          `json:"window_ts"`
	Scores   map[string]float64 `json:"scores"`
}

// ArchiveConceptPayload soft-deletes a node. Concepts are never removed.
type ArchiveConceptPayload struct {
	ID string `json:"id"`
}

/*
Writer is the store's only general-purpose mutation capability. The
mutation gateway owns it at runtime; archive replay borrows it to rebuild
state. Every mutation is expressed as an (op, payload) pair, the same
bytes the audit log records, so applying the archived frames in order is
guaranteed to reproduce the live state.
*/
type Writer struct {
	s *Store
}

/*
Apply decodes and applies one mutation. It is the single entry point for
both live writes and replay.
*/
func (w *Writer) Apply(op archive.Op, payload []byte) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	switch op {
	case archive.OpCreate:
		var p CreatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode create payload: %w", err)
		}
		c := p.Concept
		w.s.concepts[c.ID] = c.Clone()
	case archive.OpMerge:
		var p MergePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode merge payload: %w", err)
		}
		c, ok := w.s.concepts[p.ID]
		if !ok {
			return errors.ErrConceptNotFound.WithMessagef("merge target %s not found", p.ID)
		}
		c.Provenance = append(c.Provenance, p.Provenance)
		if p.ContextPhase != nil {
			c.Phase = concept.PhaseMean(c.Phase, c.Energy, *p.ContextPhase, p.EnergyDelta)
		}
		c.Energy += p.EnergyDelta
	case archive.OpEdgeUpdate:
		var p EdgePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode edge payload: %w", err)
		}
		key := p.To + "|" + p.Relation
		m, ok := w.s.edges[p.From]
		if !ok {
			m = make(map[string]*concept.Edge)
			w.s.edges[p.From] = m
		}
		if e, ok := m[key]; ok {
			e.Weight += p.WeightDelta
		} else {
			m[key] = &concept.Edge{From: p.From, To: p.To, Relation: p.Relation, Weight: p.WeightDelta}
		}
	case archive.OpStabilityUpdate:
		var p StabilityPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode stability payload: %w", err)
		}
		applyScores(w.s, p.Scores)
	case archive.OpArchiveConcept:
		var p ArchiveConceptPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode archive payload: %w", err)
		}
		c, ok := w.s.concepts[p.ID]
		if !ok {
			return errors.ErrConceptNotFound.WithMessagef("archive target %s not found", p.ID)
		}
		c.Archived = true
	default:
		return fmt.Errorf("unknown op %q", op)
	}

	w.s.version++
	return nil
}

// Exists reports whether a fingerprint is already present. The gateway
// consults this inside its per-concept critical section to pick
// create-vs-merge.
func (w *Writer) Exists(id string) bool {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	_, ok := w.s.concepts[id]
	return ok
}

/*
StabilityWriter can overwrite stability scores and nothing else. It is the
one sanctioned bypass of the mutation gateway, scoped to a single numeric
field per node.
*/
type StabilityWriter struct {
	s *Store
}

/*
SetScores overwrites the stability score of each listed concept. Unknown
ids are skipped: a concept may have been proposed and archived between the
snapshot the monitor computed from and this write.
*/
func (sw *StabilityWriter) SetScores(scores map[string]float64) {
	sw.s.mu.Lock()
	defer sw.s.mu.Unlock()
	applyScores(sw.s, scores)
	sw.s.version++
}

func applyScores(s *Store, scores map[string]float64) {
	for id, score := range scores {
		if c, ok := s.concepts[id]; ok {
			c.Stability = clamp01(score)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
