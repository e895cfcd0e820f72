package store

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/conceptmesh/mesh-go/pkg/archive"
	"github.com/conceptmesh/mesh-go/pkg/concept"
)

func mustCreate(t *testing.T, w *Writer, label, source string) *concept.Concept {
	t.Helper()
	c := concept.New(concept.Proposal{ConceptText: label, Source: source}, time.Now().UTC())
	payload, err := json.Marshal(CreatePayload{Concept: *c})
	assert.NoError(t, err)
	assert.NoError(t, w.Apply(archive.OpCreate, payload))
	return c
}

func mustRelate(t *testing.T, w *Writer, from, to, relation string, delta float64) {
	t.Helper()
	payload, err := json.Marshal(EdgePayload{From: from, To: to, Relation: relation, WeightDelta: delta})
	assert.NoError(t, err)
	assert.NoError(t, w.Apply(archive.OpEdgeUpdate, payload))
}

func TestNew(t *testing.T) {
	s, w, sw := New()
	assert.NotNil(t, s)
	assert.NotNil(t, w)
	assert.NotNil(t, sw)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(0), s.Version())
}

func TestApplyCreateAndGet(t *testing.T) {
	s, w, _ := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	got, ok := s.Get(c.ID)
	assert.True(t, ok)
	assert.Equal(t, "gravity", got.Label)
	assert.Equal(t, uint64(1), s.Version())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestApplyMergeAppendsProvenance(t *testing.T) {
	s, w, _ := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	payload, _ := json.Marshal(MergePayload{
		ID:          c.ID,
		Provenance:  concept.Provenance{Source: "doc-2", Timestamp: time.Now().UTC()},
		EnergyDelta: 1,
	})
	assert.NoError(t, w.Apply(archive.OpMerge, payload))

	got, _ := s.Get(c.ID)
	assert.Len(t, got.Provenance, 2)
	assert.Equal(t, 2.0, got.Energy)
	assert.Equal(t, 1, s.Len())
}

func TestApplyMergeUnknownTarget(t *testing.T) {
	_, w, _ := New()
	payload, _ := json.Marshal(MergePayload{ID: "nope", EnergyDelta: 1})
	assert.Error(t, w.Apply(archive.OpMerge, payload))
}

func TestEdgeWeightIsAdditive(t *testing.T) {
	s, w, _ := New()
	a := mustCreate(t, w, "gravity", "doc-1")
	b := mustCreate(t, w, "mass", "doc-1")

	mustRelate(t, w, a.ID, b.ID, "related_to", 1)
	mustRelate(t, w, a.ID, b.ID, "related_to", 0.5)

	edges := s.Neighbors(a.ID)
	assert.Len(t, edges, 1)
	assert.Equal(t, 1.5, edges[0].Weight)
	assert.Empty(t, s.Neighbors(b.ID))
}

func TestNeighborsAreSorted(t *testing.T) {
	s, w, _ := New()
	a := mustCreate(t, w, "gravity", "doc-1")
	b := mustCreate(t, w, "mass", "doc-1")
	c := mustCreate(t, w, "energy", "doc-1")

	mustRelate(t, w, a.ID, b.ID, "related_to", 1)
	mustRelate(t, w, a.ID, c.ID, "related_to", 1)

	edges := s.Neighbors(a.ID)
	assert.Len(t, edges, 2)
	assert.True(t, edges[0].To < edges[1].To)
}

func TestQueryByPhase(t *testing.T) {
	s, w, _ := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	hits := s.QueryByPhase(c.Phase, 0.01)
	assert.Len(t, hits, 1)
	assert.Equal(t, c.ID, hits[0].ID)

	// opposite side of the circle
	far := math.Mod(c.Phase+math.Pi, 2*math.Pi)
	assert.Empty(t, s.QueryByPhase(far, 0.5))
}

func TestQueryByPhaseSkipsArchived(t *testing.T) {
	s, w, _ := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	payload, _ := json.Marshal(ArchiveConceptPayload{ID: c.ID})
	assert.NoError(t, w.Apply(archive.OpArchiveConcept, payload))

	assert.Empty(t, s.QueryByPhase(c.Phase, 0.1))
	got, ok := s.Get(c.ID)
	assert.True(t, ok, "archived concepts are never hard-deleted")
	assert.True(t, got.Archived)
}

func TestStabilityWriterOnlyTouchesScores(t *testing.T) {
	s, w, sw := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	sw.SetScores(map[string]float64{c.ID: 0.25, "unknown": 0.5})

	got, _ := s.Get(c.ID)
	assert.Equal(t, 0.25, got.Stability)
	assert.Equal(t, "gravity", got.Label)
	assert.Len(t, got.Provenance, 1)
	assert.Equal(t, 1, s.Len())
}

func TestSetScoresClamps(t *testing.T) {
	s, w, sw := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	sw.SetScores(map[string]float64{c.ID: 1.7})
	got, _ := s.Get(c.ID)
	assert.Equal(t, 1.0, got.Stability)

	sw.SetScores(map[string]float64{c.ID: -0.3})
	got, _ = s.Get(c.ID)
	assert.Equal(t, 0.0, got.Stability)
}

func TestSnapshotIsolation(t *testing.T) {
	s, w, _ := New()
	c := mustCreate(t, w, "gravity", "doc-1")

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)

	// mutate after the snapshot is taken
	payload, _ := json.Marshal(MergePayload{
		ID:          c.ID,
		Provenance:  concept.Provenance{Source: "doc-2", Timestamp: time.Now().UTC()},
		EnergyDelta: 1,
	})
	assert.NoError(t, w.Apply(archive.OpMerge, payload))

	assert.Len(t, snap.Concepts[c.ID].Provenance, 1, "snapshot must not observe later writes")
	live, _ := s.Get(c.ID)
	assert.Len(t, live.Provenance, 2)
}

func TestSaveAndRestoreRoundTrip(t *testing.T) {
	s, w, sw := New()
	a := mustCreate(t, w, "gravity", "doc-1")
	b := mustCreate(t, w, "mass", "doc-1")
	mustRelate(t, w, a.ID, b.ID, "related_to", 2)
	sw.SetScores(map[string]float64{a.ID: 0.8})

	path := filepath.Join(t.TempDir(), "mesh.snapshot.json")
	assert.NoError(t, s.SaveSnapshot(path))

	s2, w2, _ := New()
	assert.NoError(t, w2.Restore(path))

	assert.Equal(t, s.Version(), s2.Version())
	got, ok := s2.Get(a.ID)
	assert.True(t, ok)
	assert.Equal(t, 0.8, got.Stability)
	edges := s2.Neighbors(a.ID)
	assert.Len(t, edges, 1)
	assert.Equal(t, 2.0, edges[0].Weight)
}
