package concept

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "gravity", Normalize("  Gravity "))
	assert.Equal(t, "general relativity", Normalize("General\t Relativity"))
}

func TestFingerprintIsContentAddressed(t *testing.T) {
	a := Fingerprint("Gravity")
	b := Fingerprint("  gravity ")
	c := Fingerprint("entropy")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestPhaseOfIsDeterministicAndBounded(t *testing.T) {
	fp := Fingerprint("gravity")
	p1 := PhaseOf(fp)
	p2 := PhaseOf(fp)

	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, 0.0)
	assert.Less(t, p1, 2*math.Pi)
}

func TestPhaseDistanceWraps(t *testing.T) {
	assert.InDelta(t, 0.2, PhaseDistance(0.1, 2*math.Pi-0.1), 1e-9)
	assert.InDelta(t, 0, PhaseDistance(1.5, 1.5), 1e-9)
	assert.LessOrEqual(t, PhaseDistance(0, math.Pi+0.5), math.Pi)
}

func TestPhaseMean(t *testing.T) {
	// heavy existing weight barely moves
	m := PhaseMean(0.5, 1000, 1.5, 1)
	assert.InDelta(t, 0.5, m, 0.01)

	// equal weights land between
	m = PhaseMean(0.5, 1, 1.5, 1)
	assert.InDelta(t, 1.0, m, 1e-9)

	// identical phases are a fixed point
	assert.InDelta(t, 2.0, PhaseMean(2.0, 3, 2.0, 1), 1e-9)

	// result stays in [0, 2π)
	m = PhaseMean(2*math.Pi-0.1, 1, 0.1, 1)
	assert.GreaterOrEqual(t, m, 0.0)
	assert.Less(t, m, 2*math.Pi)
}

func TestNewConcept(t *testing.T) {
	now := time.Now().UTC()
	c := New(Proposal{ConceptText: "Gravity", Context: "physics text", Source: "doc-1"}, now)

	assert.Equal(t, Fingerprint("gravity"), c.ID)
	assert.Equal(t, "gravity", c.Label)
	assert.Equal(t, 1.0, c.Energy)
	assert.Equal(t, 1.0, c.Stability)
	assert.Len(t, c.Provenance, 1)
	assert.Equal(t, "doc-1", c.Provenance[0].Source)
	assert.Equal(t, now, c.CreatedAt)
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	c := New(Proposal{ConceptText: "gravity", Source: "doc-1"}, now)
	cp := c.Clone()

	cp.Provenance = append(cp.Provenance, Provenance{Source: "doc-2", Timestamp: now})
	cp.Energy = 99

	assert.Len(t, c.Provenance, 1)
	assert.Equal(t, 1.0, c.Energy)
}
