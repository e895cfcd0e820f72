package spectral

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func seriesOf(phases ...float64) []Sample {
	now := time.Now().UTC()
	out := make([]Sample, len(phases))
	for i, p := range phases {
		out[i] = Sample{Phase: p, Energy: 1, At: now.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestConstantPhaseHasZeroDrift(t *testing.T) {
	est := ModeEstimator{}

	phases := make([]float64, 16)
	for i := range phases {
		phases[i] = 1.25
	}
	drift := est.Estimate(seriesOf(phases...))
	assert.InDelta(t, 0, drift, 1e-9)
}

func TestUniformRotationIsCapturedByOneMode(t *testing.T) {
	est := ModeEstimator{}

	// φ_t = ω·t is exactly one linear mode, so the residual vanishes
	phases := make([]float64, 16)
	for i := range phases {
		phases[i] = math.Mod(0.3*float64(i), 2*math.Pi)
	}
	drift := est.Estimate(seriesOf(phases...))
	assert.InDelta(t, 0, drift, 1e-9)
}

func TestRandomPhaseHasHighDrift(t *testing.T) {
	est := ModeEstimator{}
	rng := rand.New(rand.NewSource(7))

	phases := make([]float64, 32)
	for i := range phases {
		phases[i] = rng.Float64() * 2 * math.Pi
	}
	drift := est.Estimate(seriesOf(phases...))
	assert.Greater(t, drift, 0.3)
	assert.LessOrEqual(t, drift, 1.0)
}

func TestShortSeriesIsPresumedStable(t *testing.T) {
	est := ModeEstimator{}
	assert.Equal(t, 0.0, est.Estimate(nil))
	assert.Equal(t, 0.0, est.Estimate(seriesOf(0.1, 2.3, 4.5)))
}

func TestStabilityFromDriftIsMonotone(t *testing.T) {
	prev := 1.1
	for _, d := range []float64{0, 0.1, 0.25, 0.5, 0.75, 1} {
		s := StabilityFromDrift(d, 8)
		assert.Less(t, s, prev)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}

	assert.Equal(t, 1.0, StabilityFromDrift(0, 8))
	assert.Less(t, StabilityFromDrift(1, 8), 0.2)
}
