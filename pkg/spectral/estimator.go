package spectral

import (
	"math"
	"math/cmplx"
	"time"
)

// Sample is one observation of a concept's phase/energy trajectory.
type Sample struct {
	Phase  float64   `json:"phase"`
	Energy float64   `json:"energy"`
	At     time.Time `json:"at"`
}

/*
Estimator scores how far a concept's recent trajectory deviates from its
own best-fit dynamic mode. The contract is the only fixed part: a
stationary periodic input must converge to drift ≈ 0 and a purely random
input to high drift. The decomposition behind it is pluggable.
*/
type Estimator interface {
	Estimate(series []Sample) float64
}

/*
ModeEstimator is the default estimator: it embeds the phase series on the
unit circle, z_t = e^{iφ_t}, fits the single linear mode λ minimizing
Σ|z_{t+1} − λ·z_t|², and reports the normalized root-mean-square residual.
A constant or uniformly rotating phase is captured exactly by one mode
(residual 0); uncorrelated phases leave λ near zero and the residual near
its ceiling.
*/
type ModeEstimator struct{}

// minSeries is the shortest series worth fitting. Below it the estimator
// reports zero drift: a brand-new concept is presumed stable until it has
// history to judge.
const minSeries = 4

func (ModeEstimator) Estimate(series []Sample) float64 {
	if len(series) < minSeries {
		return 0
	}

	z := make([]complex128, len(series))
	for i, s := range series {
		z[i] = cmplx.Exp(complex(0, s.Phase))
	}

	// least-squares single-mode fit: λ = Σ z_{t+1}·conj(z_t) / Σ |z_t|²
	var num, den complex128
	for t := 0; t < len(z)-1; t++ {
		num += z[t+1] * cmplx.Conj(z[t])
		den += z[t] * cmplx.Conj(z[t])
	}
	if den == 0 {
		return 1
	}
	lambda := num / den

	var resid float64
	for t := 0; t < len(z)-1; t++ {
		resid += cmplx.Abs(z[t+1]-lambda*z[t]) * cmplx.Abs(z[t+1]-lambda*z[t])
	}
	// |z_{t+1} − λ·z_t| ≤ 2 on the unit circle with |λ| ≤ 1
	drift := math.Sqrt(resid/float64(len(z)-1)) / 2

	if drift < 0 {
		return 0
	}
	if drift > 1 {
		return 1
	}
	return drift
}

// StabilityFromDrift maps a drift score onto a stability score in (0, 1],
// monotonically decreasing in drift.
func StabilityFromDrift(drift, gain float64) float64 {
	if gain <= 0 {
		gain = 8
	}
	return 1 / (1 + gain*drift)
}
