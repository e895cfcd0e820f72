package spectral

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/conceptmesh/mesh-go/pkg/archive"
	"github.com/conceptmesh/mesh-go/pkg/bridge"
	"github.com/conceptmesh/mesh-go/pkg/metrics"
	"github.com/conceptmesh/mesh-go/pkg/store"
)

// Config tunes the monitor. Values are validated at startup and immutable
// for the process lifetime.
type Config struct {
	Cadence            time.Duration
	Window             int
	CoherenceThreshold float64
	StabilityGain      float64
	CycleBudget        time.Duration
	// BurstThreshold triggers an early cycle once this many mutations have
	// landed since the last one.
	BurstThreshold uint64
}

func (c *Config) defaults() {
	if c.Cadence <= 0 {
		c.Cadence = 10 * time.Second
	}
	if c.Window <= 0 {
		c.Window = 16
	}
	if c.CoherenceThreshold <= 0 {
		c.CoherenceThreshold = 0.5
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = c.Cadence / 2
	}
	if c.BurstThreshold == 0 {
		c.BurstThreshold = 256
	}
}

/*
Monitor periodically samples every concept's phase/energy trajectory from
a store snapshot, scores drift per concept and coherence overall, and
feeds the results back: stability scores through its narrow store
capability, spectral state through the bridge, and one stability-update
frame per cycle into the audit archive. It never holds a store lock while
computing; it works entirely off the immutable snapshot.
*/
type Monitor struct {
	store     *store.Store
	stability *store.StabilityWriter
	log       *archive.Log
	bridge    *bridge.Bridge
	est       Estimator
	metrics   *metrics.MeshMetrics
	cfg       Config

	windows     map[string][]Sample
	running     atomic.Bool
	lastVersion uint64
}

/*
New wires a monitor. Pass nil for est to use the default ModeEstimator.
*/
func New(
	s *store.Store,
	sw *store.StabilityWriter,
	auditLog *archive.Log,
	b *bridge.Bridge,
	est Estimator,
	m *metrics.MeshMetrics,
	cfg Config,
) *Monitor {
	cfg.defaults()
	if est == nil {
		est = ModeEstimator{}
	}
	return &Monitor{
		store:     s,
		stability: sw,
		log:       auditLog,
		bridge:    b,
		est:       est,
		metrics:   m,
		cfg:       cfg,
		windows:   make(map[string][]Sample),
	}
}

/*
Start runs cycles on the configured cadence until the context is
cancelled. A burst of mutations beyond BurstThreshold pulls the next cycle
forward instead of waiting out the full cadence.
*/
func (m *Monitor) Start(ctx context.Context) {
	// poll at a fraction of the cadence so burst triggers are responsive
	poll := m.cfg.Cadence / 4
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due := time.Since(last) >= m.cfg.Cadence
			burst := m.store.Version()-m.lastVersion >= m.cfg.BurstThreshold
			if !due && !burst {
				continue
			}
			last = time.Now()
			if err := m.RunCycle(ctx); err != nil {
				log.Error("spectral cycle failed", "error", err)
			}
		}
	}
}

/*
RunCycle performs one analysis pass. Cycles never overlap: if one is
already in flight the call is recorded as skipped and returns immediately,
so an overrunning cycle sheds load instead of stacking backlog.
*/
func (m *Monitor) RunCycle(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		m.metrics.RecordSpectralCycle(true)
		return nil
	}
	defer m.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CycleBudget)
	defer cancel()

	snap := m.store.Snapshot()
	m.lastVersion = snap.Version

	drift := make(map[string]float64, len(snap.Concepts))
	scores := make(map[string]float64, len(snap.Concepts))
	var weightedDrift, totalEnergy float64

	for id, c := range snap.Concepts {
		if err := ctx.Err(); err != nil {
			log.Warn("spectral cycle overran its budget, abandoning", "analyzed", len(drift))
			m.metrics.RecordSpectralCycle(true)
			return nil
		}
		if c.Archived {
			delete(m.windows, id)
			continue
		}

		m.observe(id, Sample{Phase: c.Phase, Energy: c.Energy, At: snap.TakenAt})

		d := m.est.Estimate(m.windows[id])
		drift[id] = d
		scores[id] = StabilityFromDrift(d, m.cfg.StabilityGain)
		weightedDrift += d * c.Energy
		totalEnergy += c.Energy
	}

	coherence := 1.0
	if totalEnergy > 0 {
		coherence = 1 - weightedDrift/totalEnergy
	}

	// narrow write-back: stability scores only, then its audit frame
	m.stability.SetScores(scores)
	payload, err := json.Marshal(store.StabilityPayload{WindowTS: snap.TakenAt, Scores: scores})
	if err != nil {
		return err
	}
	if _, err := m.log.Append(archive.OpStabilityUpdate, payload); err != nil {
		return err
	}
	m.metrics.RecordFrame()

	m.bridge.PublishSnapshot(bridge.SpectralSnapshot{
		Coherence: coherence,
		Drift:     drift,
		Stability: scores,
		WindowTS:  snap.TakenAt,
	})

	if coherence < m.cfg.CoherenceThreshold {
		m.metrics.RecordDriftAlarm()
		m.bridge.Publish(bridge.DriftAlarm{
			Coherence: coherence,
			Threshold: m.cfg.CoherenceThreshold,
			WindowTS:  snap.TakenAt,
		})
		log.Warn("coherence below threshold", "coherence", coherence, "threshold", m.cfg.CoherenceThreshold)
	}

	m.metrics.RecordSpectralCycle(false)
	return nil
}

// observe appends a sample to a concept's sliding window, evicting the
// oldest once the window is full.
func (m *Monitor) observe(id string, s Sample) {
	w := append(m.windows[id], s)
	if len(w) > m.cfg.Window {
		w = w[len(w)-m.cfg.Window:]
	}
	m.windows[id] = w
}
