package metrics

import (
	"sync"
	"time"
)

// MeshMetrics tracks operational counters across the mesh core. One
// instance is shared by the gateway, bridge and spectral monitor.
type MeshMetrics struct {
	mu sync.RWMutex

	// Gateway counters
	ProposalsCreated  int64
	ProposalsMerged   int64
	ProposalsRejected int64
	LockTimeouts      int64
	GatewayLatency    time.Duration

	// Archive counters
	FramesAppended int64

	// Bridge counters
	EventsPublished int64
	EventsDropped   int64
	Resyncs         int64

	// Spectral counters
	SpectralCycles int64
	CyclesSkipped  int64
	DriftAlarms    int64
}

// NewMeshMetrics creates a new MeshMetrics instance.
func NewMeshMetrics() *MeshMetrics {
	return &MeshMetrics{}
}

// RecordProposal records a gateway proposal outcome.
func (m *MeshMetrics) RecordProposal(status string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch status {
	case "created":
		m.ProposalsCreated++
	case "merged":
		m.ProposalsMerged++
	default:
		m.ProposalsRejected++
	}
	m.GatewayLatency += latency
}

// RecordLockTimeout records a bounded-wait expiry on a concept lock.
func (m *MeshMetrics) RecordLockTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockTimeouts++
}

// RecordFrame records an archive append.
func (m *MeshMetrics) RecordFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesAppended++
}

// RecordEvent records a bridge delivery attempt.
func (m *MeshMetrics) RecordEvent(dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EventsPublished++
	if dropped {
		m.EventsDropped++
	}
}

// RecordResync records a periodic bridge resync.
func (m *MeshMetrics) RecordResync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resyncs++
}

// RecordSpectralCycle records a monitor cycle, skipped or run.
func (m *MeshMetrics) RecordSpectralCycle(skipped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if skipped {
		m.CyclesSkipped++
		return
	}
	m.SpectralCycles++
}

// RecordDriftAlarm records a coherence-threshold breach.
func (m *MeshMetrics) RecordDriftAlarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DriftAlarms++
}

// GetMetrics returns a snapshot of the current metrics.
func (m *MeshMetrics) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accepted := m.ProposalsCreated + m.ProposalsMerged
	avgLatency := 0.0
	if accepted > 0 {
		avgLatency = m.GatewayLatency.Seconds() / float64(accepted)
	}

	return map[string]any{
		"proposals_created":   m.ProposalsCreated,
		"proposals_merged":    m.ProposalsMerged,
		"proposals_rejected":  m.ProposalsRejected,
		"lock_timeouts":       m.LockTimeouts,
		"avg_gateway_latency": avgLatency,
		"frames_appended":     m.FramesAppended,
		"events_published":    m.EventsPublished,
		"events_dropped":      m.EventsDropped,
		"resyncs":             m.Resyncs,
		"spectral_cycles":     m.SpectralCycles,
		"cycles_skipped":      m.CyclesSkipped,
		"drift_alarms":        m.DriftAlarms,
	}
}
