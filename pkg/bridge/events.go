package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever the wire shape of an event changes.
// Consumers reject envelopes from a future schema instead of guessing.
const SchemaVersion = 1

/*
SpectralSnapshot is the state the spectral monitor republishes through the
bridge: an aggregate coherence scalar plus per-concept drift and the
stability scores derived from it. Consumers treat it as read-only and
eventually consistent.
*/
type SpectralSnapshot struct {
	Coherence float64            `json:"coherence"`
	Drift     map[string]float64 `json:"drift"`
	Stability map[string]float64 `json:"stability"`
	WindowTS  time.Time          `json:"window_timestamp"`
}

// Event is a tagged variant delivered through the bridge.
type Event interface {
	Kind() string
}

// ResyncSnapshot carries the latest full spectral state. Published on
// every monitor cycle and again on each resync tick, so a dropped delivery
// heals within one resync interval.
type ResyncSnapshot struct {
	Snapshot SpectralSnapshot `json:"snapshot"`
}

func (ResyncSnapshot) Kind() string { return "resync_snapshot" }

// DriftAlarm is advisory, not an error: overall coherence fell below the
// configured threshold and reasoning should bias away from drifting nodes.
type DriftAlarm struct {
	Coherence float64   `json:"coherence"`
	Threshold float64   `json:"threshold"`
	WindowTS  time.Time `json:"window_timestamp"`
}

func (DriftAlarm) Kind() string { return "drift_alarm" }

/*
Envelope is the serialized form of an event on the wire. One explicit,
versioned message schema covers every cross-process consumer.
*/
type Envelope struct {
	Version int             `json:"v"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// Seal wraps an event into a wire envelope.
func Seal(evt Event) (*Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", evt.Kind(), err)
	}
	return &Envelope{Version: SchemaVersion, Type: evt.Kind(), Data: data}, nil
}

// Open decodes a wire envelope back into a typed event.
func Open(env *Envelope) (Event, error) {
	if env.Version > SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", env.Version)
	}

	switch env.Type {
	case "resync_snapshot":
		var evt ResyncSnapshot
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case "drift_alarm":
		var evt DriftAlarm
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
