package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/conceptmesh/mesh-go/pkg/metrics"
)

func snapshotAt(ts time.Time, coherence float64) SpectralSnapshot {
	return SpectralSnapshot{
		Coherence: coherence,
		Drift:     map[string]float64{"a": 0.1},
		Stability: map[string]float64{"a": 0.9},
		WindowTS:  ts,
	}
}

func waitEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishSnapshotDelivers(t *testing.T) {
	b := New(metrics.NewMeshMetrics(), time.Hour)
	sub := b.Subscribe()
	defer sub.Close()

	ts := time.Now().UTC()
	b.PublishSnapshot(snapshotAt(ts, 0.95))

	evt := waitEvent(t, sub)
	resync, ok := evt.(ResyncSnapshot)
	assert.True(t, ok)
	assert.Equal(t, 0.95, resync.Snapshot.Coherence)
	assert.Equal(t, ts, resync.Snapshot.WindowTS)
}

func TestLateSubscriberGetsLatestImmediately(t *testing.T) {
	b := New(metrics.NewMeshMetrics(), time.Hour)
	b.PublishSnapshot(snapshotAt(time.Now().UTC(), 0.8))

	sub := b.Subscribe()
	defer sub.Close()

	evt := waitEvent(t, sub)
	_, ok := evt.(ResyncSnapshot)
	assert.True(t, ok)
}

func TestDriftAlarmFlowsToAllSubscribers(t *testing.T) {
	b := New(metrics.NewMeshMetrics(), time.Hour)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(DriftAlarm{Coherence: 0.4, Threshold: 0.6, WindowTS: time.Now().UTC()})

	for _, sub := range []*Subscription{sub1, sub2} {
		alarm, ok := waitEvent(t, sub).(DriftAlarm)
		assert.True(t, ok)
		assert.Equal(t, 0.4, alarm.Coherence)
	}
}

func TestSlowSubscriberDropsButResyncHeals(t *testing.T) {
	m := metrics.NewMeshMetrics()
	b := New(m, 20*time.Millisecond)
	sub := b.Subscribe()
	defer sub.Close()

	// overflow the buffer without draining
	for i := 0; i < subscriberBuffer+8; i++ {
		b.Publish(DriftAlarm{Coherence: float64(i)})
	}
	assert.Greater(t, m.GetMetrics()["events_dropped"], int64(0))

	// drain the stale backlog
	for len(sub.Events()) > 0 {
		<-sub.Events()
	}

	// the resync loop republishes the latest snapshot
	latest := snapshotAt(time.Now().UTC(), 0.7)
	b.PublishSnapshot(latest)
	for len(sub.Events()) > 0 {
		<-sub.Events()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	resync, ok := waitEvent(t, sub).(ResyncSnapshot)
	assert.True(t, ok)
	assert.Equal(t, 0.7, resync.Snapshot.Coherence)
}

func TestSubscriptionClose(t *testing.T) {
	b := New(metrics.NewMeshMetrics(), time.Hour)
	sub := b.Subscribe()
	sub.Close()

	_, open := <-sub.ch
	assert.False(t, open)

	// publish after close must not panic or deliver
	b.Publish(DriftAlarm{})
}

func TestBridgeClose(t *testing.T) {
	b := New(metrics.NewMeshMetrics(), time.Hour)
	sub := b.Subscribe()
	b.Close()

	_, open := <-sub.ch
	assert.False(t, open)

	// closed bridge ignores publishes and new subscriptions get a closed channel
	b.Publish(DriftAlarm{})
	sub2 := b.Subscribe()
	_, open = <-sub2.Events()
	assert.False(t, open)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ts := time.Now().UTC()

	for _, evt := range []Event{
		ResyncSnapshot{Snapshot: snapshotAt(ts, 0.9)},
		DriftAlarm{Coherence: 0.3, Threshold: 0.5, WindowTS: ts},
	} {
		env, err := Seal(evt)
		assert.NoError(t, err)
		assert.Equal(t, SchemaVersion, env.Version)

		got, err := Open(env)
		assert.NoError(t, err)
		assert.Equal(t, evt, got)
	}
}

func TestOpenRejectsFutureSchema(t *testing.T) {
	env := &Envelope{Version: SchemaVersion + 1, Type: "drift_alarm", Data: []byte(`{}`)}
	_, err := Open(env)
	assert.Error(t, err)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	env := &Envelope{Version: SchemaVersion, Type: "mystery", Data: []byte(`{}`)}
	_, err := Open(env)
	assert.Error(t, err)
}
