package domestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStateDefaults(t *testing.T) {
	s := New()
	snap := s.Snapshot()

	assert.Equal(t, AzimuthDisconnected, snap.AzimuthStatus)
	assert.Equal(t, ShutterDisconnected, snap.ShutterStatus)
	assert.Equal(t, HeartbeatDisabled, snap.HeartbeatStatus)
	assert.True(t, snap.FollowTelescope)
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.CheckInvariants())
}

func TestMutateUpdatesTimestamp(t *testing.T) {
	s := New()
	before := s.Snapshot().StateTimestamp

	s.Mutate(func(m *Mutator) {
		m.SetConnected(true)
		m.SetAzimuthStatus(AzimuthNotHomed)
	})

	snap := s.Snapshot()
	assert.True(t, snap.StateTimestamp.After(before) || snap.StateTimestamp.Equal(before))
	assert.Equal(t, AzimuthNotHomed, snap.AzimuthStatus)
	assert.True(t, snap.Connected)
}

func TestWrappedAzimuth(t *testing.T) {
	assert.Equal(t, 10.0, WrappedAzimuth(370))
	assert.Equal(t, 350.0, WrappedAzimuth(-10))
	assert.Equal(t, 0.0, WrappedAzimuth(360))
	assert.Equal(t, 200.0, WrappedAzimuth(200))
}

func TestCheckInvariantsDetectsViolations(t *testing.T) {
	bad := Snapshot{
		Connected:       false,
		AzimuthStatus:   AzimuthIdle,
		ShutterStatus:   ShutterOpen,
		HeartbeatStatus: HeartbeatActive,
	}
	violations := bad.CheckInvariants()
	assert.NotEmpty(t, violations)
}

func TestCheckInvariantsHeartbeatTrippedIdleRequiresClosed(t *testing.T) {
	snap := Snapshot{
		Connected:       true,
		HeartbeatStatus: HeartbeatTrippedIdle,
		ShutterStatus:   ShutterOpen,
	}
	violations := snap.CheckInvariants()
	assert.Contains(t, violations, "heartbeat TrippedIdle but shutter not Closed")
}

func TestCheckInvariantsEngineeringRequiresHeartbeatDisabled(t *testing.T) {
	snap := Snapshot{
		Connected:       true,
		EngineeringMode: true,
		HeartbeatStatus: HeartbeatActive,
	}
	violations := snap.CheckInvariants()
	assert.Contains(t, violations, "engineering mode active while heartbeat not Disabled")
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Mutate(func(m *Mutator) {
		m.SetTrackingCoord(&TrackingCoord{RADeg: 10, DecDeg: 20})
	})

	snap := s.Snapshot()
	snap.TrackingCoord.RADeg = 999

	snap2 := s.Snapshot()
	assert.Equal(t, 10.0, snap2.TrackingCoord.RADeg)
}

func TestHeartbeatExpiryPointer(t *testing.T) {
	s := New()
	deadline := time.Now().Add(30 * time.Second)
	s.Mutate(func(m *Mutator) {
		m.SetHeartbeatStatus(HeartbeatActive)
		m.SetHeartbeatExpiresAt(&deadline)
	})

	snap := s.Snapshot()
	assert.NotNil(t, snap.HeartbeatExpiresAt)
	assert.WithinDuration(t, deadline, *snap.HeartbeatExpiresAt, time.Millisecond)
}
