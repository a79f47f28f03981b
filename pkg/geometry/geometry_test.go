package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomeAzimuthNoOffset(t *testing.T) {
	p := Pier{DomeRadiusCM: 300, TelescopeOffsetXCM: 0}

	// Looking due north at the horizon, with no pier offset, the dome
	// azimuth is simply the line-of-sight azimuth.
	az := DomeAzimuth(0, 0, p)
	assert.InDelta(t, 0, az, 1e-9)

	az = DomeAzimuth(0, 90, p)
	assert.InDelta(t, 90, az, 1e-9)
}

func TestDomeAzimuthWithOffset(t *testing.T) {
	// Looking along the horizon, a pier offset shifts the apparent
	// azimuth, since x is displaced but y is not.
	p := Pier{DomeRadiusCM: 300, TelescopeOffsetXCM: 50}

	az := DomeAzimuth(0, 0, p) // looking due north: x=R, y=0
	// dx = R - offset (still positive, still north) so azimuth stays 0.
	assert.InDelta(t, 0, az, 1e-9)

	az = DomeAzimuth(0, 90, p) // looking due east: x=0, y=R
	// dx = -offset, dy = R => atan2(R, -offset) in the second quadrant.
	assert.Greater(t, az, 90.0)
	assert.Less(t, az, 180.0)
}

func TestUnwrapTargetChoosesNearestRepresentative(t *testing.T) {
	// spec §8: azimuth_degrees=350, requested 10 => chosen target 370.
	got := UnwrapTarget(350, 10)
	assert.InDelta(t, 370, got, 1e-9)

	// spec §8 scenario 5: azimuth_degrees=359, slew to 1 => 361 (shortest).
	got = UnwrapTarget(359, 1)
	assert.InDelta(t, 361, got, 1e-9)
}

func TestUnwrapTargetNegativeRevolution(t *testing.T) {
	got := UnwrapTarget(-10, 350)
	assert.InDelta(t, -10, got, 1e-9)
}

func TestStepsForTarget(t *testing.T) {
	steps := StepsForTarget(200, 110, 36000)
	want := int(math.Round((200.0 - 110.0) / 360 * 36000))
	assert.Equal(t, want, steps)
}

func TestShortestSignedDelta(t *testing.T) {
	assert.InDelta(t, 10, ShortestSignedDelta(350, 0), 1e-9)
	assert.InDelta(t, -10, ShortestSignedDelta(10, 0), 1e-9)
	assert.InDelta(t, 180, ShortestSignedDelta(0, 180), 1e-9)
	assert.InDelta(t, 0, ShortestSignedDelta(45, 45), 1e-9)
}

func TestNormalize360(t *testing.T) {
	assert.InDelta(t, 0, normalize360(360), 1e-9)
	assert.InDelta(t, 10, normalize360(370), 1e-9)
	assert.InDelta(t, 350, normalize360(-10), 1e-9)
}
