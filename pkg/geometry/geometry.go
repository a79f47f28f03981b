// Package geometry converts a requested telescope line of sight — either
// (RA,Dec) in ICRS or (Alt,Az) in the observer's horizontal frame — into the
// dome azimuth that centres the slit on it, correcting for the telescope's
// off-centre pier (spec §4.3). The (RA,Dec,time,location)→(Alt,Az) transform
// itself is delegated to an external astronomical library, per spec §9 —
// this package owns only the pier-offset projection on top of that output.
package geometry

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/globe"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/unit"
)

// Observer is the observatory's location, from config §3.
type Observer struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
}

// Pier describes the projection geometry of §4.3: the dome radius and the
// telescope's offset from dome centre along the meridian (dec) axis.
type Pier struct {
	DomeRadiusCM       float64
	TelescopeOffsetXCM float64
}

// HorizontalRad is an (alt, az) pair in radians.
type HorizontalRad struct {
	AltRad float64
	AzRad  float64
}

// EquatorialDeg is an ICRS (RA, Dec) pair in degrees.
type EquatorialDeg struct {
	RADeg  float64
	DecDeg float64
}

// DomeAzimuth projects a line-of-sight (alt, az), both in degrees, onto the
// dome's horizontal plane and returns the azimuth (degrees, normalised to
// [0,360)) that centres the slit on it.
func DomeAzimuth(altDeg, azDeg float64, p Pier) float64 {
	alt := altDeg * math.Pi / 180
	az := azDeg * math.Pi / 180

	R := p.DomeRadiusCM
	x := R * math.Cos(az) * math.Cos(alt)
	y := R * math.Sin(az) * math.Cos(alt)

	dx := x - p.TelescopeOffsetXCM
	dy := y

	domeAzRad := math.Atan2(dy, dx)
	domeAzDeg := domeAzRad * 180 / math.Pi
	return normalize360(domeAzDeg)
}

// EquatorialToHorizontal converts an ICRS (RA,Dec) to the observer's
// horizontal (Alt,Az) at time t, via the external sidereal-time and
// coordinate-transform library. This function is the one seam in the
// package that touches that library directly; everything else here is pure
// geometry.
func EquatorialToHorizontal(eq EquatorialDeg, obs Observer, t time.Time) HorizontalRad {
	jd := julianDayFromTime(t)
	st := sidereal.Apparent(jd)

	eqCoord := coord.Equatorial{
		RA:  unit.RAFromDeg(eq.RADeg),
		Dec: unit.AngleFromDeg(eq.DecDeg),
	}

	g := globe.Coord{
		Lat: unit.AngleFromDeg(obs.LatitudeDeg),
		Lon: unit.AngleFromDeg(-obs.LongitudeDeg), // meeus longitude is measured positively west
	}

	hz := coord.EqToHz(eqCoord, g, st)

	// meeus/coord.EqToHz reports azimuth on the south-origin convention
	// (0 = south); DomeAzimuth and notify_telescope_altaz's raw input both
	// use the north-origin convention (0 = north) that AltAz dome-pointing
	// math elsewhere in this package assumes, so rotate by 180 degrees here
	// to keep this the one seam that has to know about it.
	azDeg := normalize360(hz.Az.Deg() + 180)

	return HorizontalRad{
		AltRad: hz.Alt.Rad(),
		AzRad:  azDeg * math.Pi / 180,
	}
}

// DomeAzimuthForRADec is the composite of EquatorialToHorizontal followed by
// DomeAzimuth, degrees in, degrees out.
func DomeAzimuthForRADec(eq EquatorialDeg, obs Observer, p Pier, t time.Time) float64 {
	hz := EquatorialToHorizontal(eq, obs, t)
	altDeg := hz.AltRad * 180 / math.Pi
	azDeg := hz.AzRad * 180 / math.Pi
	return DomeAzimuth(altDeg, azDeg, p)
}

// UnwrapTarget chooses, of the three unwrapped representatives of wrapped
// target θ∈[0,360) nearest the dome's current revolution, the one closest to
// the dome's current unwrapped azimuth — spec §4.3's "azimuth unwrapping".
func UnwrapTarget(currentUnwrapped, targetWrapped float64) float64 {
	r := math.Floor(currentUnwrapped / 360)
	best := targetWrapped + 360*r
	bestDist := math.Abs(currentUnwrapped - best)

	for _, cand := range []float64{targetWrapped + 360*(r-1), targetWrapped + 360*(r+1)} {
		if d := math.Abs(currentUnwrapped - cand); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

// StepsForTarget converts an unwrapped target azimuth to absolute motor
// steps: round((target - home_azimuth) / 360 * steps_per_rotation).
func StepsForTarget(targetUnwrapped, homeAzimuthDeg float64, stepsPerRotation int) int {
	return int(math.Round((targetUnwrapped - homeAzimuthDeg) / 360 * float64(stepsPerRotation)))
}

// DegreesForSteps is the inverse of StepsForTarget: it recovers the
// unwrapped dome azimuth the motor's absolute step count represents.
func DegreesForSteps(steps int, homeAzimuthDeg float64, stepsPerRotation int) float64 {
	return homeAzimuthDeg + float64(steps)/float64(stepsPerRotation)*360
}

// ShortestSignedDelta returns the signed delta in (-180,180] from "from" to
// "to", both wrapped azimuths in degrees.
func ShortestSignedDelta(from, to float64) float64 {
	d := normalize360(to-from+180) - 180
	if d <= -180 {
		d += 360
	}
	return d
}

func normalize360(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func julianDayFromTime(t time.Time) float64 {
	u := t.UTC()
	return 2440587.5 + float64(u.Unix())/86400.0 + float64(u.Nanosecond())/(86400.0*1e9)
}
