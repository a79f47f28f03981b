// Package remote is the typed operation surface of spec §4.6: it is the
// only thing outside pkg/arbiter allowed to submit requests, and it is
// where caller-identity gating happens. The RPC transport and the
// authentication that resolves a wire call down to (origin, IP) are an
// external collaborator (spec §1); Surface assumes that work is already
// done and takes the caller's IP as a plain argument.
package remote

import (
	"time"

	"github.com/CerecedaObs/domed/pkg/arbiter"
	"github.com/CerecedaObs/domed/pkg/config"
	"github.com/CerecedaObs/domed/pkg/domestate"
	"github.com/CerecedaObs/domed/pkg/geometry"
)

// Surface exposes the control- and telescope-caller operations of spec
// §4.6 over the arbiter's request queue.
type Surface struct {
	arb      *arbiter.Arbiter
	cfg      config.Config
	observer geometry.Observer
	pier     geometry.Pier
}

// New builds a Surface over a running Arbiter.
func New(arb *arbiter.Arbiter, cfg config.Config) *Surface {
	return &Surface{
		arb: arb,
		cfg: cfg,
		observer: geometry.Observer{
			LatitudeDeg:  cfg.Latitude,
			LongitudeDeg: cfg.Longitude,
			AltitudeM:    cfg.Altitude,
		},
		pier: geometry.Pier{
			DomeRadiusCM:       cfg.DomeRadiusCM,
			TelescopeOffsetXCM: cfg.TelescopeOffsetXCM,
		},
	}
}

// Capabilities are the dome's static feature flags, exposed so a front-end
// (out of scope here) can decide what controls to offer without having to
// probe via a failing command — the same role
// pkg/drivers/zro.Driver.Capabilities() plays for the ALPACA surface this
// package replaces.
type Capabilities struct {
	CanFindHome    bool
	CanPark        bool
	CanSetAzimuth  bool
	CanSetShutter  bool
	CanSlave       bool // follow mode
	CanSyncAzimuth bool
}

// Capabilities reports this dome core's fixed feature set.
func (s *Surface) Capabilities() Capabilities {
	return Capabilities{
		CanFindHome:    true,
		CanPark:        true,
		CanSetAzimuth:  true,
		CanSetShutter:  true,
		CanSlave:       true,
		CanSyncAzimuth: false,
	}
}

// Ping is unconditional liveness; no authority check (spec §6).
func (s *Surface) Ping() domestate.CommandStatus { return domestate.Succeeded }

// Status is allowed from any caller (spec §6); it never touches the
// authority check.
func (s *Surface) Status() StatusView {
	return s.buildStatusView(s.arb.State().Snapshot())
}

// StatusView is the wire-shape of spec §6's status snapshot.
type StatusView struct {
	Timestamp          string
	AzimuthStatus      string
	ShutterStatus      string
	EngineeringMode    bool
	Azimuth            *float64
	FollowTelescope    *bool
	Closed             *bool
	HeartbeatStatus    *string
	HeartbeatRemaining *float64
	TrackingRA         *float64
	TrackingDec        *float64
	TrackingAzimuth    *float64
}

func (s *Surface) buildStatusView(snap domestate.Snapshot) StatusView {
	view := StatusView{
		Timestamp:       snap.StateTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
		AzimuthStatus:   snap.AzimuthStatus.String(),
		ShutterStatus:   snap.ShutterStatus.String(),
		EngineeringMode: snap.EngineeringMode,
	}
	if !snap.Connected {
		return view
	}

	az := domestate.WrappedAzimuth(snap.AzimuthDegrees)
	view.Azimuth = &az
	follow := snap.FollowTelescope
	view.FollowTelescope = &follow
	closed := snap.ShutterStatus == domestate.ShutterClosed
	view.Closed = &closed
	hb := snap.HeartbeatStatus.String()
	view.HeartbeatStatus = &hb

	if snap.HeartbeatStatus == domestate.HeartbeatActive && snap.HeartbeatExpiresAt != nil {
		remaining := time.Until(*snap.HeartbeatExpiresAt).Seconds()
		view.HeartbeatRemaining = &remaining
	}

	if snap.TrackingCoord != nil {
		ra, dec := snap.TrackingCoord.RADeg, snap.TrackingCoord.DecDeg
		view.TrackingRA = &ra
		view.TrackingDec = &dec
		taz := geometry.DomeAzimuthForRADec(geometry.EquatorialDeg{RADeg: ra, DecDeg: dec}, s.observer, s.pier, time.Now())
		view.TrackingAzimuth = &taz
	}

	return view
}

// ---- Control-caller operations (spec §4.6) ----

func (s *Surface) Initialize(ip string) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindConnect, Origin: arbiter.OriginControl}).Status
}

func (s *Surface) Shutdown(ip string) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindDisconnect, Origin: arbiter.OriginControl}).Status
}

func (s *Surface) OpenShutter(ip string, blocking, override bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	reply := s.arb.Submit(&arbiter.Request{Kind: arbiter.KindOpenShutter, Origin: arbiter.OriginControl, Override: override})
	if reply.Status != domestate.Succeeded || !blocking {
		return reply.Status
	}
	return s.waitFor(s.cfg.ShutterMoveTimeoutDuration(), func(snap domestate.Snapshot) bool {
		return snap.ShutterStatus != domestate.ShutterOpening
	}, func(snap domestate.Snapshot) bool {
		return snap.ShutterStatus == domestate.ShutterOpen
	})
}

func (s *Surface) CloseShutter(ip string, blocking, override bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	reply := s.arb.Submit(&arbiter.Request{Kind: arbiter.KindCloseShutter, Origin: arbiter.OriginControl, Override: override})
	if reply.Status != domestate.Succeeded || !blocking {
		return reply.Status
	}
	return s.waitFor(s.cfg.ShutterMoveTimeoutDuration(), func(snap domestate.Snapshot) bool {
		return snap.ShutterStatus != domestate.ShutterClosing
	}, func(snap domestate.Snapshot) bool {
		return snap.ShutterStatus == domestate.ShutterClosed
	})
}

func (s *Surface) StopShutter(ip string) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindStopShutter, Origin: arbiter.OriginControl}).Status
}

func (s *Surface) StopAzimuth(ip string) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindStopAzimuth, Origin: arbiter.OriginControl}).Status
}

// HomeAzimuth blocks, if requested, in two steps: first until the home seek
// has left Homing, then until the arbiter's chained post-home park slew has
// left Moving. Both steps share one AzimuthMoveTimeout deadline.
func (s *Surface) HomeAzimuth(ip string, blocking bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	reply := s.arb.Submit(&arbiter.Request{Kind: arbiter.KindHomeAzimuth, Origin: arbiter.OriginControl})
	if reply.Status != domestate.Succeeded || !blocking {
		return reply.Status
	}
	timeout := s.cfg.AzimuthMoveTimeoutDuration()
	deadline := time.Now().Add(timeout)

	// Wait for the home seek itself to finish...
	if status := s.waitFor(timeout, func(snap domestate.Snapshot) bool {
		return snap.AzimuthStatus != domestate.AzimuthHoming
	}, func(snap domestate.Snapshot) bool {
		return snap.AzimuthStatus == domestate.AzimuthIdle || snap.AzimuthStatus == domestate.AzimuthMoving
	}); status != domestate.Succeeded {
		return status
	}
	// ...then for the chained park slew, if the arbiter has issued one.
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return domestate.Failed
	}
	return s.waitFor(remaining, func(snap domestate.Snapshot) bool {
		return snap.AzimuthStatus != domestate.AzimuthMoving
	}, func(snap domestate.Snapshot) bool {
		return snap.AzimuthStatus == domestate.AzimuthIdle
	})
}

func (s *Surface) Park(ip string, blocking bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	reply := s.arb.Submit(&arbiter.Request{Kind: arbiter.KindPark, Origin: arbiter.OriginControl})
	return s.waitOnAzimuthMove(reply, blocking)
}

func (s *Surface) SlewAzimuth(ip string, azDeg float64, blocking bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	reply := s.arb.Submit(&arbiter.Request{Kind: arbiter.KindSlewAzimuth, Origin: arbiter.OriginControl, AzimuthDeg: azDeg})
	return s.waitOnAzimuthMove(reply, blocking)
}

func (s *Surface) TrackRADec(ip string, raDeg, decDeg float64, blocking bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	reply := s.arb.Submit(&arbiter.Request{Kind: arbiter.KindTrackRADec, Origin: arbiter.OriginControl, RADeg: raDeg, DecDeg: decDeg})
	return s.waitOnAzimuthMove(reply, blocking)
}

func (s *Surface) SetFollowMode(ip string, enable bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindSetFollowMode, Origin: arbiter.OriginControl, FollowEnable: enable}).Status
}

func (s *Surface) SetEngineeringMode(ip string, enable bool) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindEngineeringMode, Origin: arbiter.OriginControl, EngineeringEnable: enable}).Status
}

func (s *Surface) SetHeartbeatTimer(ip string, seconds int) domestate.CommandStatus {
	if !s.cfg.IsControlIP(ip) {
		return domestate.InvalidControlIP
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindHeartbeat, Origin: arbiter.OriginControl, HeartbeatSeconds: seconds}).Status
}

// ---- Telescope-caller operations (spec §4.6) ----
// All are no-ops (Succeeded) when follow_telescope is false.

func (s *Surface) NotifyTelescopeRADec(ip string, raDeg, decDeg float64, tracking bool) domestate.CommandStatus {
	if !s.cfg.IsTelescopeIP(ip) {
		return domestate.InvalidControlIP
	}
	if !s.arb.State().Snapshot().FollowTelescope {
		return domestate.Succeeded
	}
	kind := arbiter.KindSlewRADec
	if tracking {
		kind = arbiter.KindTrackRADec
	}
	return s.arb.Submit(&arbiter.Request{Kind: kind, Origin: arbiter.OriginTelescope, RADeg: raDeg, DecDeg: decDeg}).Status
}

func (s *Surface) NotifyTelescopeAltAz(ip string, altDeg, azDeg float64) domestate.CommandStatus {
	if !s.cfg.IsTelescopeIP(ip) {
		return domestate.InvalidControlIP
	}
	if !s.arb.State().Snapshot().FollowTelescope {
		return domestate.Succeeded
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindSlewAltAz, Origin: arbiter.OriginTelescope, AltDeg: altDeg, AzimuthDeg: azDeg}).Status
}

func (s *Surface) NotifyTelescopeStopped(ip string) domestate.CommandStatus {
	if !s.cfg.IsTelescopeIP(ip) {
		return domestate.InvalidControlIP
	}
	if !s.arb.State().Snapshot().FollowTelescope {
		return domestate.Succeeded
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindStopAzimuth, Origin: arbiter.OriginTelescope}).Status
}

func (s *Surface) NotifyTelescopeParked(ip string) domestate.CommandStatus {
	if !s.cfg.IsTelescopeIP(ip) {
		return domestate.InvalidControlIP
	}
	if !s.arb.State().Snapshot().FollowTelescope {
		return domestate.Succeeded
	}
	return s.arb.Submit(&arbiter.Request{Kind: arbiter.KindPark, Origin: arbiter.OriginTelescope}).Status
}

// waitOnAzimuthMove is the shared blocking tail for park/slew_azimuth/
// track_radec: on successful enqueue, optionally wait for azimuth to leave
// Moving.
func (s *Surface) waitOnAzimuthMove(reply arbiter.Reply, blocking bool) domestate.CommandStatus {
	if reply.Status != domestate.Succeeded || !blocking {
		return reply.Status
	}
	return s.waitFor(s.cfg.AzimuthMoveTimeoutDuration(), func(snap domestate.Snapshot) bool {
		return snap.AzimuthStatus != domestate.AzimuthMoving
	}, func(snap domestate.Snapshot) bool {
		return snap.AzimuthStatus == domestate.AzimuthIdle
	})
}

// waitFor is the blocking-wait loop of spec §5/§9: rechecks done(snapshot)
// every movement-complete broadcast or 1s, bounded by timeout. success
// reports whether the predicate settled in the caller's favour; if done()
// is true but success() is false, it returns Failed. A disconnection
// mid-wait also returns Failed, before done() is evaluated.
func (s *Surface) waitFor(timeout time.Duration, done, success func(domestate.Snapshot) bool) domestate.CommandStatus {
	deadline := time.Now().Add(timeout)
	for {
		snap := s.arb.State().Snapshot()
		if !snap.Connected {
			return domestate.Failed
		}
		if done(snap) {
			if success(snap) {
				return domestate.Succeeded
			}
			return domestate.Failed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domestate.Failed
		}
		wait := remaining
		if wait > time.Second {
			wait = time.Second
		}
		s.arb.WaitForMovement(wait)
	}
}
