// Package arbiter is the dome's single writer (spec §4.5/§5): one goroutine
// owns the serial link, the motor controller and the domestate.State, and
// every command runs on that goroutine: requests from control and telescope
// callers arrive through its request queue, and the arbiter's own internal
// transitions are issued inline from the loop. Nothing else in this module
// is allowed to call the motor or mutate state directly.
package arbiter

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/CerecedaObs/domed/pkg/config"
	"github.com/CerecedaObs/domed/pkg/domestate"
	"github.com/CerecedaObs/domed/pkg/geometry"
	"github.com/CerecedaObs/domed/pkg/motor"
	"github.com/CerecedaObs/domed/pkg/serial"
)

const heartbeatMaxSeconds = 180

// Fully-open and fully-close are expressed as a large relative step count
// run until the shutter's own limit switch stops it (spec §4.2's OMR, as
// used for the heartbeat-trip close in spec §8's worked example).
const (
	fullOpenSteps  = 100000000
	fullCloseSteps = -100000000
)

// LinkOps is the subset of *serial.Link the arbiter drives directly (open
// and close the connection; everything else goes through MotorOps).
type LinkOps interface {
	Open() error
	Close() error
}

// MotorOps is the subset of *motor.Controller the arbiter drives. Declaring
// it here, rather than depending on *motor.Controller concretely, lets
// tests substitute an in-memory fake with no serial link at all.
type MotorOps interface {
	ShutterMoving() (bool, error)
	AzimuthMoving() (bool, error)
	ShutterVelocity() (int, error)
	ShutterLimits() (int, error)
	AzimuthPosition() (int, error)
	ZeroAzimuthRegister() error
	MoveShutterRelative(steps int) error
	MoveAzimuthAbsolute(steps int) error
	StopShutter() error
	StopAzimuth() error
	HomeAzimuth() error
}

// Arbiter owns all dome hardware state. Run must be started in its own
// goroutine; Submit is the only entry point safe to call concurrently from
// other goroutines (pkg/remote).
type Arbiter struct {
	cfg      config.Config
	logger   log.FieldLogger
	link     LinkOps
	ctrl     MotorOps
	state    *domestate.State
	observer geometry.Observer
	pier     geometry.Pier

	requestCh chan *Request
	moveCond  *movementBroadcaster
}

// New wires a production Arbiter: a real serial.Link and motor.Controller
// built from cfg, against a fresh domestate.State.
func New(cfg config.Config, logger log.FieldLogger) *Arbiter {
	link := serial.New(serial.Config{
		Name:    cfg.SerialPort,
		Baud:    cfg.SerialBaud,
		Timeout: cfg.SerialTimeoutDuration(),
		Retries: cfg.SerialRetries,
	}, logger.WithField("component", "serial"))

	return NewWithDeps(cfg, logger, link, motor.New(link))
}

// NewWithDeps wires an Arbiter over caller-supplied LinkOps/MotorOps
// implementations. Production code gets there via New; tests that want to
// fake the hardware boundary without a real serial link call this directly.
func NewWithDeps(cfg config.Config, logger log.FieldLogger, link LinkOps, ctrl MotorOps) *Arbiter {
	return &Arbiter{
		cfg:    cfg,
		logger: logger,
		link:   link,
		ctrl:   ctrl,
		state:  domestate.New(),
		observer: geometry.Observer{
			LatitudeDeg:  cfg.Latitude,
			LongitudeDeg: cfg.Longitude,
			AltitudeM:    cfg.Altitude,
		},
		pier: geometry.Pier{
			DomeRadiusCM:       cfg.DomeRadiusCM,
			TelescopeOffsetXCM: cfg.TelescopeOffsetXCM,
		},
		requestCh: make(chan *Request),
		moveCond:  newMovementBroadcaster(),
	}
}

// State exposes the read-only snapshot interface for pkg/remote.
func (a *Arbiter) State() *domestate.State { return a.state }

// WaitForMovement blocks until the next movement-complete broadcast or
// timeout — used by blocking remote calls (spec §4.6's "wait for
// completion, bounded by the configured move timeout").
func (a *Arbiter) WaitForMovement(timeout time.Duration) { a.moveCond.Wait(timeout) }

// Submit enqueues req and blocks for its Reply. Safe for concurrent callers.
func (a *Arbiter) Submit(req *Request) Reply {
	req.replyCh = make(chan Reply, 1)
	a.requestCh <- req
	return <-req.replyCh
}

// Run is the arbiter's single control-loop goroutine (spec §4.5). It
// returns when ctx is cancelled.
func (a *Arbiter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requestCh:
			a.iterate(req)
		case <-time.After(a.nextDelay()):
			a.iterate(nil)
		}
	}
}

// nextDelay computes the current poll period: moving_loop_delay while any
// axis is in motion, idle_loop_delay otherwise, clipped to 1s when a
// heartbeat will expire before the next tick (spec §4.5).
func (a *Arbiter) nextDelay() time.Duration {
	snap := a.state.Snapshot()

	delay := a.cfg.IdleLoopDelayDuration()
	if snap.AzimuthStatus == domestate.AzimuthMoving || snap.AzimuthStatus == domestate.AzimuthHoming ||
		snap.ShutterStatus == domestate.ShutterOpening || snap.ShutterStatus == domestate.ShutterClosing {
		delay = a.cfg.MovingLoopDelayDuration()
	}

	if snap.HeartbeatStatus == domestate.HeartbeatActive && snap.HeartbeatExpiresAt != nil &&
		time.Now().Add(delay).After(*snap.HeartbeatExpiresAt) {
		delay = time.Second
	}

	return delay
}

// iterate runs one tick of the control loop: an optional dispatched
// request (req may be nil for a plain poll), status refresh before and
// after, and the internal transitions of spec §4.5.
func (a *Arbiter) iterate(req *Request) {
	if req != nil && (req.Kind == KindConnect || req.Kind == KindDisconnect) {
		status := a.handleConnectDisconnect(req)
		a.publish(req, status, nil)
		return
	}

	snap := a.state.Snapshot()
	if !snap.Connected {
		a.publish(req, domestate.NotConnected, nil)
		return
	}

	prevAzimuth := snap.AzimuthStatus
	ev := a.refreshStatus(prevAzimuth)

	snap = a.state.Snapshot()
	if !snap.Connected {
		// refreshStatus hit a fatal I/O error and tore the connection down.
		a.publish(req, domestate.NotConnected, nil)
		return
	}

	switch {
	case snap.HeartbeatStatus == domestate.HeartbeatActive && snap.HeartbeatExpiresAt != nil && time.Now().After(*snap.HeartbeatExpiresAt):
		a.dispatchHeartbeatExpired()
	case !ev.JustHomed && req == nil && !snap.EngineeringMode && snap.TrackingCoord != nil && snap.AzimuthStatus == domestate.AzimuthIdle:
		a.maybeTrackingCorrection(snap)
	}

	if req == nil {
		return
	}

	snap = a.state.Snapshot()
	status, rejected := a.reject(snap, req)
	var err error
	if !rejected {
		status, err = a.dispatch(req, snap)
	}

	if a.state.Snapshot().Connected {
		a.refreshStatus(a.state.Snapshot().AzimuthStatus)
	}

	a.publish(req, status, err)
}

func (a *Arbiter) publish(req *Request, status domestate.CommandStatus, err error) {
	if req == nil || req.replyCh == nil {
		return
	}
	req.replyCh <- Reply{Status: status, Err: err}
}

func (a *Arbiter) handleConnectDisconnect(req *Request) domestate.CommandStatus {
	snap := a.state.Snapshot()

	switch req.Kind {
	case KindConnect:
		if snap.Connected {
			return domestate.NotDisconnected
		}
		if err := a.link.Open(); err != nil {
			a.logger.Errorf("connect: %v", err)
			return domestate.Failed
		}
		a.state.Mutate(func(m *domestate.Mutator) {
			m.SetConnected(true)
			m.SetAzimuthStatus(domestate.AzimuthNotHomed)
			m.SetShutterStatus(domestate.ShutterDisconnected) // resolved by the next refresh
			m.SetHeartbeatStatus(domestate.HeartbeatDisabled)
			m.SetHeartbeatExpiresAt(nil)
			m.SetEngineeringMode(false)
			m.SetFollowTelescope(true)
			m.SetTrackingCoord(nil)
		})
		return domestate.Succeeded

	case KindDisconnect:
		if !snap.Connected {
			return domestate.NotConnected
		}
		if err := a.link.Close(); err != nil {
			a.logger.Warnf("disconnect: close returned %v", err)
		}
		a.state.Mutate(func(m *domestate.Mutator) {
			m.SetConnected(false)
			m.SetAzimuthStatus(domestate.AzimuthDisconnected)
			m.SetShutterStatus(domestate.ShutterDisconnected)
			m.SetHeartbeatStatus(domestate.HeartbeatDisabled)
			m.SetHeartbeatExpiresAt(nil)
			m.SetTrackingCoord(nil)
		})
		return domestate.Succeeded
	}

	return domestate.Failed
}

// teardown handles a fatal motor I/O error by closing the link and
// returning the dome to a Disconnected state (spec §4.1's "fatal I/O
// errors tear down the serial handle").
func (a *Arbiter) teardown(err error) {
	a.logger.Errorf("motor I/O error, disconnecting: %v", err)
	if cerr := a.link.Close(); cerr != nil {
		a.logger.Warnf("teardown: close returned %v", cerr)
	}
	a.state.Mutate(func(m *domestate.Mutator) {
		m.SetConnected(false)
		m.SetAzimuthStatus(domestate.AzimuthDisconnected)
		m.SetShutterStatus(domestate.ShutterDisconnected)
	})
}

// statusEvents reports the transitions refreshStatus observed this tick.
type statusEvents struct {
	JustHomed bool
}

// refreshStatus polls the motor controller and updates domestate to match
// (spec §4.4's status-refresh step). On any motor I/O error it tears the
// connection down and returns a zero statusEvents.
func (a *Arbiter) refreshStatus(prevAzimuthStatus domestate.AzimuthStatus) statusEvents {
	shutterMoving, err := a.ctrl.ShutterMoving()
	if err != nil {
		a.teardown(err)
		return statusEvents{}
	}
	shutterVel, err := a.ctrl.ShutterVelocity()
	if err != nil {
		a.teardown(err)
		return statusEvents{}
	}
	shutterLimits, err := a.ctrl.ShutterLimits()
	if err != nil {
		a.teardown(err)
		return statusEvents{}
	}
	azPos, err := a.ctrl.AzimuthPosition()
	if err != nil {
		a.teardown(err)
		return statusEvents{}
	}
	azMoving, err := a.ctrl.AzimuthMoving()
	if err != nil {
		a.teardown(err)
		return statusEvents{}
	}

	prevSnap := a.state.Snapshot()
	prevShutter := prevSnap.ShutterStatus

	newShutter := computeShutterStatus(prevShutter, shutterMoving, shutterVel, shutterLimits)
	newAzimuthDeg := geometry.DegreesForSteps(azPos, a.cfg.HomeAzimuth, a.cfg.StepsPerRotation)
	newAzimuthStatus := prevAzimuthStatus

	justHomed := false
	switch {
	case prevAzimuthStatus == domestate.AzimuthHoming && !azMoving:
		if err := a.ctrl.ZeroAzimuthRegister(); err != nil {
			a.teardown(err)
			return statusEvents{}
		}
		newAzimuthDeg = a.cfg.HomeAzimuth
		newAzimuthStatus = domestate.AzimuthIdle
		justHomed = true
	case prevAzimuthStatus == domestate.AzimuthMoving && !azMoving:
		newAzimuthStatus = domestate.AzimuthIdle
	}

	heartbeatJustIdle := false
	if prevSnap.HeartbeatStatus == domestate.HeartbeatTrippedClosing && newShutter == domestate.ShutterClosed {
		heartbeatJustIdle = true
	}

	azimuthBecameIdle := newAzimuthStatus == domestate.AzimuthIdle &&
		(prevAzimuthStatus == domestate.AzimuthMoving || prevAzimuthStatus == domestate.AzimuthHoming)
	shutterReachedRest := (newShutter == domestate.ShutterOpen || newShutter == domestate.ShutterClosed) && prevShutter != newShutter

	a.state.Mutate(func(m *domestate.Mutator) {
		m.SetShutterStatus(newShutter)
		m.SetAzimuthStatus(newAzimuthStatus)
		m.SetAzimuthDegrees(newAzimuthDeg)
		if heartbeatJustIdle {
			m.SetHeartbeatStatus(domestate.HeartbeatTrippedIdle)
		}
		if justHomed {
			m.SetTrackingCoord(nil)
		}
	})

	if azimuthBecameIdle || shutterReachedRest {
		a.moveCond.Broadcast()
	}

	if justHomed {
		// The park slew is a side effect of the Homing->Idle transition
		// itself (spec §4.4), not a separate tick's internal transition —
		// chaining it here means it fires regardless of whether this
		// refresh happened before or after an unrelated request's dispatch
		// in the same iteration.
		a.dispatchSlewAzimuth(a.cfg.ParkAzimuth, a.state.Snapshot(), false)
	}

	return statusEvents{JustHomed: justHomed}
}

// computeShutterStatus derives the shutter state machine of spec §3/§4.4
// from the raw OPR MV/V/IL poll.
func computeShutterStatus(prev domestate.ShutterStatus, moving bool, velocity, limitBits int) domestate.ShutterStatus {
	closed := motor.ClosedLimit(limitBits)
	open := motor.OpenLimit(limitBits)

	switch {
	case closed && !open:
		return domestate.ShutterClosed
	case open && !closed:
		return domestate.ShutterOpen
	case moving && velocity > 0:
		return domestate.ShutterOpening
	case moving && velocity < 0:
		return domestate.ShutterClosing
	case !moving:
		return domestate.ShutterPartiallyOpen
	default:
		return prev
	}
}

// reject evaluates the rejection rules of spec §4.4/§4.6, in order. It
// returns (Succeeded, false) when req is clear to dispatch.
func (a *Arbiter) reject(snap domestate.Snapshot, req *Request) (domestate.CommandStatus, bool) {
	// Rule 1: every operation except connect/disconnect requires a live link.
	if !snap.Connected {
		return domestate.NotConnected, true
	}

	// Rule 2: engineering mode blocks everything except toggling it off again.
	if req.Kind != KindEngineeringMode && snap.EngineeringMode {
		return domestate.EngineeringModeActive, true
	}

	isShutterOrEngineering := req.Kind == KindOpenShutter || req.Kind == KindCloseShutter || req.Kind == KindEngineeringMode
	// Rule 3: a heartbeat-triggered close in progress, or already timed
	// out, blocks shutter and engineering-mode requests.
	if isShutterOrEngineering {
		switch snap.HeartbeatStatus {
		case domestate.HeartbeatTrippedClosing:
			return domestate.HeartbeatCloseInProgress, true
		case domestate.HeartbeatTrippedIdle:
			return domestate.HeartbeatTimedOut, true
		}
	}
	// stop_shutter is explicitly refused mid heartbeat-close too (spec §4.6).
	if req.Kind == KindStopShutter && snap.HeartbeatStatus == domestate.HeartbeatTrippedClosing {
		return domestate.HeartbeatCloseInProgress, true
	}

	// Rule 4: open/close without override is blocked while already moving.
	if (req.Kind == KindOpenShutter || req.Kind == KindCloseShutter) && !req.Override {
		if snap.ShutterStatus == domestate.ShutterOpening || snap.ShutterStatus == domestate.ShutterClosing {
			return domestate.Blocked, true
		}
	}

	// Rule 5: home/slew/engineering are blocked while the azimuth axis is
	// already moving or homing.
	if (req.Kind == KindHomeAzimuth || req.Kind == KindSlewAzimuth || req.Kind == KindEngineeringMode) &&
		(snap.AzimuthStatus == domestate.AzimuthMoving || snap.AzimuthStatus == domestate.AzimuthHoming) {
		return domestate.Blocked, true
	}

	// Rule 6: azimuth moves require a prior home.
	if (req.Kind == KindSlewAzimuth || req.Kind == KindTrackRADec) && snap.AzimuthStatus == domestate.AzimuthNotHomed {
		return domestate.NotHomed, true
	}

	// Rule 7: heartbeat timeout must be in [0,180).
	if req.Kind == KindHeartbeat && (req.HeartbeatSeconds < 0 || req.HeartbeatSeconds >= heartbeatMaxSeconds) {
		return domestate.HeartbeatInvalidTimeout, true
	}

	// Rule 8: engineering mode can only be enabled with the heartbeat disabled.
	if req.Kind == KindEngineeringMode && req.EngineeringEnable && snap.HeartbeatStatus != domestate.HeartbeatDisabled {
		return domestate.EngineeringModeRequiresHeartbeatDisabled, true
	}

	// Follow mode owns the azimuth axis while active: direct client azimuth
	// commands are refused, but the telescope notifications that drive
	// following must still reach dispatch (spec §4.6).
	if snap.FollowTelescope && req.Origin == OriginControl && (req.Kind == KindStopAzimuth || req.Kind == KindSlewAzimuth ||
		req.Kind == KindTrackRADec || req.Kind == KindPark) {
		return domestate.FollowModeActive, true
	}

	return domestate.Succeeded, false
}

// dispatch performs the motor-level work for an accepted request.
func (a *Arbiter) dispatch(req *Request, snap domestate.Snapshot) (domestate.CommandStatus, error) {
	switch req.Kind {
	case KindOpenShutter:
		return a.dispatchShutterMove(fullOpenSteps, domestate.ShutterOpening)
	case KindCloseShutter:
		return a.dispatchShutterMove(fullCloseSteps, domestate.ShutterClosing)

	case KindStopShutter:
		if snap.HeartbeatStatus == domestate.HeartbeatTrippedIdle {
			return domestate.Succeeded, nil // already closed; conservative no-op
		}
		if err := a.ctrl.StopShutter(); err != nil {
			return domestate.Failed, err
		}
		return domestate.Succeeded, nil

	case KindStopAzimuth:
		if err := a.ctrl.StopAzimuth(); err != nil {
			return domestate.Failed, err
		}
		return domestate.Succeeded, nil

	case KindHomeAzimuth:
		if err := a.ctrl.HomeAzimuth(); err != nil {
			return domestate.Failed, err
		}
		a.state.Mutate(func(m *domestate.Mutator) { m.SetAzimuthStatus(domestate.AzimuthHoming) })
		return domestate.Succeeded, nil

	case KindSlewAzimuth:
		return a.dispatchSlewAzimuth(req.AzimuthDeg, snap, true)

	case KindPark:
		return a.dispatchSlewAzimuth(a.cfg.ParkAzimuth, snap, true)

	case KindTrackRADec:
		target := geometry.DomeAzimuthForRADec(geometry.EquatorialDeg{RADeg: req.RADeg, DecDeg: req.DecDeg}, a.observer, a.pier, time.Now())
		status, err := a.dispatchSlewAzimuth(target, snap, false)
		if err == nil && status == domestate.Succeeded {
			a.state.Mutate(func(m *domestate.Mutator) {
				m.SetTrackingCoord(&domestate.TrackingCoord{RADeg: req.RADeg, DecDeg: req.DecDeg})
			})
		}
		return status, err

	case KindSlewRADec:
		target := geometry.DomeAzimuthForRADec(geometry.EquatorialDeg{RADeg: req.RADeg, DecDeg: req.DecDeg}, a.observer, a.pier, time.Now())
		return a.dispatchSlewAzimuth(target, snap, true)

	case KindSlewAltAz:
		target := geometry.DomeAzimuth(req.AltDeg, req.AzimuthDeg, a.pier)
		return a.dispatchSlewAzimuth(target, snap, true)

	case KindHeartbeat:
		return a.dispatchHeartbeat(req.HeartbeatSeconds)

	case KindEngineeringMode:
		a.state.Mutate(func(m *domestate.Mutator) {
			m.SetEngineeringMode(req.EngineeringEnable)
			if req.EngineeringEnable {
				// spec §3: tracking_coord non-empty implies engineering_mode
				// false; entering engineering mode drops any active target
				// so the tracking correction below can't fight the operator.
				m.SetTrackingCoord(nil)
			}
		})
		return domestate.Succeeded, nil

	case KindSetFollowMode:
		a.state.Mutate(func(m *domestate.Mutator) { m.SetFollowTelescope(req.FollowEnable) })
		return domestate.Succeeded, nil
	}

	return domestate.Failed, fmt.Errorf("arbiter: unhandled request kind %v", req.Kind)
}

func (a *Arbiter) dispatchShutterMove(steps int, eager domestate.ShutterStatus) (domestate.CommandStatus, error) {
	if err := a.ctrl.MoveShutterRelative(steps); err != nil {
		return domestate.Failed, err
	}
	a.state.Mutate(func(m *domestate.Mutator) { m.SetShutterStatus(eager) })
	return domestate.Succeeded, nil
}

// dispatchSlewAzimuth unwraps targetWrapped against the dome's current
// unwrapped azimuth, converts to motor steps and issues the move (spec
// §4.3). clearTracking drops any active RA/Dec tracking target, since a
// one-shot or manual slew supersedes it.
func (a *Arbiter) dispatchSlewAzimuth(targetWrapped float64, snap domestate.Snapshot, clearTracking bool) (domestate.CommandStatus, error) {
	wrapped := domestate.WrappedAzimuth(targetWrapped)
	chosen := geometry.UnwrapTarget(snap.AzimuthDegrees, wrapped)
	steps := geometry.StepsForTarget(chosen, a.cfg.HomeAzimuth, a.cfg.StepsPerRotation)

	if err := a.ctrl.MoveAzimuthAbsolute(steps); err != nil {
		return domestate.Failed, err
	}
	a.state.Mutate(func(m *domestate.Mutator) {
		m.SetAzimuthStatus(domestate.AzimuthMoving)
		if clearTracking {
			m.SetTrackingCoord(nil)
		}
	})
	return domestate.Succeeded, nil
}

func (a *Arbiter) dispatchHeartbeat(seconds int) (domestate.CommandStatus, error) {
	if seconds == 0 {
		a.state.Mutate(func(m *domestate.Mutator) {
			m.SetHeartbeatStatus(domestate.HeartbeatDisabled)
			m.SetHeartbeatExpiresAt(nil)
		})
		return domestate.Succeeded, nil
	}

	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	a.state.Mutate(func(m *domestate.Mutator) {
		m.SetHeartbeatStatus(domestate.HeartbeatActive)
		m.SetHeartbeatExpiresAt(&deadline)
	})
	return domestate.Succeeded, nil
}

// dispatchHeartbeatExpired is the internal transition of spec §4.5 step 3:
// an expired heartbeat triggers a forced, overridden shutter close.
func (a *Arbiter) dispatchHeartbeatExpired() (domestate.CommandStatus, error) {
	status, err := a.dispatchShutterMove(fullCloseSteps, domestate.ShutterClosing)
	if err == nil && status == domestate.Succeeded {
		a.state.Mutate(func(m *domestate.Mutator) { m.SetHeartbeatStatus(domestate.HeartbeatTrippedClosing) })
	}
	return status, err
}

// maybeTrackingCorrection is the internal transition of spec §4.5 step 5:
// while idle and slit-tracking, recompute the target and nudge the dome
// ahead of the telescope's motion if it has drifted past
// tracking_max_separation.
func (a *Arbiter) maybeTrackingCorrection(snap domestate.Snapshot) {
	eq := geometry.EquatorialDeg{RADeg: snap.TrackingCoord.RADeg, DecDeg: snap.TrackingCoord.DecDeg}
	now := time.Now()
	target := geometry.DomeAzimuthForRADec(eq, a.observer, a.pier, now)

	delta := geometry.ShortestSignedDelta(domestate.WrappedAzimuth(snap.AzimuthDegrees), target)
	if math.Abs(delta) <= a.cfg.TrackingMaxSeparation {
		return
	}

	future := geometry.DomeAzimuthForRADec(eq, a.observer, a.pier, now.Add(60*time.Second))
	sign := 1.0
	if geometry.ShortestSignedDelta(target, future) < 0 {
		sign = -1.0
	}
	lead := domestate.WrappedAzimuth(target + sign*a.cfg.TrackingMaxSeparation)

	a.dispatchSlewAzimuth(lead, snap, false)
}
