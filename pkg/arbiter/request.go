package arbiter

import "github.com/CerecedaObs/domed/pkg/domestate"

// Origin identifies which caller class submitted a Request (spec §4.6):
// control callers (control_ips) and telescope callers (telescope_ips). The
// IP/allow-list check itself happens one layer up, in pkg/remote — by the
// time a Request reaches the arbiter, its Origin has already been decided.
type Origin int

const (
	OriginControl Origin = iota
	OriginTelescope
	originInternal // arbiter-originated requests never cross the queue boundary
)

// Kind is the tagged-union discriminant for everything the arbiter can be
// asked to do (spec §4.4/§4.6). A Kind's meaningful fields are documented on
// the Kind itself; the rest of Request is zero.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindOpenShutter  // Override
	KindCloseShutter // Override
	KindStopShutter
	KindStopAzimuth
	KindHomeAzimuth
	KindSlewAzimuth // AzimuthDeg: wrapped target
	KindPark
	KindTrackRADec // RADeg, DecDeg
	KindSlewRADec  // RADeg, DecDeg: one-shot, no tracking_coord
	KindSlewAltAz  // AltDeg, AzimuthDeg
	KindHeartbeat  // HeartbeatSeconds
	KindEngineeringMode
	KindSetFollowMode
)

// Request is the single payload type the arbiter's request queue carries.
// Which fields are meaningful depends on Kind, per the comments above.
type Request struct {
	Kind   Kind
	Origin Origin

	AzimuthDeg float64
	AltDeg     float64
	RADeg      float64
	DecDeg     float64

	Override          bool
	HeartbeatSeconds  int
	EngineeringEnable bool
	FollowEnable      bool

	replyCh chan Reply
}

// Reply is the arbiter's answer to a submitted Request.
type Reply struct {
	Status domestate.CommandStatus
	Err    error
}
