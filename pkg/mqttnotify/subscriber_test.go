package mqttnotify

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CerecedaObs/domed/pkg/arbiter"
	"github.com/CerecedaObs/domed/pkg/config"
	"github.com/CerecedaObs/domed/pkg/remote"
)

// fakeMessage is a minimal mqtt.Message for exercising handlers without a
// broker connection.
type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "test/topic" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeLink struct{}

func (fakeLink) Open() error  { return nil }
func (fakeLink) Close() error { return nil }

type fakeMotor struct{}

func (fakeMotor) ShutterMoving() (bool, error)        { return false, nil }
func (fakeMotor) AzimuthMoving() (bool, error)        { return false, nil }
func (fakeMotor) ShutterVelocity() (int, error)       { return 0, nil }
func (fakeMotor) ShutterLimits() (int, error)         { return 0, nil }
func (fakeMotor) AzimuthPosition() (int, error)       { return 0, nil }
func (fakeMotor) ZeroAzimuthRegister() error          { return nil }
func (fakeMotor) MoveShutterRelative(steps int) error { return nil }
func (fakeMotor) MoveAzimuthAbsolute(steps int) error { return nil }
func (fakeMotor) StopShutter() error                  { return nil }
func (fakeMotor) StopAzimuth() error                  { return nil }
func (fakeMotor) HomeAzimuth() error                  { return nil }

func newTestSubscriber(t *testing.T) *Subscriber {
	t.Helper()
	cfg := config.Config{
		SerialPort:            "/dev/fake",
		SerialBaud:            9600,
		SerialTimeout:         1,
		SerialRetries:         1,
		StepsPerRotation:      36000,
		HomeAzimuth:           110,
		ParkAzimuth:           200,
		TrackingMaxSeparation: 2,
		IdleLoopDelay:         5,
		MovingLoopDelay:       1,
		AzimuthMoveTimeout:    5,
		ShutterMoveTimeout:    5,
		DomeRadiusCM:          300,
		TelescopeOffsetXCM:    50,
		ControlIPs:            []string{"10.0.0.1"},
		TelescopeIPs:          []string{"10.0.0.2"},
	}
	arb := arbiter.NewWithDeps(cfg, log.New(), fakeLink{}, fakeMotor{})
	ctx, cancel := context.WithCancel(context.Background())
	go arb.Run(ctx)
	t.Cleanup(cancel)

	surface := remote.New(arb, cfg)
	return New(nil, surface, "dome/telescope", "10.0.0.2", log.New())
}

func TestRadecHandlerForwardsTrackingCoordinate(t *testing.T) {
	s := newTestSubscriber(t)
	require.Equal(t, "Succeeded", s.surface.Initialize("10.0.0.1").String())
	require.Equal(t, "Succeeded", s.surface.HomeAzimuth("10.0.0.1", true).String())

	// follow_telescope defaults true on connect; this should reach the
	// arbiter as a track_radec request rather than being swallowed.
	s.radecHandler(nil, &fakeMessage{payload: []byte(`{"ra_deg":10.5,"dec_deg":-5.2,"tracking":true}`)})
	snap := s.surface.Status()
	require.NotNil(t, snap.TrackingRA)
	assert.Equal(t, 10.5, *snap.TrackingRA)
}

func TestAltazHandlerUnparseablePayloadDoesNotPanic(t *testing.T) {
	s := newTestSubscriber(t)
	require.Equal(t, "Succeeded", s.surface.Initialize("10.0.0.1").String())

	assert.NotPanics(t, func() {
		s.altazHandler(nil, &fakeMessage{payload: []byte(`not json`)})
	})
}

func TestStoppedAndParkedHandlersDoNotPanic(t *testing.T) {
	s := newTestSubscriber(t)
	require.Equal(t, "Succeeded", s.surface.Initialize("10.0.0.1").String())

	assert.NotPanics(t, func() {
		s.stoppedHandler(nil, &fakeMessage{})
		s.parkedHandler(nil, &fakeMessage{})
	})
}
