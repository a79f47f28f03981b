// Package mqttnotify bridges the telescope control system's slit-following
// notifications onto the dome core's remote surface (spec §4.6's
// telescope-caller operations). The RPC mechanism itself is out of scope
// per spec §1; this package is one concrete transport for it, grounded on
// the teacher's pkg/dome.Dome.Run subscribe/unsubscribe pattern but
// carrying the telescope-notification payloads of this domain instead of
// ZRO dome telemetry.
package mqttnotify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/CerecedaObs/domed/pkg/remote"
)

// radecMsg is the payload of "<topic_root>/radec".
type radecMsg struct {
	RADeg    float64 `json:"ra_deg"`
	DecDeg   float64 `json:"dec_deg"`
	Tracking bool    `json:"tracking"`
}

// altazMsg is the payload of "<topic_root>/altaz".
type altazMsg struct {
	AltDeg float64 `json:"alt_deg"`
	AzDeg  float64 `json:"az_deg"`
}

// Subscriber subscribes to the telescope-notification topics and forwards
// each message to the remote surface as a telescope-caller call. The MQTT
// broker connection is itself the authentication boundary for this
// transport (spec §1's "authenticated calls tagged as ... telescope
// origin"), so every message is attributed to callerIP — conventionally
// the sole address in telescope_ips, since this bridge represents a single
// logical telescope-control endpoint.
type Subscriber struct {
	client    mqtt.Client
	surface   *remote.Surface
	topicRoot string
	callerIP  string
	logger    log.FieldLogger
}

// New wraps an already-configured (but not yet connected) mqtt.Client.
func New(client mqtt.Client, surface *remote.Surface, topicRoot, callerIP string, logger log.FieldLogger) *Subscriber {
	return &Subscriber{
		client:    client,
		surface:   surface,
		topicRoot: topicRoot,
		callerIP:  callerIP,
		logger:    logger,
	}
}

// Run connects the client, subscribes to every notification topic under
// topicRoot, and unsubscribes/disconnects when ctx is cancelled by the
// caller (mirroring the teacher's Dome.Run: subscribe up front, defer the
// unsubscribe, block until told to stop).
func (s *Subscriber) Run(ctx context.Context) error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %v", token.Error())
	}
	defer s.client.Disconnect(250)

	topics := map[string]mqtt.MessageHandler{
		s.topicRoot + "/radec":   s.radecHandler,
		s.topicRoot + "/altaz":   s.altazHandler,
		s.topicRoot + "/stopped": s.stoppedHandler,
		s.topicRoot + "/parked":  s.parkedHandler,
	}
	for topic, handler := range topics {
		if token := s.client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribing to %s: %v", topic, token.Error())
		}
		defer s.client.Unsubscribe(topic)
	}

	<-ctx.Done()
	s.logger.Info("stopping telescope notification subscriber")
	return nil
}

func (s *Subscriber) radecHandler(_ mqtt.Client, msg mqtt.Message) {
	var m radecMsg
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		s.logger.Warnf("radec notification: unparseable payload: %v", err)
		return
	}
	status := s.surface.NotifyTelescopeRADec(s.callerIP, m.RADeg, m.DecDeg, m.Tracking)
	s.logger.Debugf("notify_telescope_radec(%.4f,%.4f,tracking=%v) -> %s", m.RADeg, m.DecDeg, m.Tracking, status)
}

func (s *Subscriber) altazHandler(_ mqtt.Client, msg mqtt.Message) {
	var m altazMsg
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		s.logger.Warnf("altaz notification: unparseable payload: %v", err)
		return
	}
	status := s.surface.NotifyTelescopeAltAz(s.callerIP, m.AltDeg, m.AzDeg)
	s.logger.Debugf("notify_telescope_altaz(%.4f,%.4f) -> %s", m.AltDeg, m.AzDeg, status)
}

func (s *Subscriber) stoppedHandler(_ mqtt.Client, _ mqtt.Message) {
	status := s.surface.NotifyTelescopeStopped(s.callerIP)
	s.logger.Debugf("notify_telescope_stopped() -> %s", status)
}

func (s *Subscriber) parkedHandler(_ mqtt.Client, _ mqtt.Message) {
	status := s.surface.NotifyTelescopeParked(s.callerIP)
	s.logger.Debugf("notify_telescope_parked() -> %s", status)
}
