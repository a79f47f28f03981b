// Package config loads the dome core's configuration (spec §3/§6): a JSON
// file, effective at start and never hot-reloaded. Validation follows the
// teacher's Config.Validate() idiom (pkg/dome/dome.go) — range checks that
// fmt.Errorf on the first violation found.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the full set of recognised options from spec §3.
type Config struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`

	SerialPort    string `json:"serial_port"`
	SerialBaud    int    `json:"serial_baud"`
	SerialTimeout int    `json:"serial_timeout"`
	SerialRetries int    `json:"serial_retries"`

	StepsPerRotation int     `json:"steps_per_rotation"`
	HomeAzimuth      float64 `json:"home_azimuth"`
	ParkAzimuth      float64 `json:"park_azimuth"`

	TrackingMaxSeparation float64 `json:"tracking_max_separation"`

	IdleLoopDelay   int `json:"idle_loop_delay"`
	MovingLoopDelay int `json:"moving_loop_delay"`

	AzimuthMoveTimeout int `json:"azimuth_move_timeout"`
	ShutterMoveTimeout int `json:"shutter_move_timeout"`

	DomeRadiusCM       float64 `json:"dome_radius_cm"`
	TelescopeOffsetXCM float64 `json:"telescope_offset_x_cm"`

	ControlIPs   []string `json:"control_ips"`
	TelescopeIPs []string `json:"telescope_ips"`

	// MQTTBroker/MQTTTopicRoot configure the telescope-notification
	// transport (SPEC_FULL §4) — the notification interface's wire
	// mechanism, not part of spec.md's core data model, but needed to
	// stand the daemon up.
	MQTTBroker    string `json:"mqtt_broker"`
	MQTTTopicRoot string `json:"mqtt_topic_root"`
}

// Load reads and validates a JSON config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %v", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %v", path, err)
	}

	return cfg, nil
}

// Validate range-checks the configuration, in the teacher's
// Config.Validate() style.
func (c *Config) Validate() error {
	if c.SerialPort == "" {
		return fmt.Errorf("serial_port must be set")
	}
	if c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be greater than 0")
	}
	if c.SerialTimeout <= 0 {
		return fmt.Errorf("serial_timeout must be greater than 0")
	}
	if c.SerialRetries <= 0 {
		return fmt.Errorf("serial_retries must be greater than 0")
	}
	if c.StepsPerRotation <= 0 {
		return fmt.Errorf("steps_per_rotation must be greater than 0")
	}
	if c.TrackingMaxSeparation < 0 {
		return fmt.Errorf("tracking_max_separation must be non-negative")
	}
	if c.IdleLoopDelay <= 0 {
		return fmt.Errorf("idle_loop_delay must be greater than 0")
	}
	if c.MovingLoopDelay <= 0 {
		return fmt.Errorf("moving_loop_delay must be greater than 0")
	}
	if c.AzimuthMoveTimeout <= 0 {
		return fmt.Errorf("azimuth_move_timeout must be greater than 0")
	}
	if c.ShutterMoveTimeout <= 0 {
		return fmt.Errorf("shutter_move_timeout must be greater than 0")
	}
	if c.DomeRadiusCM <= 0 {
		return fmt.Errorf("dome_radius_cm must be greater than 0")
	}
	return nil
}

// SerialTimeoutDuration is SerialTimeout as a time.Duration.
func (c *Config) SerialTimeoutDuration() time.Duration {
	return time.Duration(c.SerialTimeout) * time.Second
}

// IdleLoopDelayDuration is IdleLoopDelay as a time.Duration.
func (c *Config) IdleLoopDelayDuration() time.Duration {
	return time.Duration(c.IdleLoopDelay) * time.Second
}

// MovingLoopDelayDuration is MovingLoopDelay as a time.Duration.
func (c *Config) MovingLoopDelayDuration() time.Duration {
	return time.Duration(c.MovingLoopDelay) * time.Second
}

// AzimuthMoveTimeoutDuration is AzimuthMoveTimeout as a time.Duration.
func (c *Config) AzimuthMoveTimeoutDuration() time.Duration {
	return time.Duration(c.AzimuthMoveTimeout) * time.Second
}

// ShutterMoveTimeoutDuration is ShutterMoveTimeout as a time.Duration.
func (c *Config) ShutterMoveTimeoutDuration() time.Duration {
	return time.Duration(c.ShutterMoveTimeout) * time.Second
}

// IsControlIP reports whether ip is in the control_ips allow-list.
func (c *Config) IsControlIP(ip string) bool {
	return containsIP(c.ControlIPs, ip)
}

// IsTelescopeIP reports whether ip is in the telescope_ips allow-list.
func (c *Config) IsTelescopeIP(ip string) bool {
	return containsIP(c.TelescopeIPs, ip)
}

func containsIP(list []string, ip string) bool {
	for _, v := range list {
		if v == ip {
			return true
		}
	}
	return false
}
