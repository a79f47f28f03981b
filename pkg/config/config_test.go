package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Latitude:              34.0,
		Longitude:             -118.0,
		Altitude:              500,
		SerialPort:            "/dev/ttyUSB0",
		SerialBaud:            9600,
		SerialTimeout:         2,
		SerialRetries:         3,
		StepsPerRotation:      36000,
		HomeAzimuth:           110,
		ParkAzimuth:           200,
		TrackingMaxSeparation: 2,
		IdleLoopDelay:         5,
		MovingLoopDelay:       1,
		AzimuthMoveTimeout:    120,
		ShutterMoveTimeout:    120,
		DomeRadiusCM:          300,
		TelescopeOffsetXCM:    50,
		ControlIPs:            []string{"10.0.0.1"},
		TelescopeIPs:          []string{"10.0.0.2"},
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingPort(t *testing.T) {
	cfg := validConfig()
	cfg.SerialPort = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroStepsPerRotation(t *testing.T) {
	cfg := validConfig()
	cfg.StepsPerRotation = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeTrackingSeparation(t *testing.T) {
	cfg := validConfig()
	cfg.TrackingMaxSeparation = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := validConfig()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dome.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.SerialBaud = 0
	data, _ := json.Marshal(cfg)

	path := filepath.Join(t.TempDir(), "dome.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestIsControlAndTelescopeIP(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.IsControlIP("10.0.0.1"))
	assert.False(t, cfg.IsControlIP("10.0.0.2"))
	assert.True(t, cfg.IsTelescopeIP("10.0.0.2"))
	assert.False(t, cfg.IsTelescopeIP("10.0.0.1"))
}
