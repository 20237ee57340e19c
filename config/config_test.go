package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateClampsInvalidValues(t *testing.T) {
	c := &ServerConfig{
		Addr:      -1,
		Width:     0,
		Height:    0,
		Framerate: 999,
		Rotation:  45,
		CorsOrigin: "*",
		CameraKind: "bogus",
	}
	c.Validate()

	assert.Equal(t, 8765, c.Addr)
	assert.Equal(t, 1280, c.Width)
	assert.Equal(t, 720, c.Height)
	assert.Equal(t, 30, c.Framerate)
	assert.Equal(t, 180, c.Rotation)
	assert.Equal(t, CameraPiModern, c.CameraKind)
}

func TestApplyEnvClampsDynamicTURNTTL(t *testing.T) {
	os.Setenv("TURN_PROVIDER_ENDPOINT", "https://turn.example.com/creds")
	os.Setenv("TURN_PROVIDER_KEY_ID", "key-1")
	os.Setenv("TURN_PROVIDER_API_TOKEN", "token-1")
	os.Setenv("TURN_PROVIDER_TTL", "999999")
	defer func() {
		os.Unsetenv("TURN_PROVIDER_ENDPOINT")
		os.Unsetenv("TURN_PROVIDER_KEY_ID")
		os.Unsetenv("TURN_PROVIDER_API_TOKEN")
		os.Unsetenv("TURN_PROVIDER_TTL")
	}()

	c := &ServerConfig{}
	c.applyEnv()

	assert.True(t, c.DynamicTURN.Enabled())
	assert.LessOrEqual(t, c.DynamicTURN.TTL.Hours(), 24.0, "credential TTL must be bounded to at most 24h")
}

func TestCaptureCommandPerCameraKind(t *testing.T) {
	base := &ServerConfig{Width: 640, Height: 480, Framerate: 30, Rotation: 0}

	base.CameraKind = CameraPiModern
	assert.Contains(t, base.CaptureCommand(), "rpicam-vid")

	base.CameraKind = CameraPiLegacy
	assert.Contains(t, base.CaptureCommand(), "raspivid")

	base.CameraKind = CameraUSB
	base.VideoDevice = "/dev/video0"
	assert.Contains(t, base.CaptureCommand(), "ffmpeg")
	assert.Contains(t, base.CaptureCommand(), "/dev/video0")
}
