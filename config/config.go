// Package config loads broadcaster process configuration from a key=value
// file plus environment variable overrides for inputs that are naturally
// environmental (TURN credentials).
package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// CameraKind selects the capture command template used for the video device.
type CameraKind string

const (
	CameraPiModern CameraKind = "pi-modern" // rpicam-vid
	CameraPiLegacy CameraKind = "pi-legacy" // raspivid
	CameraUSB      CameraKind = "usb"       // ffmpeg v4l2 capture + software H264 encode
)

// StaticTURN is a single pre-provisioned TURN server, set entirely from
// environment variables.
type StaticTURN struct {
	URL      string
	Username string
	Password string
}

// DynamicTURN describes how to fetch short-lived TURN credentials from a
// third-party provider at /turn-credentials request time.
type DynamicTURN struct {
	Endpoint string
	KeyID    string
	APIToken string
	TTL      time.Duration
}

// Enabled reports whether enough fields are present to attempt a fetch.
func (d DynamicTURN) Enabled() bool {
	return d.Endpoint != "" && d.KeyID != "" && d.APIToken != ""
}

// ServerConfig holds the broadcaster's process-wide configuration.
type ServerConfig struct {
	Addr       int
	Width      int
	Height     int
	Framerate  int
	Rotation   int
	Bitrate    int // Optional: H264 bitrate in bits/sec. If 0, the capture command chooses automatically.
	CorsOrigin string

	SignalingURL string
	StreamID     string
	VideoDevice  string
	AudioDevice  string
	CameraKind   CameraKind

	StaticTURN  StaticTURN
	DynamicTURN DynamicTURN
}

// ParseConfig loads configuration from the given file path (TOML-like,
// key=value per line), then layers environment variable overrides on top.
// A missing file is not an error: documented defaults apply.
func ParseConfig(path string) *ServerConfig {
	conf := &ServerConfig{
		Addr:       8765,
		Width:      1280,
		Height:     720,
		Framerate:  30,
		Rotation:   180,
		CorsOrigin: "*",
		CameraKind: CameraPiModern,
	}

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
			switch key {
			case "addr":
				if v, err := strconv.Atoi(val); err == nil {
					conf.Addr = v
				}
			case "width":
				if v, err := strconv.Atoi(val); err == nil {
					conf.Width = v
				}
			case "height":
				if v, err := strconv.Atoi(val); err == nil {
					conf.Height = v
				}
			case "framerate":
				if v, err := strconv.Atoi(val); err == nil {
					conf.Framerate = v
				}
			case "rotation":
				if v, err := strconv.Atoi(val); err == nil {
					conf.Rotation = v
				}
			case "bitrate":
				if v, err := strconv.Atoi(val); err == nil {
					conf.Bitrate = v
				}
			case "cors_origin":
				conf.CorsOrigin = val
			case "camera_kind":
				conf.CameraKind = CameraKind(val)
			}
		}
	}

	conf.applyEnv()
	conf.Validate()

	return conf
}

// applyEnv layers TURN configuration from the environment per the process
// contract: a static server plus optional dynamic provider credentials, with
// dynamic taking priority when both are present.
func (c *ServerConfig) applyEnv() {
	c.StaticTURN = StaticTURN{
		URL:      os.Getenv("TURN_URL"),
		Username: os.Getenv("TURN_USERNAME"),
		Password: os.Getenv("TURN_PASSWORD"),
	}

	ttl := 12 * time.Hour
	if raw := os.Getenv("TURN_PROVIDER_TTL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	if ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}

	c.DynamicTURN = DynamicTURN{
		Endpoint: os.Getenv("TURN_PROVIDER_ENDPOINT"),
		KeyID:    os.Getenv("TURN_PROVIDER_KEY_ID"),
		APIToken: os.Getenv("TURN_PROVIDER_API_TOKEN"),
		TTL:      ttl,
	}
}

// Validate checks configuration values and applies corrections or warnings,
// mirroring the teacher's "clamp to a safe default and log a WARNING" idiom.
func (c *ServerConfig) Validate() {
	if c.Addr < 1 || c.Addr > 65535 {
		log.Printf("WARNING: Invalid port %d, using default 8765", c.Addr)
		c.Addr = 8765
	}

	if c.Width <= 0 {
		log.Printf("WARNING: Invalid width %d, using default 1280", c.Width)
		c.Width = 1280
	}
	if c.Height <= 0 {
		log.Printf("WARNING: Invalid height %d, using default 720", c.Height)
		c.Height = 720
	}

	if c.Framerate <= 0 || c.Framerate > 120 {
		log.Printf("WARNING: Invalid framerate %d, using default 30", c.Framerate)
		c.Framerate = 30
	}

	validRotations := map[int]bool{0: true, 90: true, 180: true, 270: true}
	if !validRotations[c.Rotation] {
		log.Printf("WARNING: Invalid rotation %d, using default 180", c.Rotation)
		c.Rotation = 180
	}

	if c.CorsOrigin == "*" {
		log.Println("WARNING: CORS origin set to '*' - this is insecure for production")
	}

	switch c.CameraKind {
	case CameraPiModern, CameraPiLegacy, CameraUSB:
	default:
		log.Printf("WARNING: unknown camera kind %q, using %s", c.CameraKind, CameraPiModern)
		c.CameraKind = CameraPiModern
	}
}

// CaptureCommand returns the shell command used to produce a raw H264
// Annex-B stream on stdout for the configured camera kind, the Go
// equivalent of the teacher's width/height/framerate/rotation-driven
// rpicam-vid invocation, generalized across camera kinds.
func (c *ServerConfig) CaptureCommand() string {
	bitrateArg := ""
	if c.Bitrate > 0 {
		bitrateArg = fmt.Sprintf(" --bitrate %d", c.Bitrate)
	}

	switch c.CameraKind {
	case CameraPiLegacy:
		return fmt.Sprintf("raspivid -t 0 --width %d --height %d --framerate %d --rotation %d --inline%s -o -",
			c.Width, c.Height, c.Framerate, c.Rotation, bitrateArg)
	case CameraUSB:
		return fmt.Sprintf("ffmpeg -f v4l2 -framerate %d -video_size %dx%d -i %s -c:v libx264 -preset ultrafast -tune zerolatency -f h264 -",
			c.Framerate, c.Width, c.Height, c.VideoDevice)
	default: // CameraPiModern
		return fmt.Sprintf("rpicam-vid -t 0 --width %d --height %d --framerate %d --rotation %d --inline%s -o -",
			c.Width, c.Height, c.Framerate, c.Rotation, bitrateArg)
	}
}

// AudioCaptureCommand returns the shell command that produces raw PCM on
// stdout for the configured audio device, to be piped through an Opus
// encoder subprocess by the pipeline's audio capture source.
func (c *ServerConfig) AudioCaptureCommand() string {
	device := c.AudioDevice
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("arecord -D %s -f S16_LE -r 48000 -c 2 -t raw", device)
}

// String returns a formatted string representation of the config for logging.
func (c *ServerConfig) String() string {
	bitrate := "auto"
	if c.Bitrate > 0 {
		bitrate = fmt.Sprintf("%dkbps", c.Bitrate/1000)
	}
	return fmt.Sprintf("Stream=%s, Addr=%d, Resolution=%dx%d@%dfps, Rotation=%d°, Bitrate=%s, CORS=%s, Camera=%s",
		c.StreamID, c.Addr, c.Width, c.Height, c.Framerate, c.Rotation, bitrate, c.CorsOrigin, c.CameraKind)
}
