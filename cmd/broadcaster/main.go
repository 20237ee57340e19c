// Command broadcaster is the process entrypoint for the capture/encode
// core: it loads configuration, starts the media pipeline, dials the
// signaling broker, and drives one peer.Session per viewer until a
// SIGINT/SIGTERM tells it to shut down. Process arguments and environment
// inputs match spec.md §6: (signalingUrl, streamId, videoDevicePath,
// audioDevicePath, cameraKind), with the teacher's config.ParseConfig
// supplying the width/height/framerate/bitrate/rotation values that accompanied
// camera behavior in the original server.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"webrtc-broadcast-core/config"
	"webrtc-broadcast-core/pipeline"
)

func main() {
	conf := config.ParseConfig("broadcaster.conf")

	applyArgs(conf, os.Args[1:])

	log.Printf("starting broadcaster: %s", conf.String())

	pl, err := pipeline.New(conf)
	if err != nil {
		log.Fatalf("pipeline init failed: %v", err)
	}
	if err := pl.Start(); err != nil {
		log.Fatalf("pipeline start failed: %v", err)
	}

	sc, err := dialSignaling(conf.SignalingURL, conf.StreamID, pl, conf.AudioDevice != "")
	if err != nil {
		log.Fatalf("signaling dial failed: %v", err)
	}
	go sc.run()

	log.Printf("broadcaster running for stream %s", conf.StreamID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down: stopping pipeline and detaching peers")
	sc.closeAllSessions()
	_ = pl.Stop()
	_ = sc.conn.Close()
}

// applyArgs fills in the process-argument contract from spec.md §6:
// (signalingUrl, streamId, videoDevicePath, audioDevicePath, cameraKind).
// Missing or empty arguments fall back to the defaults listed below; for
// cameraKind that default is the value conf already holds from
// config.ParseConfig.
func applyArgs(conf *config.ServerConfig, args []string) {
	defaults := []string{"ws://localhost:8765/ws", "default", "", "", string(conf.CameraKind)}
	for i := range defaults {
		if i >= len(args) || args[i] == "" {
			continue
		}
		defaults[i] = args[i]
	}

	conf.SignalingURL = defaults[0]
	conf.StreamID = defaults[1]
	conf.VideoDevice = defaults[2]
	conf.AudioDevice = defaults[3]
	conf.CameraKind = config.CameraKind(defaults[4])
}
