// Command broker runs the signaling broker and its HTTP surface (spec.md
// §6): /health, /status, /turn-credentials, and the /ws upgrade that both
// the broadcaster core and every viewer dial into.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"webrtc-broadcast-core/broker"
	"webrtc-broadcast-core/config"
	"webrtc-broadcast-core/httpapi"
	"webrtc-broadcast-core/turn"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	confPath := flag.String("config", "broadcaster.conf", "path to key=value config file (used for TURN env overrides)")
	flag.Parse()

	conf := config.ParseConfig(*confPath)

	b := broker.New()
	defer b.Close()

	provisioner := turn.New(conf)
	server := httpapi.New(b, provisioner, time.Now())

	mux := http.NewServeMux()
	server.Routes(mux)

	log.Printf("signaling broker listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("broker server failed: %v", err)
	}
}
