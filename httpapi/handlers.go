// Package httpapi implements the HTTP surface adjunct to signaling, spec.md
// §6: /health, /status, /turn-credentials, and the /ws upgrade into the
// broker. Grounded on the teacher's internal/recording_handlers.go JSON
// response style (content-type header, json.NewEncoder, plain http.Error
// on failure), generalized from recording-status payloads to this core's
// own response shapes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"webrtc-broadcast-core/broker"
	"webrtc-broadcast-core/turn"
)

// Server bundles the broker and TURN provisioner behind the HTTP surface.
type Server struct {
	Broker    *broker.Broker
	TURN      *turn.Provisioner
	startedAt time.Time
}

// New creates an httpapi.Server. startedAt should be the process start
// time, used to compute /health and /status uptime.
func New(b *broker.Broker, t *turn.Provisioner, startedAt time.Time) *Server {
	return &Server{Broker: b, TURN: t, startedAt: startedAt}
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/turn-credentials", s.handleTURNCredentials)
	mux.HandleFunc("/ws", s.Broker.ServeWS)
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startedAt).Seconds()),
	})
}

type statusResponse struct {
	Broadcasters    []string `json:"broadcasters"`
	ViewerCount     int      `json:"viewerCount"`
	ConnectionCount int      `json:"connectionCount"`
	Uptime          int64    `json:"uptime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Broker.Status()
	resp := statusResponse{
		Broadcasters:    st.Broadcasters,
		ViewerCount:     st.ViewerCount,
		ConnectionCount: st.ConnectionCount,
		Uptime:          int64(time.Since(s.startedAt).Seconds()),
	}
	if resp.Broadcasters == nil {
		resp.Broadcasters = []string{}
	}
	writeJSON(w, resp)
}

func (s *Server) handleTURNCredentials(w http.ResponseWriter, r *http.Request) {
	servers := s.TURN.Credentials(r.Context())
	writeJSON(w, struct {
		ICEServers []turn.ICEServer `json:"iceServers"`
	}{ICEServers: servers})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
