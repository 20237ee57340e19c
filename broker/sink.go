package broker

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

// WireMessage is the broker wire envelope shared with signaling clients
// outside this package (the broadcaster core dials in as exactly the kind
// of client this package otherwise serves over ServeWS), kept here so both
// sides of the wire agree on field names without a second copy of the
// message-set table in spec.md §6.
type WireMessage struct {
	Type          string  `json:"type"`
	Role          string  `json:"role,omitempty"`
	StreamID      string  `json:"streamId,omitempty"`
	ViewerID      string  `json:"viewerId,omitempty"`
	To            string  `json:"to,omitempty"`
	From          string  `json:"from,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Encode marshals a WireMessage, used by the broadcaster-side signaling
// client so it speaks the identical wire format ServeWS parses.
func Encode(msg WireMessage) []byte {
	b, _ := json.Marshal(msg)
	return b
}

// ICECandidateFromJSON converts a pion ICECandidateInit into the wire
// shape's candidate/sdpMid/sdpMLineIndex fields.
func ICECandidateFromJSON(init webrtc.ICECandidateInit) (candidate string, sdpMid *string, sdpMLineIndex *uint16) {
	return init.Candidate, init.SDPMid, init.SDPMLineIndex
}
