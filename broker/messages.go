package broker

import "encoding/json"

// inboundMessage is the single envelope every inbound frame is decoded into;
// dispatch switches on its Type. It carries the union of the client→server
// fields in the wire protocol table in spec.md §6.
type inboundMessage struct {
	Type          string  `json:"type"`
	Role          string  `json:"role,omitempty"`
	StreamID      string  `json:"streamId,omitempty"`
	To            string  `json:"to,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func marshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

type registeredMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
}

type joinedMsg struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewerId"`
	StreamID string `json:"streamId"`
}

type viewerJoinedMsg struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewerId"`
}

type viewerLeftMsg struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewerId"`
}

type broadcasterLeftMsg struct {
	Type string `json:"type"`
}

type offerMsg struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	SDP  string `json:"sdp"`
}

type answerMsg struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	SDP  string `json:"sdp"`
}

type iceCandidateMsg struct {
	Type          string  `json:"type"`
	From          string  `json:"from,omitempty"`
	To            string  `json:"to,omitempty"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
