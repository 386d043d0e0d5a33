package relayws

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventJoin               = "consultation:join"
	EventJoined             = "consultation:joined"
	EventMessage            = "consultation:message"
	EventMessageSent        = "consultation:message:sent"
	EventStart              = "consultation:start"
	EventEnd                = "consultation:end"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventWebRTCOffer        = "webrtc:offer"
	EventWebRTCAnswer       = "webrtc:answer"
	EventWebRTCICECandidate = "webrtc:ice-candidate"
	EventUserOnline         = "user:online"
	EventUserOffline        = "user:offline"
	EventError              = "error"
)

// relayedEvents are forwarded to the peer untouched and never stored.
var relayedEvents = map[string]struct{}{
	EventTypingStart:        {},
	EventTypingStop:         {},
	EventWebRTCOffer:        {},
	EventWebRTCAnswer:       {},
	EventWebRTCICECandidate: {},
}

var errMalformedEnvelope = errors.New("malformed envelope")

type Inbound struct {
	Event          string          `json:"event"`
	ConsultationID int64           `json:"consultation_id"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type Outbound struct {
	Event          string `json:"event"`
	ConsultationID int64  `json:"consultation_id,omitempty"`
	From           int64  `json:"from,omitempty"`
	Data           any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PresencePayload struct {
	UserID int64 `json:"user_id"`
}

type chatPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func decodeInbound(payload []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return in, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if in.Event == "" {
		return in, fmt.Errorf("%w: event is required", errMalformedEnvelope)
	}
	return in, nil
}

func encodeOutbound(out Outbound) ([]byte, error) {
	return json.Marshal(out)
}

// metricEventLabel keeps unknown client-supplied names out of metric labels.
func metricEventLabel(event string) string {
	switch event {
	case EventJoin, EventMessage, EventStart, EventEnd:
		return event
	}
	if _, ok := relayedEvents[event]; ok {
		return event
	}
	return "unknown"
}
