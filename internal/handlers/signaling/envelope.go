package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nkiryanov/caroauth/internal/models"
)

// Call signaling message types
const (
	TypeInvite = "call.invite"
	TypeAccept = "call.accept"
	TypeReject = "call.reject"
	TypeOffer  = "call.offer"
	TypeAnswer = "call.answer"
	TypeICE    = "call.ice"
	TypeHangup = "call.hangup"

	// Sent by server only
	TypeError = "error"
)

var relayed = map[string]struct{}{
	TypeInvite: {},
	TypeAccept: {},
	TypeReject: {},
	TypeOffer:  {},
	TypeAnswer: {},
	TypeICE:    {},
	TypeHangup: {},
}

// Error codes of error envelope
const (
	CodeBadJSON         = "bad_json"
	CodeBadEnvelope     = "bad_envelope"
	CodeUnsupported     = "unsupported"
	CodePeerUnavailable = "peer_unavailable"
)

// Envelope is one signaling message.
// From and FromUsername are always set by server from the authenticated principal.
// Payload (SDP, ICE candidate) is relayed untouched.
type Envelope struct {
	Type         string          `json:"type"`
	CallID       string          `json:"callId,omitempty"`
	To           string          `json:"to,omitempty"`
	From         string          `json:"from,omitempty"`
	FromUsername string          `json:"fromUsername,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errUnsupportedType = errors.New("unsupported type")

// Check envelope and return its recipient
func (e Envelope) recipient() (models.Identity, error) {
	if _, ok := relayed[e.Type]; !ok {
		return models.Identity{}, fmt.Errorf("%w: '%s'", errUnsupportedType, e.Type)
	}
	if strings.TrimSpace(e.CallID) == "" {
		return models.Identity{}, errors.New("missing callId")
	}

	to, err := models.ParseIdentity(e.To)
	if err != nil {
		return models.Identity{}, errors.New("'to' must be user id")
	}

	return to, nil
}

func newError(callID string, code string, message string) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Envelope{Type: TypeError, CallID: callID, Payload: payload}
}
