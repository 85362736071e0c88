package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var ErrBadNegotiation = errors.New("bad negotiation payload")

type NegotiationKind string

const (
	KindOffer     NegotiationKind = "offer"
	KindAnswer    NegotiationKind = "answer"
	KindCandidate NegotiationKind = "candidate"
)

// ValidateNegotiation checks the payload shape without interpreting it. The
// relay forwards the original bytes either way.
func ValidateNegotiation(kind NegotiationKind, payload json.RawMessage) error {
	switch kind {
	case KindOffer, KindAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(payload, &desc); err != nil {
			return fmt.Errorf("%w: %v", ErrBadNegotiation, err)
		}
		want := webrtc.SDPTypeOffer
		if kind == KindAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if desc.Type != want {
			return fmt.Errorf("%w: sdp type %s for %s", ErrBadNegotiation, desc.Type, kind)
		}
		var sd sdp.SessionDescription
		if err := sd.Unmarshal([]byte(desc.SDP)); err != nil {
			return fmt.Errorf("%w: sdp: %v", ErrBadNegotiation, err)
		}
	case KindCandidate:
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &ci); err != nil {
			return fmt.Errorf("%w: %v", ErrBadNegotiation, err)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrBadNegotiation, kind)
	}
	return nil
}

// ICEServers builds the list handed to clients on registration.
func ICEServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}
