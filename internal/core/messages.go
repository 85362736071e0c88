package core

import (
	"encoding/json"

	"github.com/dkeye/camrelay/internal/domain"
)

// Outbound message types. Every relayed message carries From, stamped by the
// relay from the sender's connection identity.
const (
	TypeSourceJoined = "source-joined"
	TypeSourceLeft   = "source-left"
	TypeSourceList   = "source-list"
	TypeCommand      = "cmd"
	TypeEvent        = "event"
)

type SourceJoined struct {
	Type string        `json:"type"`
	ID   domain.ConnID `json:"id"`
	Name string        `json:"name"`
}

type SourceLeft struct {
	Type string        `json:"type"`
	ID   domain.ConnID `json:"id"`
}

type SourceList struct {
	Type    string              `json:"type"`
	Sources []domain.SourceInfo `json:"sources"`
}

// Negotiation carries an offer, answer or candidate. Payload is forwarded
// byte for byte.
type Negotiation struct {
	Type    domain.NegotiationKind `json:"type"`
	From    domain.ConnID          `json:"from"`
	Payload json.RawMessage        `json:"payload"`
}

type CommandOut struct {
	Type string             `json:"type"`
	From domain.ConnID      `json:"from"`
	Name domain.CommandName `json:"name"`
	Args domain.Command     `json:"args"`
}

type EventOut struct {
	Type string           `json:"type"`
	From domain.ConnID    `json:"from"`
	Name domain.EventName `json:"name"`
	Args json.RawMessage  `json:"args,omitempty"`
}

// Encode marshals v into a Frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
