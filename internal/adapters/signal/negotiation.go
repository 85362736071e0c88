package signal

import (
	"encoding/json"

	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleNegotiation forwards offer, answer and candidate payloads. A missing
// target is silent; only malformed or misdirected messages get an error.
func (ctl *SignalWSController) handleNegotiation(
	c *WsSignalConn,
	env Envelope,
	data []byte,
) {
	var p struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, env.Type, "bad_payload")
		return
	}
	kind := domain.NegotiationKind(env.Type)
	if err := ctl.Orch.Route(kind, c.id, env.To, p.Payload); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("kind", env.Type).Msg("negotiation rejected")
		ctl.sendError(c, env.Type, errorCode(err))
	}
}
