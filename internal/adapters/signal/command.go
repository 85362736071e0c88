package signal

import (
	"encoding/json"

	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCommand(
	c *WsSignalConn,
	env Envelope,
	data []byte,
) {
	var p struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, TypeCommand, "bad_payload")
		return
	}
	cmd, err := domain.ParseCommand(p.Name, p.Args)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("cmd", p.Name).Msg("command rejected")
		ctl.sendError(c, TypeCommand, errorCode(err))
		return
	}
	if err := ctl.Orch.SendCommand(c.id, env.To, cmd); err != nil {
		ctl.sendError(c, TypeCommand, errorCode(err))
	}
}

func (ctl *SignalWSController) handleEvent(
	c *WsSignalConn,
	env Envelope,
	data []byte,
) {
	var p struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, TypeEvent, "bad_payload")
		return
	}
	evt, err := domain.ParseEvent(p.Name, p.Args)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("event", p.Name).Msg("event rejected")
		ctl.sendError(c, TypeEvent, errorCode(err))
		return
	}
	if err := ctl.Orch.PublishEvent(c.id, evt); err != nil {
		ctl.sendError(c, TypeEvent, errorCode(err))
	}
}

// handleRequestState asks env.To, or every source when empty, to announce
// its state again.
func (ctl *SignalWSController) handleRequestState(c *WsSignalConn, env Envelope) {
	if err := ctl.Orch.RequestState(c.id, env.To); err != nil {
		ctl.sendError(c, TypeRequestState, errorCode(err))
	}
}
