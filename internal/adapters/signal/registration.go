package signal

import (
	"encoding/json"

	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRegister binds the connection to a role. A conflicting role is
// refused and the connection stays as it was.
func (ctl *SignalWSController) handleRegister(
	c *WsSignalConn,
	env Envelope,
	role domain.Role,
	data []byte,
) {
	var meta domain.SourceMeta
	if role == domain.RoleSource {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			ctl.sendJSON(c, newAck(env.ID, domain.ErrBadArgs))
			return
		}
		m, err := domain.NewSourceMeta(p.Name)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad source name")
			ctl.sendJSON(c, newAck(env.ID, err))
			return
		}
		meta = m
	}

	if err := ctl.Orch.Register(c.id, role, meta); err != nil {
		ctl.sendJSON(c, newAck(env.ID, err))
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("role", string(role)).Msg("registered")

	a := newAck(env.ID, nil)
	a.Conn = c.id
	a.Role = role
	a.ICEServers = ctl.Orch.ICEServers
	switch role {
	case domain.RoleController:
		a.ResyncTimeoutMs = ctl.Orch.ResyncTimeout.Milliseconds()
	case domain.RoleSource:
		a.UploadAckTimeoutMs = ctl.Orch.UploadAckTimeout.Milliseconds()
	}
	ctl.sendJSON(c, a)
}
