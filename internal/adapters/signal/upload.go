package signal

import (
	"encoding/json"

	"github.com/dkeye/camrelay/internal/app"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleUploadStart(
	c *WsSignalConn,
	env Envelope,
	data []byte,
) {
	var p struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, newAck(env.ID, domain.ErrBadArgs))
		return
	}
	if role := ctl.Orch.Registry.Role(c.id); role != domain.RoleSource {
		ctl.sendJSON(c, newAck(env.ID, app.ErrWrongRole))
		return
	}
	name, err := ctl.Orch.Uploads.Start(c.id, p.Filename)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("filename", p.Filename).Msg("upload start refused")
		ctl.sendJSON(c, newAck(env.ID, err))
		return
	}
	a := newAck(env.ID, nil)
	a.Filename = name
	ctl.sendJSON(c, a)
}

// handleUploadChunk takes a base64 chunk from a JSON frame. Binary frames
// reach handleChunk directly.
func (ctl *SignalWSController) handleUploadChunk(
	c *WsSignalConn,
	env Envelope,
	data []byte,
) {
	var p struct {
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, newAck(env.ID, domain.ErrBadArgs))
		return
	}
	ctl.handleChunk(c, env.ID, p.Data)
}

// handleChunk acks only after the chunk is written.
func (ctl *SignalWSController) handleChunk(c *WsSignalConn, id string, chunk []byte) {
	total, err := ctl.Orch.Uploads.Write(c.id, chunk)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("chunk refused")
	}
	a := newAck(id, err)
	a.Bytes = total
	ctl.sendJSON(c, a)
}

func (ctl *SignalWSController) handleUploadEnd(c *WsSignalConn, env Envelope) {
	res, err := ctl.Orch.Uploads.End(c.id)
	a := newAck(env.ID, err)
	a.Filename = res.Filename
	a.Bytes = res.Bytes
	ctl.sendJSON(c, a)
}

func (ctl *SignalWSController) handleUploadCancel(c *WsSignalConn, env Envelope) {
	if !ctl.Orch.Uploads.Cancel(c.id) {
		log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("cancel without session")
	}
	ctl.sendJSON(c, newAck(env.ID, nil))
}
