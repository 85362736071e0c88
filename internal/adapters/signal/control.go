package signal

import (
	"encoding/json"
	"strings"

	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxClientLogLen = 2048

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: TypePong,
	}
	ctl.sendJSON(conn, resp)
}

// handleLog re-logs a client message under module=client, tagged with the
// source name or role. Clients over the rate limit are dropped quietly.
func (ctl *SignalWSController) handleLog(conn *WsSignalConn, data []byte) {
	var p struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
		return
	}
	if !ctl.logRate.Allow(conn.id) {
		return
	}
	if len(p.Message) > maxClientLogLen {
		p.Message = p.Message[:maxClientLogLen]
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(p.Level))
	if err != nil || lvl < zerolog.DebugLevel || lvl > zerolog.ErrorLevel {
		lvl = zerolog.InfoLevel
	}

	origin := "unregistered"
	switch role := ctl.Orch.Registry.Role(conn.id); role {
	case domain.RoleSource:
		origin = "source"
		if meta, ok := ctl.Orch.Registry.Meta(conn.id); ok {
			origin = meta.Name
		}
	case domain.RoleController:
		origin = string(role)
	}
	log.WithLevel(lvl).Str("module", "client").Str("conn", string(conn.id)).Str("source", origin).Msg(p.Message)
}
