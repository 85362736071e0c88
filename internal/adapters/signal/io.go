package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/camrelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Envelope is the part every inbound message shares. Handlers decode the rest
// of the frame themselves.
type Envelope struct {
	Type string        `json:"type"`
	ID   string        `json:"id,omitempty"`
	To   domain.ConnID `json:"target,omitempty"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("ping failed")
				return
			}
		}
	}
}

// readPump handles one connection's messages in arrival order. When it
// returns, the connection's upload is cancelled and it leaves the registry
// before the socket is released.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(c.id)
		ctl.logRate.Forget(c.id)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		if mt == websocket.BinaryMessage {
			ctl.handleChunk(c, "", data)
			continue
		}
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.sendError(c, "", "bad_json")
		return
	}

	switch env.Type {
	case TypeRegisterSource:
		ctl.handleRegister(c, env, domain.RoleSource, data)
	case TypeRegisterController:
		ctl.handleRegister(c, env, domain.RoleController, data)
	case string(domain.KindOffer), string(domain.KindAnswer), string(domain.KindCandidate):
		ctl.handleNegotiation(c, env, data)
	case TypeCommand:
		ctl.handleCommand(c, env, data)
	case TypeEvent:
		ctl.handleEvent(c, env, data)
	case TypeRequestState:
		ctl.handleRequestState(c, env)
	case TypeUploadStart:
		ctl.handleUploadStart(c, env, data)
	case TypeUploadChunk:
		ctl.handleUploadChunk(c, env, data)
	case TypeUploadEnd:
		ctl.handleUploadEnd(c, env)
	case TypeUploadCancel:
		ctl.handleUploadCancel(c, env)
	case TypeLog:
		ctl.handleLog(c, data)
	case TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, env.Type, "unknown_type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("reply dropped")
	}
}
