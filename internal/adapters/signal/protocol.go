package signal

import (
	"errors"

	"github.com/dkeye/camrelay/internal/app"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Inbound message types. Negotiation uses the domain kinds directly.
const (
	TypeRegisterSource     = "register-source"
	TypeRegisterController = "register-controller"
	TypeCommand            = "cmd"
	TypeEvent              = "event"
	TypeRequestState       = "request-state"
	TypeUploadStart        = "upload-start"
	TypeUploadChunk        = "upload-chunk"
	TypeUploadEnd          = "upload-end"
	TypeUploadCancel       = "upload-cancel"
	TypeLog                = "log"
	TypePing               = "ping"

	TypeAck   = "ack"
	TypeError = "error"
	TypePong  = "pong"
)

// Ack answers register-* and upload-* requests. ID echoes the request id;
// binary chunk frames carry none, so their acks have none either. Error is a
// readable message, unlike the codes in ErrorReply.
type Ack struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Conn       domain.ConnID      `json:"conn,omitempty"`
	Role       domain.Role        `json:"role,omitempty"`
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`

	ResyncTimeoutMs    int64 `json:"resyncTimeoutMs,omitempty"`
	UploadAckTimeoutMs int64 `json:"uploadAckTimeoutMs,omitempty"`

	Filename string `json:"filename,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
}

type ErrorReply struct {
	Type  string `json:"type"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, domain.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, domain.ErrBadArgs):
		return "bad_args"
	case errors.Is(err, domain.ErrBadNegotiation):
		return "bad_payload"
	case errors.Is(err, domain.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, app.ErrWrongRole):
		return "wrong_role"
	}
	return "internal"
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, ref, code string) {
	ctl.sendJSON(c, ErrorReply{Type: TypeError, Ref: ref, Error: code})
}

func newAck(id string, err error) Ack {
	a := Ack{Type: TypeAck, ID: id, Success: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}
