package app

import (
	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickConn
	DropFrame
)

// Policy decides what to do with a peer whose send queue was full.
type Policy interface {
	OnBackPressure(peer core.Peer) BackpressureAction
}

// SimplePolicy kicks stalled controllers so they reconnect and resync, and
// only drops the frame for sources, which may be mid upload.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(peer core.Peer) BackpressureAction {
	if peer.Role == domain.RoleController {
		return KickConn
	}
	return DropFrame
}
