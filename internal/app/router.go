package app

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrWrongRole = errors.New("wrong role for message")

// SignalRouter relays offer/answer/candidate between one source and one
// controller. Either side may offer; the only rule is that the target holds
// the opposite role. It never inspects the negotiation beyond shape checks.
//
// Legacy mode covers clients that send without a target: a source's offer or
// candidate goes to every controller, and a controller's answer or candidate
// goes to the only live source. With two or more sources an untargeted
// controller message is ambiguous and dropped; multi-source setups must
// address every message.
type SignalRouter struct {
	Registry *Registry
	Legacy   bool

	metrics *metrics.Metrics
}

func NewSignalRouter(reg *Registry, legacy bool, m *metrics.Metrics) *SignalRouter {
	return &SignalRouter{Registry: reg, Legacy: legacy, metrics: m}
}

// Route delivers a negotiation message. A missing target is a silent drop
// with an empty result. Errors are reserved for problems the sender itself
// caused.
func (rt *SignalRouter) Route(kind domain.NegotiationKind, from, to domain.ConnID, payload json.RawMessage) (core.DeliveryResult, error) {
	typ := string(kind)
	sender, ok := rt.Registry.Lookup(from)
	if !ok || !sender.Role.Valid() {
		rt.metrics.Dropped(typ, metrics.DropWrongRole)
		return core.DeliveryResult{}, domain.ErrNotRegistered
	}
	if err := domain.ValidateNegotiation(kind, payload); err != nil {
		rt.metrics.Dropped(typ, metrics.DropBadPayload)
		return core.DeliveryResult{}, err
	}

	msg := core.Negotiation{Type: kind, From: from, Payload: payload}

	if to == "" {
		return rt.routeLegacy(sender, msg), nil
	}

	target, ok := rt.Registry.Lookup(to)
	if !ok {
		log.Debug().Str("module", "app.router").Str("from", string(from)).Str("to", string(to)).Str("kind", typ).Msg("target gone, dropped")
		rt.metrics.Dropped(typ, metrics.DropNoTarget)
		return core.DeliveryResult{}, nil
	}
	if target.Role != sender.Role.Opposite() {
		log.Warn().Str("module", "app.router").Str("from", string(from)).Str("to", string(to)).Str("kind", typ).Msg("target has wrong role, dropped")
		rt.metrics.Dropped(typ, metrics.DropWrongRole)
		return core.DeliveryResult{}, nil
	}
	return deliver("app.router", typ, []core.Peer{target}, msg, rt.metrics), nil
}

func (rt *SignalRouter) routeLegacy(sender core.Peer, msg core.Negotiation) core.DeliveryResult {
	typ := string(msg.Type)
	if !rt.Legacy {
		rt.metrics.Dropped(typ, metrics.DropNoTarget)
		return core.DeliveryResult{}
	}

	var peers []core.Peer
	switch sender.Role {
	case domain.RoleSource:
		peers = rt.Registry.Controllers()
	case domain.RoleController:
		sources := rt.Registry.Sources()
		if len(sources) != 1 {
			log.Warn().Str("module", "app.router").Str("from", string(sender.ID)).Str("kind", typ).
				Int("sources", len(sources)).Msg("untargeted message needs exactly one source, dropped")
			rt.metrics.Dropped(typ, metrics.DropAmbiguous)
			return core.DeliveryResult{}
		}
		peers = sources
	}
	return deliver("app.router", typ, peers, msg, rt.metrics)
}
