package app

import (
	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Dispatcher relays commands from controllers to sources and events from
// sources to every controller. Each outgoing message is stamped with the
// sender's connection id.
//
// A sender's messages are handled sequentially by its read pump and land in
// per-recipient FIFO send queues, so commands from one controller reach a
// source in the order they arrived. Nothing orders two controllers against
// each other.
type Dispatcher struct {
	Registry *Registry

	metrics *metrics.Metrics
}

func NewDispatcher(reg *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{Registry: reg, metrics: m}
}

// SendCommand delivers cmd to target, or to every source when target is
// domain.TargetAll. Unknown or departed targets are dropped silently.
func (d *Dispatcher) SendCommand(from, target domain.ConnID, cmd domain.Command) (core.DeliveryResult, error) {
	if d.Registry.Role(from) != domain.RoleController {
		d.metrics.Dropped(core.TypeCommand, metrics.DropWrongRole)
		return core.DeliveryResult{}, ErrWrongRole
	}

	var peers []core.Peer
	if target == domain.TargetAll || target == "" {
		peers = d.Registry.Sources()
	} else {
		p, ok := d.Registry.Lookup(target)
		if !ok || p.Role != domain.RoleSource {
			log.Debug().Str("module", "app.dispatch").Str("from", string(from)).Str("target", string(target)).
				Str("cmd", string(cmd.Name())).Msg("command target gone, dropped")
			d.metrics.Dropped(core.TypeCommand, metrics.DropNoTarget)
			return core.DeliveryResult{}, nil
		}
		peers = []core.Peer{p}
	}

	msg := core.CommandOut{Type: core.TypeCommand, From: from, Name: cmd.Name(), Args: cmd}
	res := deliver("app.dispatch", core.TypeCommand, peers, msg, d.metrics)
	log.Info().Str("module", "app.dispatch").Str("from", string(from)).Str("target", string(target)).
		Str("cmd", string(cmd.Name())).Int("sent_to", res.SentTo).Msg("command")
	return res, nil
}

// PublishEvent fans evt out to every controller. Controllers filter on From.
func (d *Dispatcher) PublishEvent(from domain.ConnID, evt domain.Event) (core.DeliveryResult, error) {
	if d.Registry.Role(from) != domain.RoleSource {
		d.metrics.Dropped(core.TypeEvent, metrics.DropWrongRole)
		return core.DeliveryResult{}, ErrWrongRole
	}
	msg := core.EventOut{Type: core.TypeEvent, From: from, Name: evt.Name, Args: evt.Args}
	return deliver("app.dispatch", core.TypeEvent, d.Registry.Controllers(), msg, d.metrics), nil
}
