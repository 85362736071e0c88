package app

import (
	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Resync asks sources to re-announce inventory, capabilities and activity.
// It keeps no per-pair state: the controller tracks what it has seen, so
// switching sources or reconnecting needs no cleanup here.
type Resync struct {
	Dispatcher *Dispatcher
}

func NewResync(d *Dispatcher) *Resync {
	return &Resync{Dispatcher: d}
}

// RequestState sends request-state from controller to source. An empty
// source asks every source, which is what a freshly joined controller does.
func (r *Resync) RequestState(controller, source domain.ConnID) (core.DeliveryResult, error) {
	target := source
	if target == "" {
		target = domain.TargetAll
	}
	res, err := r.Dispatcher.SendCommand(controller, target, domain.RequestState{})
	if err != nil {
		return res, err
	}
	log.Info().Str("module", "app.resync").Str("controller", string(controller)).Str("source", string(target)).
		Int("sent_to", res.SentTo).Msg("state requested")
	return res, nil
}
