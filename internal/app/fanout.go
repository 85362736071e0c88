package app

import (
	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// deliver encodes v once and enqueues it on every peer. It never blocks; a
// full peer queue counts as dropped.
func deliver(module, typ string, peers []core.Peer, v any, m *metrics.Metrics) core.DeliveryResult {
	res := core.DeliveryResult{}
	if len(peers) == 0 {
		return res
	}
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", module).Str("type", typ).Msg("encode")
		return res
	}
	for _, p := range peers {
		if err := p.Signal.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, p.ID)
			m.Dropped(typ, metrics.DropBackpressure)
			continue
		}
		res.SentTo++
	}
	m.Relayed(typ, res.SentTo)
	log.Debug().Str("module", module).Str("type", typ).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("delivery result")
	return res
}
