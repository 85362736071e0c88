package orch

import (
	"encoding/json"
	"time"

	"github.com/dkeye/camrelay/internal/app"
	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/dkeye/camrelay/internal/upload"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the relay's context object: built once at start, handed to
// the transport adapters, torn down on shutdown.
type Orchestrator struct {
	Registry   *app.Registry
	Router     *app.SignalRouter
	Dispatcher *app.Dispatcher
	Resync     *app.Resync
	Uploads    *upload.Pipeline
	Policy     app.Policy
	Metrics    *metrics.Metrics
	ICEServers []webrtc.ICEServer

	// Client-side timeouts advertised in the registration ack.
	ResyncTimeout    time.Duration
	UploadAckTimeout time.Duration
}

type Options struct {
	Legacy           bool
	ICEServers       []webrtc.ICEServer
	Policy           app.Policy
	Metrics          *metrics.Metrics
	ResyncTimeout    time.Duration
	UploadAckTimeout time.Duration
}

func New(uploads *upload.Pipeline, opts Options) *Orchestrator {
	reg := app.NewRegistry(opts.Metrics)
	disp := app.NewDispatcher(reg, opts.Metrics)
	return &Orchestrator{
		Registry:   reg,
		Router:     app.NewSignalRouter(reg, opts.Legacy, opts.Metrics),
		Dispatcher: disp,
		Resync:     app.NewResync(disp),
		Uploads:    uploads,
		Policy:     opts.Policy,
		Metrics:    opts.Metrics,
		ICEServers: opts.ICEServers,

		ResyncTimeout:    opts.ResyncTimeout,
		UploadAckTimeout: opts.UploadAckTimeout,
	}
}

func (o *Orchestrator) Route(kind domain.NegotiationKind, from, to domain.ConnID, payload json.RawMessage) error {
	res, err := o.Router.Route(kind, from, to, payload)
	o.applyPolicy(res)
	return err
}

func (o *Orchestrator) SendCommand(from, target domain.ConnID, cmd domain.Command) error {
	res, err := o.Dispatcher.SendCommand(from, target, cmd)
	o.applyPolicy(res)
	return err
}

func (o *Orchestrator) PublishEvent(from domain.ConnID, evt domain.Event) error {
	res, err := o.Dispatcher.PublishEvent(from, evt)
	o.applyPolicy(res)
	return err
}

func (o *Orchestrator) RequestState(controller, source domain.ConnID) error {
	res, err := o.Resync.RequestState(controller, source)
	o.applyPolicy(res)
	return err
}

// Register binds id to role. Controllers that missed the resulting
// source-joined, or a new controller that missed its source list, go
// through the backpressure policy so they reconnect with fresh membership.
func (o *Orchestrator) Register(id domain.ConnID, role domain.Role, meta domain.SourceMeta) error {
	res, err := o.Registry.Register(id, role, meta)
	o.applyPolicy(res)
	return err
}

// OnDisconnect runs when the transport closes: an open upload is cancelled
// and the connection leaves the registry, which tells controllers.
func (o *Orchestrator) OnDisconnect(id domain.ConnID) {
	if o.Uploads != nil && o.Uploads.Cancel(id) {
		log.Info().Str("module", "orch").Str("conn", string(id)).Msg("upload closed by disconnect")
	}
	_, res := o.Registry.Unregister(id)
	o.applyPolicy(res)
}

// Shutdown closes every open upload sink. Call it before the listener stops.
func (o *Orchestrator) Shutdown() error {
	if o.Uploads == nil {
		return nil
	}
	return o.Uploads.Close()
}

func (o *Orchestrator) applyPolicy(res core.DeliveryResult) {
	if o.Policy == nil {
		return
	}
	for _, id := range res.Dropped {
		peer, ok := o.Registry.Lookup(id)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(peer) {
		case app.KickConn:
			log.Warn().Str("module", "orch").Str("conn", string(id)).Str("role", string(peer.Role)).Msg("kicking slow connection")
			o.Registry.Cancel(id)
		case app.DropFrame, app.NoAction:
		}
	}
}
