package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Role   domain.Role
	Meta   domain.SourceMeta
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Registry owns every live connection and the two role sets. Membership
// notifications are enqueued while the lock is held, so every controller sees
// joined/left in the order the underlying events happened.
type Registry struct {
	mu          sync.RWMutex
	conns       map[domain.ConnID]*connEntry
	sources     map[domain.ConnID]*connEntry
	controllers map[domain.ConnID]*connEntry
	sourceOrder []domain.ConnID

	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		conns:       make(map[domain.ConnID]*connEntry),
		sources:     make(map[domain.ConnID]*connEntry),
		controllers: make(map[domain.ConnID]*connEntry),
		metrics:     m,
	}
}

// Connect tracks a freshly accepted connection. It has no role until Register.
func (r *Registry) Connect(id domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("connected")
}

// Register binds role to the connection on first call. Repeating the same
// role is accepted; a different role returns domain.ErrRoleConflict and the
// bound role stays as it was. The result lists connections whose
// notification was dropped on a full queue.
func (r *Registry) Register(id domain.ConnID, role domain.Role, meta domain.SourceMeta) (core.DeliveryResult, error) {
	var res core.DeliveryResult
	if !role.Valid() {
		return res, domain.ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return res, domain.ErrNotRegistered
	}
	if e.Role != domain.RoleNone && e.Role != role {
		log.Warn().Str("module", "app.registry").Str("conn", string(id)).
			Str("role", string(e.Role)).Str("requested", string(role)).Msg("role conflict")
		return res, domain.ErrRoleConflict
	}
	first := e.Role == domain.RoleNone
	e.Role = role

	switch role {
	case domain.RoleSource:
		renamed := e.Meta.Name != meta.Name
		e.Meta = meta
		if first {
			r.sources[id] = e
			r.sourceOrder = append(r.sourceOrder, id)
			r.metrics.ConnAdded(string(role))
		}
		if first || renamed {
			res = r.notifyControllersLocked(core.TypeSourceJoined, core.SourceJoined{Type: core.TypeSourceJoined, ID: id, Name: meta.Name})
		}
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("name", meta.Name).Bool("first", first).Msg("source registered")
	case domain.RoleController:
		if first {
			r.controllers[id] = e
			r.metrics.ConnAdded(string(role))
		}
		if r.sendLocked(id, e, core.TypeSourceList, core.SourceList{Type: core.TypeSourceList, Sources: r.listSourcesLocked()}) {
			res.SentTo++
		} else {
			res.Dropped = append(res.Dropped, id)
		}
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Bool("first", first).Msg("controller registered")
	}
	return res, nil
}

// Unregister drops the connection from every set and returns the role it
// held. Controllers are told synchronously when a source leaves; those whose
// queue was full are listed in the result.
func (r *Registry) Unregister(id domain.ConnID) (domain.Role, core.DeliveryResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res core.DeliveryResult
	e, ok := r.conns[id]
	if !ok {
		return domain.RoleNone, res
	}
	delete(r.conns, id)

	switch e.Role {
	case domain.RoleSource:
		delete(r.sources, id)
		r.sourceOrder = slices.DeleteFunc(r.sourceOrder, func(s domain.ConnID) bool { return s == id })
		r.metrics.ConnRemoved(string(e.Role))
		res = r.notifyControllersLocked(core.TypeSourceLeft, core.SourceLeft{Type: core.TypeSourceLeft, ID: id})
	case domain.RoleController:
		delete(r.controllers, id)
		r.metrics.ConnRemoved(string(e.Role))
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("role", string(e.Role)).Msg("unregistered")
	return e.Role, res
}

// ListSources returns the registered sources in registration order.
func (r *Registry) ListSources() []domain.SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listSourcesLocked()
}

func (r *Registry) listSourcesLocked() []domain.SourceInfo {
	out := make([]domain.SourceInfo, 0, len(r.sourceOrder))
	for _, id := range r.sourceOrder {
		out = append(out, domain.SourceInfo{ID: id, Name: r.sources[id].Meta.Name})
	}
	return out
}

// Lookup returns the peer behind id, registered or not.
func (r *Registry) Lookup(id domain.ConnID) (core.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return core.Peer{}, false
	}
	return core.Peer{ID: id, Role: e.Role, Signal: e.Signal}, true
}

func (r *Registry) Role(id domain.ConnID) domain.Role {
	p, _ := r.Lookup(id)
	return p.Role
}

// Meta returns the source metadata of id, if it is a source.
func (r *Registry) Meta(id domain.ConnID) (domain.SourceMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sources[id]
	if !ok {
		return domain.SourceMeta{}, false
	}
	return e.Meta, true
}

func (r *Registry) Sources() []core.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Peer, 0, len(r.sourceOrder))
	for _, id := range r.sourceOrder {
		out = append(out, core.Peer{ID: id, Role: domain.RoleSource, Signal: r.sources[id].Signal})
	}
	return out
}

func (r *Registry) Controllers() []core.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Peer, 0, len(r.controllers))
	for id, e := range r.controllers {
		out = append(out, core.Peer{ID: id, Role: domain.RoleController, Signal: e.Signal})
	}
	return out
}

// Cancel stops the connection's pumps. The transport close path then calls
// Unregister.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) notifyControllersLocked(typ string, v any) core.DeliveryResult {
	var res core.DeliveryResult
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode notification")
		return res
	}
	for id, e := range r.controllers {
		if r.sendFrameLocked(id, e, typ, f) {
			res.SentTo++
			continue
		}
		res.Dropped = append(res.Dropped, id)
	}
	return res
}

func (r *Registry) sendLocked(id domain.ConnID, e *connEntry, typ string, v any) bool {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode message")
		return false
	}
	return r.sendFrameLocked(id, e, typ, f)
}

func (r *Registry) sendFrameLocked(id domain.ConnID, e *connEntry, typ string, f core.Frame) bool {
	if err := e.Signal.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(id)).Str("type", typ).Msg("notification dropped")
		r.metrics.Dropped(typ, metrics.DropBackpressure)
		return false
	}
	r.metrics.Relayed(typ, 1)
	return true
}
