// Package resync is the controller half of the state handshake. The relay
// only forwards request-state; knowing whether a source has re-announced
// itself is the controller's job, and Tracker does that bookkeeping.
package resync

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 8 * time.Second

type State int

const (
	Idle State = iota
	Selecting
	Awaiting
	Synced
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Awaiting:
		return "awaiting"
	case Synced:
		return "synced"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

// Requester sends request-state to one source through the relay.
type Requester interface {
	RequestState(source domain.ConnID) error
}

type Config struct {
	Timeout time.Duration
	Clock   clock.Clock
	// OnChange, if set, is called with every state transition. It runs
	// without the tracker lock held.
	OnChange func(source domain.ConnID, s State)
}

type Tracker struct {
	req      Requester
	timeout  time.Duration
	clock    clock.Clock
	onChange func(domain.ConnID, State)

	mu     sync.Mutex
	state  State
	source domain.ConnID
	seen   map[domain.EventName]bool
	timer  *clock.Timer
	gen    uint64
}

func NewTracker(req Requester, cfg Config) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Tracker{
		req:      req,
		timeout:  cfg.Timeout,
		clock:    cfg.Clock,
		onChange: cfg.OnChange,
		seen:     make(map[domain.EventName]bool),
	}
}

// Select starts watching source and asks it for its state. Anything observed
// for a previously selected source is discarded.
func (t *Tracker) Select(source domain.ConnID) error {
	t.mu.Lock()
	t.stopTimerLocked()
	t.gen++
	gen := t.gen
	t.source = source
	t.seen = make(map[domain.EventName]bool)
	t.state = Selecting
	t.mu.Unlock()
	t.notify(source, Selecting)

	if err := t.req.RequestState(source); err != nil {
		log.Warn().Err(err).Str("module", "resync").Str("source", string(source)).Msg("request-state failed")
		t.transition(gen, TimedOut)
		return err
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return nil
	}
	// Events can beat the timer setup; Observe already moved us on.
	if t.state == Selecting {
		t.state = Awaiting
		t.timer = t.clock.AfterFunc(t.timeout, func() { t.transition(gen, TimedOut) })
		t.mu.Unlock()
		t.notify(source, Awaiting)
		return nil
	}
	t.mu.Unlock()
	return nil
}

// Retry re-enters Selecting for the current source.
func (t *Tracker) Retry() error {
	t.mu.Lock()
	source := t.source
	t.mu.Unlock()
	return t.Select(source)
}

// Observe records an event relayed from a source. Events from sources other
// than the selected one are ignored.
func (t *Tracker) Observe(from domain.ConnID, name domain.EventName) State {
	t.mu.Lock()
	if from != t.source || (t.state != Selecting && t.state != Awaiting) {
		s := t.state
		t.mu.Unlock()
		return s
	}
	t.seen[name] = true
	for _, want := range domain.ResyncEvents {
		if !t.seen[want] {
			s := t.state
			t.mu.Unlock()
			return s
		}
	}
	t.stopTimerLocked()
	t.state = Synced
	source := t.source
	t.mu.Unlock()
	t.notify(source, Synced)
	return Synced
}

// SourceLeft resets the tracker when the watched source disconnects.
func (t *Tracker) SourceLeft(id domain.ConnID) {
	t.mu.Lock()
	if id != t.source {
		t.mu.Unlock()
		return
	}
	t.stopTimerLocked()
	t.gen++
	t.state = Idle
	t.source = ""
	t.mu.Unlock()
	t.notify(id, Idle)
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Source() domain.ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.source
}

// Missing lists the announcements not yet seen since the last Select.
func (t *Tracker) Missing() []domain.EventName {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.EventName
	for _, want := range domain.ResyncEvents {
		if !t.seen[want] {
			out = append(out, want)
		}
	}
	return out
}

func (t *Tracker) transition(gen uint64, s State) {
	t.mu.Lock()
	if t.gen != gen || t.state == Synced {
		t.mu.Unlock()
		return
	}
	t.stopTimerLocked()
	t.state = s
	source := t.source
	t.mu.Unlock()
	if s == TimedOut {
		log.Info().Str("module", "resync").Str("source", string(source)).Msg("source did not resync in time")
	}
	t.notify(source, s)
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) notify(source domain.ConnID, s State) {
	if t.onChange != nil {
		t.onChange(source, s)
	}
}
