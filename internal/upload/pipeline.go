// Package upload persists recordings streamed by sources in acknowledged
// chunks. Each connection has at most one open session; a session's sink is
// owned by that session alone.
package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

var (
	ErrAlreadyUploading = errors.New("already uploading")
	ErrNoSession        = errors.New("no upload session")
	ErrChunkTooLarge    = errors.New("chunk too large")
	ErrClosed           = errors.New("upload pipeline closed")
)

const DefaultMaxChunk = 2 << 20

type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Session is one in-progress upload. mu serializes write, end and cancel so a
// teardown never races a write on the same sink.
type Session struct {
	mu       sync.Mutex
	conn     domain.ConnID
	filename string
	sink     afero.File
	written  int64
	state    State
	started  time.Time
}

// Info is a snapshot of an open session.
type Info struct {
	Conn     domain.ConnID `json:"conn"`
	Filename string        `json:"filename"`
	Bytes    int64         `json:"bytes"`
	State    string        `json:"state"`
	Started  time.Time     `json:"started"`
}

type Result struct {
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
}

type Config struct {
	MaxChunk int
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

type Pipeline struct {
	fs       afero.Fs
	maxChunk int
	clock    clock.Clock
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	sessions map[domain.ConnID]*Session
	closed   bool
}

// NewPipeline stores recordings at the root of fsys, usually an
// afero.BasePathFs over the recordings directory.
func NewPipeline(fsys afero.Fs, cfg Config) *Pipeline {
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultMaxChunk
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Pipeline{
		fs:       fsys,
		maxChunk: cfg.MaxChunk,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		sessions: make(map[domain.ConnID]*Session),
	}
}

// Start opens a sink for conn. The returned name is what landed on disk; it
// differs from the request when sanitizing or collision avoidance kicked in.
func (p *Pipeline) Start(conn domain.ConnID, filename string) (string, error) {
	s := &Session{conn: conn, state: StateOpen, started: p.clock.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if _, ok := p.sessions[conn]; ok {
		p.mu.Unlock()
		log.Warn().Str("module", "upload").Str("conn", string(conn)).Msg("start rejected, session already open")
		return "", ErrAlreadyUploading
	}
	p.sessions[conn] = s
	p.mu.Unlock()

	name, f, err := p.create(filename)
	if err != nil {
		s.state = StateClosed
		p.remove(conn, s)
		log.Error().Err(err).Str("module", "upload").Str("conn", string(conn)).Str("filename", filename).Msg("open sink")
		return "", err
	}
	s.filename = name
	s.sink = f
	p.metrics.UploadStarted()
	log.Info().Str("module", "upload").Str("conn", string(conn)).Str("filename", name).Msg("upload started")
	return name, nil
}

// Write appends chunk to conn's sink and returns the running total. The write
// completes before this returns; on failure the session is torn down.
func (p *Pipeline) Write(conn domain.ConnID, chunk []byte) (int64, error) {
	s := p.session(conn)
	if s == nil {
		return 0, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return 0, ErrNoSession
	}

	if len(chunk) > p.maxChunk {
		_ = p.closeLocked(s, "failed")
		return s.written, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(chunk), p.maxChunk)
	}

	n, err := s.sink.Write(chunk)
	s.written += int64(n)
	p.metrics.UploadBytes(n)
	if err == nil {
		err = s.sink.Sync()
	}
	if err != nil {
		log.Error().Err(err).Str("module", "upload").Str("conn", string(conn)).Str("filename", s.filename).Msg("chunk write failed")
		_ = p.closeLocked(s, "failed")
		return s.written, fmt.Errorf("write %s: %w", s.filename, err)
	}
	return s.written, nil
}

// End closes the sink and forgets the session. Without an open session it
// returns ErrNoSession and changes nothing.
func (p *Pipeline) End(conn domain.ConnID) (Result, error) {
	s := p.session(conn)
	if s == nil {
		return Result{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return Result{}, ErrNoSession
	}
	res := Result{Filename: s.filename, Bytes: s.written}
	if err := p.closeLocked(s, "ended"); err != nil {
		return res, fmt.Errorf("close %s: %w", s.filename, err)
	}
	log.Info().Str("module", "upload").Str("conn", string(conn)).Str("filename", res.Filename).Int64("bytes", res.Bytes).Msg("upload finished")
	return res, nil
}

// Cancel closes the sink and keeps the partial file. It reports whether a
// session was open. Disconnect cleanup goes through here too.
func (p *Pipeline) Cancel(conn domain.ConnID) bool {
	s := p.session(conn)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	if err := p.closeLocked(s, "cancelled"); err != nil {
		log.Error().Err(err).Str("module", "upload").Str("conn", string(conn)).Str("filename", s.filename).Msg("close on cancel")
	}
	log.Info().Str("module", "upload").Str("conn", string(conn)).Str("filename", s.filename).Int64("bytes", s.written).Msg("upload cancelled, partial file kept")
	return true
}

// Close cancels every open session and refuses new ones. Used on shutdown.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	open := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		open = append(open, s)
	}
	p.mu.Unlock()

	var err error
	for _, s := range open {
		s.mu.Lock()
		if s.state == StateOpen {
			err = multierr.Append(err, p.closeLocked(s, "cancelled"))
		}
		s.mu.Unlock()
	}
	return err
}

// Receive stores a whole body as a new recording, outside any session.
func (p *Pipeline) Receive(filename string, r io.Reader) (Result, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return Result{}, ErrClosed
	}
	name, f, err := p.create(filename)
	if err != nil {
		return Result{}, err
	}
	n, err := io.Copy(f, r)
	p.metrics.UploadBytes(int(n))
	err = multierr.Append(err, f.Close())
	if err != nil {
		return Result{Filename: name, Bytes: n}, fmt.Errorf("receive %s: %w", name, err)
	}
	log.Info().Str("module", "upload").Str("filename", name).Int64("bytes", n).Msg("body upload stored")
	return Result{Filename: name, Bytes: n}, nil
}

// Active lists open sessions.
func (p *Pipeline) Active() []Info {
	p.mu.RLock()
	open := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		open = append(open, s)
	}
	p.mu.RUnlock()

	out := make([]Info, 0, len(open))
	for _, s := range open {
		s.mu.Lock()
		if s.state == StateOpen && s.sink != nil {
			out = append(out, Info{Conn: s.conn, Filename: s.filename, Bytes: s.written, State: s.state.String(), Started: s.started})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Has reports whether conn has an open session.
func (p *Pipeline) Has(conn domain.ConnID) bool {
	return p.session(conn) != nil
}

type Recording struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// List returns the recordings directory, newest first.
func (p *Pipeline) List() ([]Recording, error) {
	infos, err := afero.ReadDir(p.fs, ".")
	if err != nil {
		return nil, err
	}
	out := make([]Recording, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		out = append(out, Recording{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

func (p *Pipeline) session(conn domain.ConnID) *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[conn]
}

func (p *Pipeline) remove(conn domain.ConnID, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[conn]; ok && cur == s {
		delete(p.sessions, conn)
	}
}

// closeLocked tears s down. Caller holds s.mu.
func (p *Pipeline) closeLocked(s *Session, outcome string) error {
	s.state = StateClosing
	err := s.sink.Close()
	s.state = StateClosed
	p.remove(s.conn, s)
	p.metrics.UploadFinished(outcome)
	return err
}

func (p *Pipeline) create(filename string) (string, afero.File, error) {
	now := p.clock.Now()
	name, err := sanitizeFilename(filename, now)
	if err != nil {
		return "", nil, err
	}
	const flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	base := name
	for attempt := 0; attempt < 3; attempt++ {
		f, err := p.fs.OpenFile(name, flags, 0o644)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, err
		}
		name = uniqueName(base, now)
	}
	return "", nil, fmt.Errorf("%w: no free name for %q", ErrInvalidFilename, filename)
}
