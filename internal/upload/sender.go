package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

const DefaultAckTimeout = 3 * time.Second

// Ack is the relay's reply to an acknowledged upload operation.
type Ack struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Filename string `json:"filename,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
}

// AckTransport is the source side of the upload protocol. Implementations
// return when the ack arrives or ctx is done.
type AckTransport interface {
	StartUpload(ctx context.Context, filename string) (Ack, error)
	SendChunk(ctx context.Context, chunk []byte) (Ack, error)
	EndUpload(ctx context.Context) (Ack, error)
	// CancelUpload is fire and forget; it may be lost.
	CancelUpload()
}

type Mode int

const (
	ModeIdle Mode = iota
	ModeRemote
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeRemote:
		return "remote"
	case ModeLocal:
		return "local"
	}
	return "idle"
}

var errNack = errors.New("negative ack")

// Sender streams one recording to the relay, one chunk at a time, waiting for
// each ack. The first negative or missing ack switches it to a local save of
// every chunk of the recording, and the relay is not used again until the
// next Start.
//
// Add blocks for at most the ack timeout; call it from the recorder's upload
// goroutine, not from the capture loop.
type Sender struct {
	transport AckTransport
	local     afero.Fs
	clock     clock.Clock
	timeout   time.Duration

	mu       sync.Mutex
	mode     Mode
	filename string
	history  [][]byte
	file     afero.File
	reason   error
}

type SenderConfig struct {
	AckTimeout time.Duration
	Clock      clock.Clock
}

func NewSender(t AckTransport, local afero.Fs, cfg SenderConfig) *Sender {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Sender{transport: t, local: local, clock: cfg.Clock, timeout: cfg.AckTimeout}
}

// Start begins a recording. When the relay refuses or does not answer the
// sender goes straight to local mode.
func (s *Sender) Start(ctx context.Context, filename string) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filename = filename
	s.history = nil
	s.file = nil
	s.reason = nil
	s.mode = ModeRemote

	if s.transport == nil {
		s.fallbackLocked(errors.New("no transport"))
		return s.mode
	}
	ack, err := s.call(ctx, func(ctx context.Context) (Ack, error) {
		return s.transport.StartUpload(ctx, filename)
	})
	if err != nil {
		s.fallbackLocked(fmt.Errorf("start: %w", err))
		return s.mode
	}
	if ack.Filename != "" {
		s.filename = ack.Filename
	}
	return s.mode
}

// Add sends or stores one chunk.
func (s *Sender) Add(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeIdle:
		return errors.New("sender not started")
	case ModeLocal:
		return s.writeLocal(chunk)
	}

	s.history = append(s.history, chunk)
	_, err := s.call(ctx, func(ctx context.Context) (Ack, error) {
		return s.transport.SendChunk(ctx, chunk)
	})
	if err != nil {
		return s.fallbackLocked(fmt.Errorf("chunk %d: %w", len(s.history), err))
	}
	return nil
}

// Stop finishes the recording and reports where it ended up.
func (s *Sender) Stop(ctx context.Context) (Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mode := s.mode
	s.mode = ModeIdle
	s.history = nil

	switch mode {
	case ModeRemote:
		_, err := s.call(ctx, func(ctx context.Context) (Ack, error) {
			return s.transport.EndUpload(ctx)
		})
		if err != nil {
			// Every chunk was acked, so the relay holds the data; its
			// disconnect cleanup closes the file if this end was lost.
			log.Warn().Err(err).Str("module", "upload.sender").Str("filename", s.filename).Msg("end not acknowledged")
		}
		return ModeRemote, nil
	case ModeLocal:
		if s.file == nil {
			return ModeLocal, nil
		}
		err := s.file.Close()
		s.file = nil
		return ModeLocal, err
	}
	return ModeIdle, nil
}

func (s *Sender) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Filename is the name the recording is stored under.
func (s *Sender) Filename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename
}

// FallbackReason is why the sender went local, nil if it did not.
func (s *Sender) FallbackReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Sender) call(ctx context.Context, fn func(context.Context) (Ack, error)) (Ack, error) {
	ctx, cancel := s.clock.WithTimeout(ctx, s.timeout)
	defer cancel()
	ack, err := fn(ctx)
	if err != nil {
		return ack, err
	}
	if !ack.Success {
		if ack.Error != "" {
			return ack, fmt.Errorf("%w: %s", errNack, ack.Error)
		}
		return ack, errNack
	}
	return ack, nil
}

// fallbackLocked switches to local mode and writes out everything recorded
// so far.
func (s *Sender) fallbackLocked(reason error) error {
	log.Warn().Err(reason).Str("module", "upload.sender").Str("filename", s.filename).Msg("falling back to local save")
	if s.mode == ModeRemote && s.transport != nil {
		s.transport.CancelUpload()
	}
	s.mode = ModeLocal
	s.reason = reason

	f, err := s.local.OpenFile(s.filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.history = nil
		return fmt.Errorf("local save: %w", err)
	}
	s.file = f
	var werr error
	for _, c := range s.history {
		_, e := f.Write(c)
		werr = multierr.Append(werr, e)
	}
	s.history = nil
	return werr
}

func (s *Sender) writeLocal(chunk []byte) error {
	if s.file == nil {
		return errors.New("local save unavailable")
	}
	_, err := s.file.Write(chunk)
	return err
}
