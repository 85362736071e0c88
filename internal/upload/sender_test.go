package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeTransport acks according to script; a chunk index listed in hang
// blocks until ctx is done.
type fakeTransport struct {
	mu        sync.Mutex
	startAck  Ack
	nackAt    int
	hangAt    int
	chunks    [][]byte
	ended     bool
	cancelled int
	entered   chan struct{}
}

func (f *fakeTransport) StartUpload(ctx context.Context, filename string) (Ack, error) {
	return f.startAck, nil
}

func (f *fakeTransport) SendChunk(ctx context.Context, chunk []byte) (Ack, error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, chunk)
	n := len(f.chunks)
	f.mu.Unlock()

	if n == f.hangAt {
		f.entered <- struct{}{}
		<-ctx.Done()
		return Ack{}, ctx.Err()
	}
	if n == f.nackAt {
		return Ack{Success: false, Error: "disk full"}, nil
	}
	return Ack{Success: true}, nil
}

func (f *fakeTransport) EndUpload(ctx context.Context) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return Ack{Success: true}, nil
}

func (f *fakeTransport) CancelUpload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func TestSender_RemoteHappyPath(t *testing.T) {
	tr := &fakeTransport{startAck: Ack{Success: true, Filename: "a_1.webm"}}
	local := afero.NewMemMapFs()
	s := NewSender(tr, local, SenderConfig{})

	require.Equal(t, ModeRemote, s.Start(context.Background(), "a.webm"))
	require.Equal(t, "a_1.webm", s.Filename())
	require.NoError(t, s.Add(context.Background(), []byte("one")))
	require.NoError(t, s.Add(context.Background(), []byte("two")))

	mode, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeRemote, mode)
	require.True(t, tr.ended)
	require.Zero(t, tr.cancelled)
	require.Len(t, tr.chunks, 2)

	exists, err := afero.Exists(local, "a_1.webm")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSender_RejectedStartGoesLocal(t *testing.T) {
	tr := &fakeTransport{startAck: Ack{Success: false, Error: "already uploading"}}
	local := afero.NewMemMapFs()
	s := NewSender(tr, local, SenderConfig{})

	require.Equal(t, ModeLocal, s.Start(context.Background(), "a.webm"))
	require.NoError(t, s.Add(context.Background(), []byte("one")))
	require.NoError(t, s.Add(context.Background(), []byte("two")))
	mode, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeLocal, mode)

	require.Empty(t, tr.chunks)
	data, err := afero.ReadFile(local, "a.webm")
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(data))
	require.ErrorContains(t, s.FallbackReason(), "already uploading")
}

func TestSender_NackSavesWholeRecordingLocally(t *testing.T) {
	tr := &fakeTransport{startAck: Ack{Success: true}, nackAt: 2}
	local := afero.NewMemMapFs()
	s := NewSender(tr, local, SenderConfig{})

	s.Start(context.Background(), "b.webm")
	require.NoError(t, s.Add(context.Background(), []byte("1")))
	require.NoError(t, s.Add(context.Background(), []byte("2")))
	require.Equal(t, ModeLocal, s.Mode())
	require.NoError(t, s.Add(context.Background(), []byte("3")))
	_, err := s.Stop(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, tr.cancelled)
	require.Len(t, tr.chunks, 2, "no chunk goes to the relay after the nack")
	data, err := afero.ReadFile(local, "b.webm")
	require.NoError(t, err)
	require.Equal(t, "123", string(data))
	require.False(t, tr.ended)
}

func TestSender_AckTimeout(t *testing.T) {
	mock := clock.NewMock()
	tr := &fakeTransport{startAck: Ack{Success: true}, hangAt: 1, entered: make(chan struct{}, 1)}
	local := afero.NewMemMapFs()
	s := NewSender(tr, local, SenderConfig{Clock: mock, AckTimeout: 3 * time.Second})
	s.Start(context.Background(), "c.webm")

	done := make(chan error, 1)
	go func() { done <- s.Add(context.Background(), []byte("slow")) }()

	<-tr.entered
	mock.Add(3 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not give up after the ack timeout")
	}
	require.Equal(t, ModeLocal, s.Mode())
	require.Error(t, s.FallbackReason())

	require.NoError(t, s.Add(context.Background(), []byte("-after")))
	_, err := s.Stop(context.Background())
	require.NoError(t, err)
	data, err := afero.ReadFile(local, "c.webm")
	require.NoError(t, err)
	require.Equal(t, "slow-after", string(data))
}

func TestSender_AddBeforeStart(t *testing.T) {
	s := NewSender(&fakeTransport{}, afero.NewMemMapFs(), SenderConfig{})
	require.Error(t, s.Add(context.Background(), []byte("x")))
}
