package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/camrelay/internal/core"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

// messages decodes and clears everything received so far.
func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	c.frames = nil
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range c.messages(t) {
		out = append(out, m["type"].(string))
	}
	return out
}

func connect(t *testing.T, reg *Registry, id domain.ConnID) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	reg.Connect(id, c, nil)
	return c
}

func addSource(t *testing.T, reg *Registry, id domain.ConnID, name string) *fakeConn {
	t.Helper()
	c := connect(t, reg, id)
	_, err := reg.Register(id, domain.RoleSource, domain.SourceMeta{Name: name})
	require.NoError(t, err)
	return c
}

func addController(t *testing.T, reg *Registry, id domain.ConnID) *fakeConn {
	t.Helper()
	c := connect(t, reg, id)
	_, err := reg.Register(id, domain.RoleController, domain.SourceMeta{})
	require.NoError(t, err)
	c.messages(t) // discard source-list
	return c
}

const testOffer = `{"type":"offer","sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}`
const testAnswer = `{"type":"answer","sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}`
const testCandidate = `{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`
