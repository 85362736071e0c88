package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/camrelay/internal/app"
	"github.com/dkeye/camrelay/internal/app/orch"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/resync"
	"github.com/dkeye/camrelay/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testOffer = `{"type":"offer","sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}`
const testAnswer = `{"type":"answer","sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}`

type testRelay struct {
	orch *orch.Orchestrator
	fs   afero.Fs
	url  string
}

func newTestRelay(t *testing.T, ucfg upload.Config) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := afero.NewMemMapFs()
	o := orch.New(upload.NewPipeline(fs, ucfg), orch.Options{
		Legacy:     true,
		Policy:     app.SimplePolicy{},
		ICEServers: domain.ICEServers([]string{"stun:stun.example.org:3478"}),

		ResyncTimeout:    5 * time.Second,
		UploadAckTimeout: 2 * time.Second,
	})
	ctl := NewSignalWSController(o, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &testRelay{orch: o, fs: fs, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

func (r *testRelay) dial(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, r.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (r *testRelay) source(t *testing.T, name string) (*Client, domain.ConnID) {
	t.Helper()
	c := r.dial(t)
	a, err := c.RegisterSource(ctx(t), name)
	require.NoError(t, err)
	return c, a.Conn
}

func (r *testRelay) controller(t *testing.T) (*Client, domain.ConnID) {
	t.Helper()
	c := r.dial(t)
	a, err := c.RegisterController(ctx(t))
	require.NoError(t, err)
	waitFor(t, c, "source-list")
	return c, a.Conn
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// collect reads messages until one of type typ arrives and returns all of
// them, the match last.
func collect(t *testing.T, c *Client, typ string) []map[string]any {
	t.Helper()
	timeout := time.After(2 * time.Second)
	var seen []map[string]any
	for {
		select {
		case raw, ok := <-c.Messages():
			require.True(t, ok, "connection closed while waiting for %s", typ)
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			seen = append(seen, m)
			if m["type"] == typ {
				return seen
			}
		case <-timeout:
			t.Fatalf("no %s message, got %v", typ, seen)
		}
	}
}

func waitFor(t *testing.T, c *Client, typ string) map[string]any {
	t.Helper()
	seen := collect(t, c, typ)
	return seen[len(seen)-1]
}

func TestSignal_RegistrationAndPresence(t *testing.T) {
	r := newTestRelay(t, upload.Config{})

	ctrl := r.dial(t)
	a, err := ctrl.RegisterController(ctx(t))
	require.NoError(t, err)
	require.True(t, a.Success)
	require.Equal(t, domain.RoleController, a.Role)
	require.NotEmpty(t, a.Conn)
	require.Len(t, a.ICEServers, 1)
	list := waitFor(t, ctrl, "source-list")
	require.Empty(t, list["sources"])

	src, srcID := r.source(t, "Front")
	joined := waitFor(t, ctrl, "source-joined")
	require.Equal(t, string(srcID), joined["id"])
	require.Equal(t, "Front", joined["name"])

	require.NoError(t, src.Close())
	left := waitFor(t, ctrl, "source-left")
	require.Equal(t, string(srcID), left["id"])
	require.Empty(t, r.orch.Registry.ListSources())
}

func TestSignal_RegistrationAdvertisesTimeouts(t *testing.T) {
	r := newTestRelay(t, upload.Config{})

	ctrl := r.dial(t)
	a, err := ctrl.RegisterController(ctx(t))
	require.NoError(t, err)
	require.EqualValues(t, 5000, a.ResyncTimeoutMs)
	require.Zero(t, a.UploadAckTimeoutMs)
	require.Equal(t, 5*time.Second, a.TrackerConfig().Timeout)

	src := r.dial(t)
	a, err = src.RegisterSource(ctx(t), "cam")
	require.NoError(t, err)
	require.EqualValues(t, 2000, a.UploadAckTimeoutMs)
	require.Zero(t, a.ResyncTimeoutMs)
	require.Equal(t, 2*time.Second, a.SenderConfig().AckTimeout)
}

func TestSignal_TargetedNegotiation(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	s1, s1ID := r.source(t, "one")
	s2, s2ID := r.source(t, "two")
	ctrl, ctrlID := r.controller(t)

	require.NoError(t, s1.Negotiate(domain.KindOffer, ctrlID, json.RawMessage(testOffer)))
	offer := waitFor(t, ctrl, "offer")
	require.Equal(t, string(s1ID), offer["from"])
	require.Equal(t, "offer", offer["payload"].(map[string]any)["type"])

	require.NoError(t, ctrl.Negotiate(domain.KindAnswer, s2ID, json.RawMessage(testAnswer)))
	answer := waitFor(t, s2, "answer")
	require.Equal(t, string(ctrlID), answer["from"])

	require.NoError(t, s1.Send(map[string]any{"type": TypePing}))
	for _, m := range collect(t, s1, TypePong) {
		require.NotEqual(t, "answer", m["type"])
	}
}

func TestSignal_ControllerInitiatedOffer(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	s1, s1ID := r.source(t, "one")
	s2, _ := r.source(t, "two")
	ctrl, ctrlID := r.controller(t)

	require.NoError(t, ctrl.Negotiate(domain.KindOffer, s1ID, json.RawMessage(testOffer)))
	offer := waitFor(t, s1, "offer")
	require.Equal(t, string(ctrlID), offer["from"])

	require.NoError(t, s1.Negotiate(domain.KindAnswer, ctrlID, json.RawMessage(testAnswer)))
	answer := waitFor(t, ctrl, "answer")
	require.Equal(t, string(s1ID), answer["from"])

	require.NoError(t, s2.Send(map[string]any{"type": TypePing}))
	for _, m := range collect(t, s2, TypePong) {
		require.NotEqual(t, "offer", m["type"])
	}
}

func TestSignal_BadNegotiationPayload(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	s, _ := r.source(t, "cam")
	_, ctrlID := r.controller(t)

	require.NoError(t, s.Negotiate(domain.KindOffer, ctrlID, json.RawMessage(`{"type":"offer","sdp":"garbage"}`)))
	e := waitFor(t, s, TypeError)
	require.Equal(t, "bad_payload", e["error"])
}

func TestSignal_RoleConflictKeepsConnection(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, srcID := r.source(t, "cam")

	a, err := src.Request(ctx(t), TypeRegisterController, nil)
	require.NoError(t, err)
	require.False(t, a.Success)
	require.Equal(t, "role conflict", a.Error)
	require.Equal(t, domain.RoleSource, r.orch.Registry.Role(srcID))

	require.NoError(t, src.Send(map[string]any{"type": TypePing}))
	waitFor(t, src, TypePong)
}

func TestSignal_InvalidSourceName(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	c := r.dial(t)
	_, err := c.RegisterSource(ctx(t), strings.Repeat("x", 65))
	require.ErrorContains(t, err, "name too long")
}

func TestSignal_CommandRejections(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, _ := r.source(t, "cam")
	ctrl, _ := r.controller(t)

	require.NoError(t, ctrl.Send(map[string]any{"type": TypeCommand, "target": "all", "name": "self-destruct"}))
	require.Equal(t, "unknown_command", waitFor(t, ctrl, TypeError)["error"])

	require.NoError(t, ctrl.Send(map[string]any{"type": TypeCommand, "target": "all", "name": "apply-setting", "args": map[string]any{}}))
	require.Equal(t, "bad_args", waitFor(t, ctrl, TypeError)["error"])

	require.NoError(t, src.SendCommand(domain.TargetAll, domain.StartCapture{}))
	require.Equal(t, "wrong_role", waitFor(t, src, TypeError)["error"])
}

func TestSignal_CommandOrder(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, srcID := r.source(t, "cam")
	ctrl, ctrlID := r.controller(t)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, ctrl.SendCommand(srcID, domain.SwitchLens{DeviceID: fmt.Sprintf("lens-%d", i)}))
	}
	for i := 0; i < n; i++ {
		m := waitFor(t, src, TypeCommand)
		require.Equal(t, string(ctrlID), m["from"])
		require.Equal(t, fmt.Sprintf("lens-%d", i), m["args"].(map[string]any)["deviceId"])
	}
}

func TestSignal_ResyncWithTracker(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	_, otherID := r.source(t, "other")
	src, srcID := r.source(t, "cam")
	ctrl, _ := r.controller(t)

	tr := resync.NewTracker(ctrl, resync.Config{Timeout: 5 * time.Second})
	require.NoError(t, tr.Select(srcID))

	req := waitFor(t, src, TypeCommand)
	require.Equal(t, "request-state", req["name"])

	require.NoError(t, src.PublishEvent(domain.EvtDeviceInventory, map[string]any{"devices": []string{"back", "front"}}))
	require.NoError(t, src.PublishEvent(domain.EvtCapabilitySet, map[string]any{"zoom": map[string]any{"min": 1, "max": 8}}))
	require.NoError(t, src.PublishEvent(domain.EvtActivityState, map[string]any{"state": "idle"}))

	for tr.State() != resync.Synced {
		m := waitFor(t, ctrl, TypeEvent)
		from := domain.ConnID(m["from"].(string))
		require.NotEqual(t, otherID, from)
		tr.Observe(from, domain.EventName(m["name"].(string)))
	}
	require.Empty(t, tr.Missing())
}

func TestSignal_UploadThroughSender(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, srcID := r.source(t, "cam")

	local := afero.NewMemMapFs()
	s := upload.NewSender(src, local, upload.SenderConfig{AckTimeout: 2 * time.Second})
	require.Equal(t, upload.ModeRemote, s.Start(ctx(t), "clip.webm"))
	for _, chunk := range []string{"aaa", "bbb", "ccc"} {
		require.NoError(t, s.Add(ctx(t), []byte(chunk)))
	}
	mode, err := s.Stop(ctx(t))
	require.NoError(t, err)
	require.Equal(t, upload.ModeRemote, mode)

	b, err := afero.ReadFile(r.fs, s.Filename())
	require.NoError(t, err)
	require.Equal(t, "aaabbbccc", string(b))
	require.False(t, r.orch.Uploads.Has(srcID))

	exists, err := afero.Exists(local, "clip.webm")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSignal_SenderFallsBackOnOversizeChunk(t *testing.T) {
	r := newTestRelay(t, upload.Config{MaxChunk: 4})
	src, _ := r.source(t, "cam")

	local := afero.NewMemMapFs()
	s := upload.NewSender(src, local, upload.SenderConfig{AckTimeout: 2 * time.Second})
	require.Equal(t, upload.ModeRemote, s.Start(ctx(t), "big.webm"))
	require.NoError(t, s.Add(ctx(t), []byte("ok")))
	require.NoError(t, s.Add(ctx(t), []byte("too-large")))
	require.Equal(t, upload.ModeLocal, s.Mode())
	require.NoError(t, s.Add(ctx(t), []byte("!")))
	_, err := s.Stop(ctx(t))
	require.NoError(t, err)

	b, err := afero.ReadFile(local, "big.webm")
	require.NoError(t, err)
	require.Equal(t, "oktoo-large!", string(b))
}

func TestSignal_BinaryChunks(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, _ := r.source(t, "cam")

	a, err := src.StartUpload(ctx(t), "bin.webm")
	require.NoError(t, err)
	require.True(t, a.Success)

	src.wmu.Lock()
	err = src.conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
	src.wmu.Unlock()
	require.NoError(t, err)
	ack := waitFor(t, src, TypeAck)
	require.Equal(t, true, ack["success"])
	require.Equal(t, float64(4), ack["bytes"])

	end, err := src.EndUpload(ctx(t))
	require.NoError(t, err)
	require.True(t, end.Success)
	require.Equal(t, int64(4), end.Bytes)
}

func TestSignal_UploadErrors(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, _ := r.source(t, "cam")
	ctrl, _ := r.controller(t)

	a, err := ctrl.StartUpload(ctx(t), "x.webm")
	require.NoError(t, err)
	require.False(t, a.Success)
	require.Equal(t, "wrong role for message", a.Error)

	a, err = src.EndUpload(ctx(t))
	require.NoError(t, err)
	require.False(t, a.Success)
	require.Equal(t, "no upload session", a.Error)

	_, err = src.StartUpload(ctx(t), "x.webm")
	require.NoError(t, err)
	a, err = src.StartUpload(ctx(t), "y.webm")
	require.NoError(t, err)
	require.False(t, a.Success)
	require.Equal(t, "already uploading", a.Error)
}

func TestSignal_DisconnectCancelsUpload(t *testing.T) {
	r := newTestRelay(t, upload.Config{})
	src, srcID := r.source(t, "cam")

	a, err := src.StartUpload(ctx(t), "cut.webm")
	require.NoError(t, err)
	_, err = src.SendChunk(ctx(t), []byte("partial"))
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.Eventually(t, func() bool {
		return !r.orch.Uploads.Has(srcID) && r.orch.Registry.Role(srcID) == domain.RoleNone
	}, 2*time.Second, 10*time.Millisecond)

	b, err := afero.ReadFile(r.fs, a.Filename)
	require.NoError(t, err)
	require.Equal(t, "partial", string(b))
}
