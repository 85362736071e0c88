package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/resync"
	"github.com/dkeye/camrelay/internal/upload"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client speaks the relay protocol from the other end. Sources use it as the
// upload sender's transport; controllers use it to drive a resync tracker.
//
// Acknowledged requests wait for the ack with the matching id. Everything
// else arrives on Messages.
type Client struct {
	conn *websocket.Conn

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Ack
	seq     atomic.Uint64

	inbox chan json.RawMessage
	done  chan struct{}
}

func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    ws,
		pending: make(map[string]chan Ack),
		inbox:   make(chan json.RawMessage, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Messages delivers every frame that is not a reply to a pending request. It
// is closed when the connection ends.
func (c *Client) Messages() <-chan json.RawMessage { return c.inbox }

func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		close(c.inbox)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == TypeAck && env.ID != "" {
			var a Ack
			if err := json.Unmarshal(data, &a); err == nil {
				c.resolve(a)
			}
			continue
		}
		select {
		case c.inbox <- data:
		default:
			log.Warn().Str("module", "signal.client").Str("type", env.Type).Msg("inbox full, message dropped")
		}
	}
}

func (c *Client) resolve(a Ack) {
	c.mu.Lock()
	ch, ok := c.pending[a.ID]
	delete(c.pending, a.ID)
	c.mu.Unlock()
	if ok {
		ch <- a
	}
}

func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Request sends msg with a fresh id and waits for its ack.
func (c *Client) Request(ctx context.Context, typ string, fields map[string]any) (Ack, error) {
	id := strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan Ack, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := map[string]any{"type": typ, "id": id}
	for k, v := range fields {
		msg[k] = v
	}
	if err := c.Send(msg); err != nil {
		return Ack{}, err
	}
	select {
	case a := <-ch:
		return a, nil
	case <-c.done:
		return Ack{}, ErrClosed
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

func (c *Client) RegisterSource(ctx context.Context, name string) (Ack, error) {
	return c.register(ctx, TypeRegisterSource, map[string]any{"name": name})
}

func (c *Client) RegisterController(ctx context.Context) (Ack, error) {
	return c.register(ctx, TypeRegisterController, nil)
}

func (c *Client) register(ctx context.Context, typ string, fields map[string]any) (Ack, error) {
	a, err := c.Request(ctx, typ, fields)
	if err != nil {
		return a, err
	}
	if !a.Success {
		return a, errors.New(a.Error)
	}
	return a, nil
}

// TrackerConfig is the resync setup the relay advertised to a controller.
// A zero timeout leaves the tracker default in place.
func (a Ack) TrackerConfig() resync.Config {
	return resync.Config{Timeout: time.Duration(a.ResyncTimeoutMs) * time.Millisecond}
}

// SenderConfig is the upload setup the relay advertised to a source.
func (a Ack) SenderConfig() upload.SenderConfig {
	return upload.SenderConfig{AckTimeout: time.Duration(a.UploadAckTimeoutMs) * time.Millisecond}
}

// Negotiate sends an offer, answer or candidate to `to`.
func (c *Client) Negotiate(kind domain.NegotiationKind, to domain.ConnID, payload json.RawMessage) error {
	return c.Send(map[string]any{"type": kind, "target": to, "payload": payload})
}

func (c *Client) SendCommand(to domain.ConnID, cmd domain.Command) error {
	return c.Send(map[string]any{"type": TypeCommand, "target": to, "name": cmd.Name(), "args": cmd})
}

func (c *Client) PublishEvent(name domain.EventName, args any) error {
	return c.Send(map[string]any{"type": TypeEvent, "name": name, "args": args})
}

// RequestState satisfies resync.Requester.
func (c *Client) RequestState(source domain.ConnID) error {
	return c.Send(map[string]any{"type": TypeRequestState, "target": source})
}

func (c *Client) StartUpload(ctx context.Context, filename string) (upload.Ack, error) {
	return c.uploadRequest(ctx, TypeUploadStart, map[string]any{"filename": filename})
}

func (c *Client) SendChunk(ctx context.Context, chunk []byte) (upload.Ack, error) {
	return c.uploadRequest(ctx, TypeUploadChunk, map[string]any{"data": chunk})
}

func (c *Client) EndUpload(ctx context.Context) (upload.Ack, error) {
	return c.uploadRequest(ctx, TypeUploadEnd, nil)
}

func (c *Client) CancelUpload() {
	if err := c.Send(map[string]any{"type": TypeUploadCancel}); err != nil {
		log.Debug().Err(err).Str("module", "signal.client").Msg("cancel not sent")
	}
}

func (c *Client) uploadRequest(ctx context.Context, typ string, fields map[string]any) (upload.Ack, error) {
	a, err := c.Request(ctx, typ, fields)
	if err != nil {
		return upload.Ack{}, err
	}
	return upload.Ack{Success: a.Success, Error: a.Error, Filename: a.Filename, Bytes: a.Bytes}, nil
}
