package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/envelope"
	"github.com/DoyleJ11/entity-sync/internal/tick"
	"github.com/DoyleJ11/entity-sync/internal/transform"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var ErrUnexpectedMessage = errors.New("client: unexpected message")

// Conn is one WebSocket connection to a room. Send methods may be called
// from any goroutine; Run owns the reconciler.
type Conn struct {
	ws     *websocket.Conn
	rec    *Reconciler
	self   types.Index
	packer envelope.Packer
	log    *zap.Logger
}

// RoomURL turns a server base URL (http, https, ws or wss) into the
// WebSocket URL of room.
func RoomURL(base, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()
	return u.String(), nil
}

// Dial connects to room and applies the welcome snapshot to rec before
// returning.
func Dial(ctx context.Context, base, room string, rec *Reconciler, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u, err := RoomURL(base, room)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	ws, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", room, err)
	}
	ws.SetReadLimit(envelope.MaxPayloadBytes + envelope.HeaderLen)

	c := &Conn{ws: ws, rec: rec, log: log}
	kind, payload, err := c.read(ctx)
	if err == nil && kind != envelope.KindSnapshot {
		err = fmt.Errorf("%w: %v before snapshot", ErrUnexpectedMessage, kind)
	}
	if err == nil {
		err = c.applySnapshot(payload)
	}
	if err != nil {
		ws.CloseNow()
		return nil, err
	}
	c.self = rec.Self()
	c.log = log.With(zap.Uint32("index", uint32(c.self)))
	return c, nil
}

// Self is the index the server assigned to this connection.
func (c *Conn) Self() types.Index { return c.self }

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Conn) send(ctx context.Context, kind envelope.Kind, payload []byte) error {
	msg, err := c.packer.Pack(kind, payload)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageBinary, msg)
}

// SendTransform reports the local avatar. Indices beyond the frame's 16-bit
// id travel as absolute components plus an animation state update.
func (c *Conn) SendTransform(ctx context.Context, pos transform.Vec3, rot transform.Rotation, state uint8) error {
	self := c.Self()
	f := transform.Frame{Position: pos, Rotation: rot, State: state}
	if self <= math.MaxUint16 {
		f.ID = uint16(self)
		return c.send(ctx, envelope.KindTransform, transform.AppendEncode(nil, f))
	}
	if err := c.SetComponents(ctx, f.Components()); err != nil {
		return err
	}
	return c.SetState(ctx, types.StateAnimation, []byte{state})
}

func (c *Conn) SetComponents(ctx context.Context, values []types.ComponentValue) error {
	return c.send(ctx, envelope.KindSetComponents, envelope.MarshalSetComponents(values))
}

func (c *Conn) SetState(ctx context.Context, id types.StateID, data []byte) error {
	return c.send(ctx, envelope.KindSetState, envelope.MarshalSetState(envelope.SetState{ID: id, Data: data}))
}

func (c *Conn) RequestResync(ctx context.Context) error {
	return c.send(ctx, envelope.KindResync, nil)
}

func (c *Conn) read(ctx context.Context) (envelope.Kind, []byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ != websocket.MessageBinary {
		return 0, nil, fmt.Errorf("%w: text frame", ErrUnexpectedMessage)
	}
	return envelope.Unpack(data)
}

func (c *Conn) applySnapshot(payload []byte) error {
	snap, err := tick.UnmarshalSnapshot(payload)
	if err != nil {
		return fmt.Errorf("client: snapshot: %w", err)
	}
	return c.rec.ApplySnapshot(snap)
}

// Run applies server messages until ctx ends or the stream becomes
// unusable. A missing history triggers a resync request and keeps going;
// anything that means the decoders are out of step is returned.
func (c *Conn) Run(ctx context.Context) error {
	for {
		kind, payload, err := c.read(ctx)
		if err != nil {
			return err
		}
		switch kind {
		case envelope.KindSnapshot:
			if err := c.applySnapshot(payload); err != nil {
				return err
			}
		case envelope.KindTick:
			tk, err := tick.Unmarshal(payload)
			if err != nil {
				return fmt.Errorf("client: tick: %w", err)
			}
			_, err = c.rec.ApplyTick(tk)
			switch {
			case errors.Is(err, ErrHistoryMissing):
				c.log.Info("history missing, requesting resync", zap.Error(err))
				if err := c.RequestResync(ctx); err != nil {
					return err
				}
			case err != nil:
				return err
			}
		default:
			return fmt.Errorf("%w: %v", ErrUnexpectedMessage, kind)
		}
	}
}

// Client keeps a room connection alive, redialing after fatal stream errors.
// The reconciler survives reconnects; each new snapshot replaces its
// contents.
type Client struct {
	URL     string
	Room    string
	Backoff time.Duration
	Log     *zap.Logger

	rec   *Reconciler
	conns chan *Conn
}

func NewClient(base, room string, consumer Consumer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		URL:     base,
		Room:    room,
		Backoff: 500 * time.Millisecond,
		Log:     log,
		rec:     NewReconciler(consumer),
		conns:   make(chan *Conn, 1),
	}
}

// Conns delivers every new connection, so callers can send on it.
func (cl *Client) Conns() <-chan *Conn { return cl.conns }

// Run dials, reads until the connection fails, and dials again. It returns
// when ctx ends.
func (cl *Client) Run(ctx context.Context) error {
	for {
		conn, err := Dial(ctx, cl.URL, cl.Room, cl.rec, cl.Log)
		if err == nil {
			select {
			case cl.conns <- conn:
			default:
				// replace a connection nobody picked up
				select {
				case <-cl.conns:
				default:
				}
				cl.conns <- conn
			}
			err = conn.Run(ctx)
			conn.ws.CloseNow()
		}
		if ctx.Err() != nil {
			return nil
		}
		cl.Log.Warn("connection lost, reconnecting", zap.String("room", cl.Room), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cl.Backoff):
		}
	}
}
