package ws

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/engine"
	"github.com/DoyleJ11/entity-sync/internal/envelope"
	"github.com/DoyleJ11/entity-sync/internal/hub"
	"github.com/DoyleJ11/entity-sync/internal/session"
	"github.com/DoyleJ11/entity-sync/internal/transform"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var ErrUnexpectedKind = errors.New("ws: unexpected message kind")

// Options tune each connection. ReadTimeout bounds how long a peer may sit
// on an unanswered ping; peers that only listen stay connected.
type Options struct {
	OutboxSize      int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Log             *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		OutboxSize:      64,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOptions().OutboxSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultOptions().ReadTimeout
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("room")
		if code == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		s := <-reply
		if s == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(opts.MaxMessageBytes)

		out := make(chan []byte, opts.OutboxSize)
		clientID := randID(8)
		log := log.With(zap.String("room", code), zap.String("client", clientID))

		joined := make(chan session.JoinResult, 1)
		if !s.Send(r.Context(), session.Join{ClientID: clientID, Outbox: out, Reply: joined}) {
			conn.Close(websocket.StatusTryAgainLater, "room closed")
			return
		}
		var res session.JoinResult
		select {
		case res = <-joined:
		case <-s.Done():
			return
		}
		if res.Err != nil {
			log.Warn("join failed", zap.Error(res.Err))
			conn.Close(websocket.StatusTryAgainLater, "join failed")
			return
		}
		idx := res.Index
		defer s.Send(context.Background(), session.Leave{Index: idx, ClientID: clientID})

		// Writer goroutine. The session closes out when it drops us.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				ctx, cancel := context.WithTimeout(writeCtx, opts.WriteTimeout)
				err := conn.Write(ctx, websocket.MessageBinary, msg)
				cancel()
				if err != nil {
					conn.CloseNow()
					return
				}
			}
			conn.Close(websocket.StatusTryAgainLater, "dropped")
		}()
		go keepalive(writeCtx, conn, opts.ReadTimeout, log)

		// Reader loop
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}
			if typ != websocket.MessageBinary {
				conn.Close(websocket.StatusUnsupportedData, "binary only")
				return
			}

			msg, err := toSessionMsg(idx, clientID, data)
			if err != nil {
				// Malformed input means the peer's codec is out of step.
				log.Info("closing on bad message", zap.Error(err))
				conn.Close(websocket.StatusPolicyViolation, "malformed message")
				return
			}
			if !s.Send(r.Context(), msg) {
				return
			}
		}
	}
}

// keepalive pings the peer every half timeout and drops the connection
// when a pong does not come back in time. Pongs are answered by the peer's
// read loop, so a client that never sends stays connected.
func keepalive(ctx context.Context, conn *websocket.Conn, timeout time.Duration, log *zap.Logger) {
	t := time.NewTicker(timeout / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout/2)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				log.Info("peer stopped answering pings", zap.Error(err))
				conn.CloseNow()
			}
			return
		}
	}
}

// toSessionMsg decodes one client envelope into a session message acting on
// idx.
func toSessionMsg(idx types.Index, clientID string, data []byte) (session.Msg, error) {
	kind, payload, err := envelope.Unpack(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case envelope.KindTransform:
		f, err := transform.Decode(payload)
		if err != nil {
			return nil, err
		}
		return session.FromClient{ClientID: clientID, Cmd: engine.Command{Type: engine.CmdTransform, Index: idx, Frame: f}}, nil
	case envelope.KindSetState:
		m, err := envelope.UnmarshalSetState(payload)
		if err != nil {
			return nil, err
		}
		return session.FromClient{ClientID: clientID, Cmd: engine.Command{Type: engine.CmdSetState, Index: idx, StateID: m.ID, Data: m.Data}}, nil
	case envelope.KindSetComponents:
		values, err := envelope.UnmarshalSetComponents(payload)
		if err != nil {
			return nil, err
		}
		return session.FromClient{ClientID: clientID, Cmd: engine.Command{Type: engine.CmdSetComponents, Index: idx, Values: values}}, nil
	case envelope.KindResync:
		return session.Resync{Index: idx, ClientID: clientID}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedKind, kind)
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
