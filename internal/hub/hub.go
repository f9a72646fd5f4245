// Package hub owns the room registry. Like a session it is an actor: the
// rooms map is only touched by the loop goroutine.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/session"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Code  string
	Reply chan *session.Session
}

type GetRoom struct {
	Code  string
	Reply chan *session.Session
}

type EnsureRoom struct {
	Code  string
	Reply chan *session.Session
}

type RemoveRoom struct {
	Code string
}

type ListRooms struct {
	Reply chan []string
}

// ShutdownHub stops every room and then the hub itself.
type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// ObserverFunc builds the presence observer of a new room. It may return nil.
type ObserverFunc func(code string) session.Observer

type Hub struct {
	inbox     chan HubMsg
	rooms     map[string]*session.Session
	cfg       session.Config
	observers ObserverFunc
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewHub(parent context.Context, cfg session.Config, log *zap.Logger, observers ObserverFunc) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		rooms:     make(map[string]*session.Session),
		cfg:       cfg,
		observers: observers,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after every room has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom, EnsureRoom:
				code, reply := roomRequest(msg)
				if s := h.rooms[code]; s != nil {
					reply <- s
					break
				}
				reply <- h.open(code)

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case RemoveRoom:
				if s := h.rooms[msg.Code]; s != nil {
					s.Stop()
					delete(h.rooms, msg.Code)
				}

			case ListRooms:
				codes := make([]string, 0, len(h.rooms))
				for code := range h.rooms {
					codes = append(codes, code)
				}
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func roomRequest(m HubMsg) (string, chan *session.Session) {
	switch msg := m.(type) {
	case CreateRoom:
		return msg.Code, msg.Reply
	case EnsureRoom:
		return msg.Code, msg.Reply
	}
	return "", nil
}

func (h *Hub) open(code string) *session.Session {
	var obs session.Observer
	if h.observers != nil {
		obs = h.observers(code)
	}
	s := session.New(h.ctx, h.cfg, h.log.With(zap.String("room", code)), obs)
	h.rooms[code] = s
	h.log.Info("room opened", zap.String("room", code))
	return s
}

func (h *Hub) shutdown() {
	for code, s := range h.rooms {
		if !s.Send(context.Background(), session.Shutdown{}) {
			continue
		}
		<-s.Done()
		delete(h.rooms, code)
	}
	h.cancel()
}
