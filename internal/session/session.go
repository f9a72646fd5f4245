// Package session runs the authoritative synchronization loop of one room.
//
// A Session is an actor: every mutation of its table, delta history and index
// allocator happens on the loop goroutine, driven by inbox messages and the
// tick timer. Each tick is assembled from one consistent view of the table,
// encoded once and handed to every client outbox.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/delta"
	"github.com/DoyleJ11/entity-sync/internal/engine"
	"github.com/DoyleJ11/entity-sync/internal/envelope"
	"github.com/DoyleJ11/entity-sync/internal/index"
	"github.com/DoyleJ11/entity-sync/internal/tick"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

type Msg interface{ isSessionMsg() }

// Messages that name an index also carry the client id, so a message from a
// client that was already dropped cannot touch a recycled index.

type FromClient struct {
	ClientID string
	Cmd      engine.Command
}

func (FromClient) isSessionMsg() {}

type Join struct {
	ClientID string
	Initial  []types.ComponentValue
	Outbox   chan []byte // packed envelopes for this client
	Reply    chan JoinResult
}

func (Join) isSessionMsg() {}

type JoinResult struct {
	Index types.Index
	Err   error
}

type Leave struct {
	Index    types.Index
	ClientID string
}

func (Leave) isSessionMsg() {}

// Resync asks for a fresh snapshot on the client's outbox.
type Resync struct {
	Index    types.Index
	ClientID string
}

func (Resync) isSessionMsg() {}

// TickNow builds and broadcasts a tick immediately. Reply may be nil.
type TickNow struct {
	Reply chan tick.Tick
}

func (TickNow) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type View struct {
	ServerTime   uint64
	Ticks        uint64
	NumClients   int
	Live         []types.Index
	Synced       []types.Index
	Updates      uint64 // accepted component updates
	StateChanges uint64 // accepted state blobs that differed from the stored one
}

// Observer hears about joins and leaves. It is called on the loop goroutine
// and must not block.
type Observer interface {
	Joined(idx types.Index, clientID string)
	Left(idx types.Index, clientID string)
}

type Config struct {
	Interval  time.Duration // zero disables the timer; use TickNow
	Catalog   types.Catalog
	Packer    envelope.Packer
	InboxSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  50 * time.Millisecond,
		Catalog:   types.DefaultCatalog(),
		InboxSize: 256,
	}
}

type client struct {
	id     string
	outbox chan []byte
}

type Session struct {
	inbox    chan Msg
	cfg      Config
	table    *engine.Table
	enc      *delta.Encoder
	alloc    *index.Allocator
	clients  map[types.Index]*client
	observer Observer
	log      *zap.Logger

	start      time.Time
	now        func() time.Time
	serverTime uint64
	ticks      uint64

	updates      uint64
	stateChanges uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, cfg Config, log *zap.Logger, obs Observer) *Session {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}

	s := &Session{
		inbox:    make(chan Msg, cfg.InboxSize),
		cfg:      cfg,
		table:    engine.NewTable(cfg.Catalog),
		enc:      delta.NewEncoder(cfg.Catalog.Components),
		alloc:    index.NewAllocator(),
		clients:  make(map[types.Index]*client),
		observer: obs,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.start = s.now()

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)

	var tickC <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-tickC:
			s.step()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- s.join(msg)

			case Leave:
				if _, ok := s.owned(msg.Index, msg.ClientID); ok {
					s.leave(msg.Index, "closed")
				}

			case FromClient:
				if _, ok := s.owned(msg.Cmd.Index, msg.ClientID); !ok {
					break
				}
				events, err := engine.Apply(s.table, msg.Cmd)
				if err != nil {
					s.log.Debug("command rejected",
						zap.Uint32("index", uint32(msg.Cmd.Index)),
						zap.String("type", string(msg.Cmd.Type)),
						zap.Error(err))
					break
				}
				s.count(events)

			case Resync:
				if c, ok := s.owned(msg.Index, msg.ClientID); ok {
					s.log.Info("resync requested", zap.Uint32("index", uint32(msg.Index)))
					s.sendSnapshot(msg.Index, c)
				}

			case TickNow:
				tk := s.step()
				if msg.Reply != nil {
					msg.Reply <- tk
				}

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					ServerTime:   s.serverTime,
					Ticks:        s.ticks,
					NumClients:   len(s.clients),
					Live:         s.alloc.Live(),
					Synced:       s.table.Synced(),
					Updates:      s.updates,
					StateChanges: s.stateChanges,
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) join(msg Join) JoinResult {
	idx := s.alloc.Allocate()
	s.table.Spawn(idx, msg.Initial)
	c := &client{id: msg.ClientID, outbox: msg.Outbox}
	s.clients[idx] = c

	s.log.Info("client joined",
		zap.String("client", msg.ClientID),
		zap.Uint32("index", uint32(idx)),
		zap.Int("clients", len(s.clients)))
	if s.observer != nil {
		s.observer.Joined(idx, msg.ClientID)
	}

	// The snapshot goes out before any later tick on this outbox.
	if !s.sendSnapshot(idx, c) {
		return JoinResult{Index: idx, Err: ErrOutboxFull}
	}
	return JoinResult{Index: idx}
}

func (s *Session) count(events []engine.Event) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtComponentsObserved:
			s.updates++
		case engine.EvtStateChanged:
			s.stateChanges++
			s.log.Debug("state changed",
				zap.Uint32("index", uint32(ev.Index)),
				zap.Uint32("state", uint32(ev.StateID)))
		}
	}
}

func (s *Session) owned(idx types.Index, clientID string) (*client, bool) {
	c, ok := s.clients[idx]
	if !ok || c.id != clientID {
		return nil, false
	}
	return c, true
}

// leave releases idx and forgets all of its history synchronously; the index
// shows up in the next tick's removed list.
func (s *Session) leave(idx types.Index, reason string) {
	c, ok := s.clients[idx]
	if !ok {
		return
	}
	delete(s.clients, idx)
	close(c.outbox)

	if err := s.alloc.Release(idx); err != nil {
		s.log.Warn("release failed", zap.Uint32("index", uint32(idx)), zap.Error(err))
	}
	s.table.Despawn(idx)
	s.enc.Drop(idx)

	s.log.Info("client left",
		zap.String("client", c.id),
		zap.Uint32("index", uint32(idx)),
		zap.String("reason", reason))
	if s.observer != nil {
		s.observer.Left(idx, c.id)
	}
}

func (s *Session) shutdown() {
	for idx, c := range s.clients {
		close(c.outbox) // Tell client no more messages
		delete(s.clients, idx)
	}
	s.cancel()
}

// Inbox exposes the inbox so tests or the WS layer can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop asks the loop to shut down without waiting on the inbox. Done
// reports when it has.
func (s *Session) Stop() { s.cancel() }

// Send posts m unless the session is gone.
func (s *Session) Send(ctx context.Context, m Msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
