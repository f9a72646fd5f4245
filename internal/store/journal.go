// Package store keeps an append-only journal of presence changes in Postgres.
// It is write-only from the server's point of view: nothing is restored from
// it.
package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/entity-sync/internal/session"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

const (
	KindJoin  = "join"
	KindLeave = "leave"

	batchSize    = 64
	flushTimeout = 5 * time.Second
)

type PresenceEvent struct {
	ID       uint   `gorm:"primaryKey"`
	Room     string `gorm:"size:16;index"`
	Index    uint32
	ClientID string    `gorm:"size:32"`
	Kind     string    `gorm:"size:8"`
	At       time.Time `gorm:"index"`
}

// Open connects to Postgres through the pgx-backed GORM driver and migrates
// the journal table.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.AutoMigrate(&PresenceEvent{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

type writeFunc func(ctx context.Context, batch []PresenceEvent) error

// Journal queues events from session loops and writes them from its own
// goroutine, so a slow database never stalls a tick.
type Journal struct {
	queue   chan PresenceEvent
	write   writeFunc
	log     *zap.Logger
	now     func() time.Time
	dropped atomic.Uint64
}

func NewJournal(db *gorm.DB, size int, log *zap.Logger) *Journal {
	return newJournal(func(ctx context.Context, batch []PresenceEvent) error {
		return db.WithContext(ctx).CreateInBatches(batch, batchSize).Error
	}, size, log)
}

func newJournal(write writeFunc, size int, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = 1024
	}
	return &Journal{
		queue: make(chan PresenceEvent, size),
		write: write,
		log:   log,
		now:   time.Now,
	}
}

// Record enqueues ev without blocking. A full queue drops the event.
func (j *Journal) Record(ev PresenceEvent) bool {
	if ev.At.IsZero() {
		ev.At = j.now()
	}
	select {
	case j.queue <- ev:
		return true
	default:
		j.dropped.Add(1)
		return false
	}
}

// Dropped reports how many events were lost to a full queue.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			for batch := j.drain(nil); len(batch) > 0; batch = j.drain(nil) {
				j.flush(flushCtx, batch)
			}
			cancel()
			return nil
		case ev := <-j.queue:
			j.flush(ctx, j.drain([]PresenceEvent{ev}))
		}
	}
}

func (j *Journal) drain(batch []PresenceEvent) []PresenceEvent {
	for len(batch) < batchSize {
		select {
		case ev := <-j.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) flush(ctx context.Context, batch []PresenceEvent) {
	if len(batch) == 0 {
		return
	}
	if err := j.write(ctx, batch); err != nil {
		j.log.Warn("presence journal write failed", zap.Int("events", len(batch)), zap.Error(err))
	}
}

// Observer adapts the journal to one room's session.
func (j *Journal) Observer(room string) session.Observer {
	return roomObserver{j: j, room: room}
}

type roomObserver struct {
	j    *Journal
	room string
}

func (o roomObserver) Joined(idx types.Index, clientID string) {
	o.j.Record(PresenceEvent{Room: o.room, Index: uint32(idx), ClientID: clientID, Kind: KindJoin})
}

func (o roomObserver) Left(idx types.Index, clientID string) {
	o.j.Record(PresenceEvent{Room: o.room, Index: uint32(idx), ClientID: clientID, Kind: KindLeave})
}
