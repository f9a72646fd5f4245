// Command bot runs headless clients that walk in circles in one room.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/entity-sync/internal/client"
	"github.com/DoyleJ11/entity-sync/internal/logging"
	"github.com/DoyleJ11/entity-sync/internal/transform"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

func main() {
	url := flag.String("url", "http://localhost:8080", "server base URL")
	room := flag.String("room", "", "room code")
	n := flag.Int("n", 4, "number of bots")
	rate := flag.Duration("rate", 50*time.Millisecond, "transform send interval")
	flag.Parse()

	if *room == "" {
		fmt.Fprintln(os.Stderr, "-room is required")
		os.Exit(2)
	}
	log, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for i := range *n {
		blog := log.With(zap.Int("bot", i))
		cl := client.NewClient(*url, *room, presence{log: blog}, blog)
		g.Go(func() error { return cl.Run(ctx) })
		g.Go(func() error { return walk(ctx, cl, i, *rate) })
	}
	if err := g.Wait(); err != nil {
		log.Error("bots stopped", zap.Error(err))
		os.Exit(1)
	}
}

// walk sends a point on a circle every rate, on whichever connection is
// current.
func walk(ctx context.Context, cl *client.Client, bot int, rate time.Duration) error {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	var conn *client.Conn
	radius := float64(2 + bot)
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-cl.Conns():
			conn = c
			_ = conn.SetState(ctx, types.StateAppearance, []byte(fmt.Sprintf("bot-%d", bot)))
		case now := <-ticker.C:
			if conn == nil {
				continue
			}
			angle := now.Sub(start).Seconds() + float64(bot)
			pos := transform.Vec3{
				X: float32(radius * math.Cos(angle)),
				Z: float32(radius * math.Sin(angle)),
			}
			// yaw-only quaternion facing along the tangent
			half := (angle + math.Pi/2) / 2
			rot := transform.Rotation{Y: float32(math.Sin(half)), W: float32(math.Cos(half))}
			if err := conn.SendTransform(ctx, pos, rot, 1); err != nil {
				conn = nil // Run notices the broken connection and redials
			}
		}
	}
}

// presence logs join and leave notifications.
type presence struct {
	log *zap.Logger
}

func (p presence) Joined(idx types.Index) {
	p.log.Info("entity joined", zap.Uint32("index", uint32(idx)))
}

func (p presence) Left(idx types.Index) {
	p.log.Info("entity left", zap.Uint32("index", uint32(idx)))
}

func (p presence) Updated(client.ApplyResult) {}
