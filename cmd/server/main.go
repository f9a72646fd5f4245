package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/entity-sync/internal/config"
	"github.com/DoyleJ11/entity-sync/internal/envelope"
	"github.com/DoyleJ11/entity-sync/internal/httpapi"
	"github.com/DoyleJ11/entity-sync/internal/hub"
	"github.com/DoyleJ11/entity-sync/internal/logging"
	"github.com/DoyleJ11/entity-sync/internal/session"
	"github.com/DoyleJ11/entity-sync/internal/store"
	"github.com/DoyleJ11/entity-sync/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	profileMode := flag.String("profile", "", "write a cpu or mem profile to the working directory")
	flag.Parse()

	if err := run(*configPath, *profileMode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, profileMode string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if profileMode != "" {
		cfg.Profile = profileMode
	}
	switch cfg.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() {
		// stderr sync fails on some platforms; only report real errors
		if syncErr := log.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			err = multierr.Append(err, syncErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var observers hub.ObserverFunc
	if cfg.DatabaseURL != "" {
		db, openErr := store.Open(cfg.DatabaseURL)
		if openErr != nil {
			return openErr
		}
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return dbErr
		}
		defer func() { err = multierr.Append(err, sqlDB.Close()) }()

		journal := store.NewJournal(db, 1024, log.Named("journal"))
		observers = func(code string) session.Observer { return journal.Observer(code) }
		g.Go(func() error { return journal.Run(ctx) })
		log.Info("presence journal enabled")
	}

	scfg := session.DefaultConfig()
	scfg.Interval = cfg.TickInterval
	scfg.Packer = envelope.Packer{Codec: cfg.Compression, Threshold: cfg.CompressThreshold}
	h := hub.NewHub(ctx, scfg, log.Named("room"), observers)

	handler := httpapi.SetupRoutes(h, ws.Options{
		OutboxSize:      cfg.OutboxSize,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Log:             log.Named("ws"),
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Duration("tick", cfg.TickInterval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Done()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
