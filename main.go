package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"texsync/config"
	"texsync/internal/background"
	"texsync/internal/connectivity"
	"texsync/internal/document/service"
	"texsync/internal/reconcile"
	"texsync/pkg/logger"
	"texsync/router"
	"texsync/socket"
	"texsync/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "texsync:", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", "", "path of a .env file (default ./.env when present)")
	addr := pflag.String("addr", "", "listen address of the local API (overrides LISTEN_ADDR)")
	exportPath := pflag.String("export-journal", "", "write the pending journal as JSON to this path and exit")
	offline := pflag.Bool("offline", false, "start offline and do not probe the remote")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		return err
	}
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exportPath != "" {
		st := store.New(cfg.DBPath())
		defer st.Close()
		n, err := st.ExportPendingChanges(ctx, *exportPath)
		if err != nil {
			return err
		}
		logger.Sugar.Infof("Exported %d pending change(s) to %s", n, *exportPath)
		return nil
	}

	// The monitor is the store's scheduler and the worker's trigger, so it
	// is built first and the sync target is attached through the options.
	manager := background.NewManager(cfg.RetryInterval)
	var worker *reconcile.Worker
	monitorOpts := []connectivity.Option{connectivity.WithInitialState(!*offline)}
	if cfg.BackgroundSync {
		monitorOpts = append(monitorOpts, connectivity.WithRegistrar(manager))
	} else {
		monitorOpts = append(monitorOpts, connectivity.WithDirectSync(func() {
			if _, err := worker.Drain(ctx); err != nil {
				logger.Sugar.Warnf("Direct sync failed: %v", err)
			}
		}))
	}
	monitor := connectivity.NewMonitor(monitorOpts...)

	st := store.New(cfg.DBPath(), store.WithSyncScheduler(monitor))
	defer st.Close()
	if _, err := st.Open(ctx); err != nil {
		// Keep serving: every store operation degrades to a benign result.
		logger.Sugar.Errorf("Offline storage unavailable: %v", err)
	}

	worker = reconcile.NewWorker(st,
		reconcile.NewHTTPSubmitter(cfg.SyncEndpoint, cfg.SyncToken, cfg.SubmitTimeout),
		reconcile.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.BackoffBase,
			MaxBackoff:  cfg.BackoffMax,
			Squash:      cfg.Squash,
		})
	manager.Handle(connectivity.SyncTag, worker.Sync)

	hub := socket.NewHub()
	monitor.Subscribe(hub.NotifyConnectivity)
	worker.OnResult(hub.NotifySyncResult)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Setup(service.NewDocumentService(st, hub, worker, monitor), hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return manager.Run(gctx) })
	if !*offline {
		prober := connectivity.NewProber(cfg.HealthURL, cfg.ProbeInterval, monitor)
		g.Go(func() error { return prober.Run(gctx) })
	}
	g.Go(func() error {
		logger.Sugar.Infof("Local API listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Changes journaled by an earlier session go out without waiting for a
	// connectivity transition.
	if monitor.Online() {
		err := monitor.RequestSync()
		switch {
		case errors.Is(err, connectivity.ErrNoBackgroundSync):
			go worker.Drain(gctx)
		case err != nil:
			logger.Sugar.Warnf("Failed to schedule startup sync: %v", err)
		}
	}

	return g.Wait()
}
