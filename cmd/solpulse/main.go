// Command solpulse runs the token radar: the migration feed subscriber, the
// scoring scheduler and the read-only publication endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/solpulse/solpulse/infrastructure/config"
	"github.com/solpulse/solpulse/infrastructure/logging"
	"github.com/solpulse/solpulse/infrastructure/metrics"
	"github.com/solpulse/solpulse/services/export"
	"github.com/solpulse/solpulse/services/feed"
	"github.com/solpulse/solpulse/services/lifecycle"
	"github.com/solpulse/solpulse/services/provider"
	"github.com/solpulse/solpulse/services/scheduler"
	"github.com/solpulse/solpulse/services/settings"
	"github.com/solpulse/solpulse/services/store"
)

const serviceName = "solpulse"

// drainTimeout bounds how long in-flight work may run after shutdown.
const drainTimeout = 5 * time.Second

func main() {
	config.LoadDotEnv()
	log := logging.NewFromEnv(serviceName)

	if err := run(log); err != nil {
		log.WithError(err).Fatal("startup failed")
	}
}

func run(log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		providerBaseURL = config.GetEnv("PROVIDER_BASE_URL", "https://public-api.birdeye.so")
		providerAPIKey  = config.GetEnv("PROVIDER_API_KEY", "")
		feedURL         = config.GetEnv("FEED_WS_URL", "wss://pumpportal.fun/api/data")
		databaseDSN     = config.GetEnv("DATABASE_DSN", "")
		listenAddr      = config.GetEnv("LISTEN_ADDR", ":8080")
		settingsFile    = config.GetEnv("SETTINGS_FILE", "")
	)

	m := metrics.New(serviceName)

	// Persistence is the only startup dependency that may abort the process.
	var repo store.Repository
	if databaseDSN != "" {
		pg, err := store.Open(ctx, databaseDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		repo = pg
		log.Info("connected to postgres")
	} else {
		repo = store.NewMemory()
		log.Warn("DATABASE_DSN not set, using in-memory store")
	}

	cfg := settings.NewStore(repo, log)
	if err := cfg.Bootstrap(ctx, settingsFile); err != nil {
		return err
	}
	snap := cfg.Current()

	gateway, err := provider.New(provider.Config{
		BaseURL:        providerBaseURL,
		APIKey:         providerAPIKey,
		MaxConcurrency: snap.ExtMaxConcurrency,
		CacheTTL:       time.Duration(snap.ProviderCacheTTLSec) * time.Second,
	}, log, m)
	if err != nil {
		return err
	}

	controller := lifecycle.New(repo, gateway, log, m)
	loop := scheduler.New(repo, controller, cfg, gateway, log, m)
	subscriber := feed.New(feedURL, repo, log, m)
	generator := export.NewGenerator(repo, cfg, log)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: export.Router(generator, log),
	}

	// Shutdown order: feed first, then the scheduler, then the gateway's
	// in-flight requests via the drain window.
	feedCtx, stopFeed := context.WithCancel(context.Background())
	schedCtx, stopSched := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("feed subscriber stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("scheduler stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()

	log.WithFields(map[string]interface{}{
		"listen": listenAddr,
		"feed":   feedURL,
	}).Info("solpulse started")

	<-ctx.Done()
	log.Info("shutdown signal received")

	stopFeed()
	stopSched()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	_ = httpServer.Shutdown(drainCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		log.Warn("drain window elapsed before all tasks stopped")
	}

	log.Info("solpulse stopped")
	return nil
}
