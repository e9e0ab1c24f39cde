package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/punchamoorthee/marketops/internal/api"
	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/config"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := newLogger(cfg.Production())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := catalog.Demo()
	if err != nil {
		log.Fatalf("Unable to load market catalog: %v", err)
	}

	// Initialize Layers
	hostBridge := bridge.New(bridge.Options{
		BaseURL:     cfg.HostURL,
		PlayerID:    cfg.PlayerID,
		Timeout:     cfg.BridgeTimeout,
		MaxAttempts: cfg.BridgeMaxAttempts,
		Logger:      logger.With("component", "bridge"),
	})
	if hostBridge.Present() && cfg.HostProbe {
		if err := hostBridge.Ping(ctx); err != nil {
			logger.Warn("host probe failed, requests will be retried per call", "host", cfg.HostURL, "error", err)
		}
	}

	balance := domain.PlayerBalance{MinPointWithdraw: cfg.MinPointWithdraw}
	if !hostBridge.Present() {
		balance.Cash, balance.Bank, balance.Points = cfg.DemoCash, cfg.DemoBank, cfg.DemoPoints
	}

	feed := notify.NewFeed(64, language.English)
	session, err := service.NewSession(service.Options{
		Bridge:            hostBridge,
		Notifier:          feed,
		Catalog:           reg,
		Logger:            logger.With("component", "session"),
		Balance:           balance,
		PointsNoticeDelay: cfg.PointsNoticeDelay,
	})
	if err != nil {
		log.Fatalf("Unable to start session: %v", err)
	}

	// Demo mode opens the default market; a live host sends openMarket itself.
	if !hostBridge.Present() {
		if err := session.SwitchMarket(cfg.DefaultMarketID); err != nil {
			log.Fatalf("Unable to open default market: %v", err)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(session, feed)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "demo_mode", session.DemoMode(), "market", cfg.DefaultMarketID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		session.Close(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	logger.Info("server stopped")
}

func newLogger(production bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if production {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
