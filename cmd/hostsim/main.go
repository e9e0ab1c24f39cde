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

	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/config"
	"github.com/punchamoorthee/marketops/internal/hostsim"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/store"
)

func main() {
	cfg, err := config.LoadHost()
	if err != nil {
		log.Fatal(err)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var logger *slog.Logger
	if cfg.Production() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to open store: %v", err)
	}
	defer st.Close()

	// Default player for a local engine run, same figures as the engine's demo balance.
	if err := st.EnsureWallet(ctx, models.Wallet{PlayerID: "player-1", Cash: 5000, Bank: 25000, Points: 350}); err != nil {
		log.Fatalf("Unable to seed default wallet: %v", err)
	}

	reg, err := catalog.Demo()
	if err != nil {
		log.Fatalf("Unable to load market catalog: %v", err)
	}

	svc := hostsim.NewService(st, reg, hostsim.NewPusher(cfg.EngineURL, 5*time.Second), "market_247", cfg.MinPointWithdraw, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           hostsim.NewRouter(hostsim.NewHandler(svc)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("host simulator starting", "port", cfg.Port, "store", cfg.Store, "engine", cfg.EngineURL)
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

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg *config.HostConfig) (store.Store, error) {
	if cfg.Store == config.StorePostgres {
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
	return store.OpenSQLite(cfg.SQLitePath)
}
