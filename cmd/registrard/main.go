// Command registrard serves the sealed-bid name auction over HTTP and the
// gRPC health protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/auth"
	"blindbid.org/internal/chain"
	"blindbid.org/internal/config"
	"blindbid.org/internal/httpapi"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/migrate"
	"blindbid.org/internal/obs"
	"blindbid.org/internal/registry"
	"blindbid.org/internal/store/pg"
	"blindbid.org/internal/stream"
	"blindbid.org/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "registrard: %v\n", err)
		os.Exit(2)
	}
	logger, err := obs.NewLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "registrard: logger: %v\n", err)
		os.Exit(2)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("registrard stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)
	if cfg.Auth.JWTSecret != "" {
		auth.SetSecret(cfg.Auth.JWTSecret)
	}
	admin, err := cfg.AdminIdentity()
	if err != nil {
		return err
	}
	engineID, err := cfg.EngineIdentity()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		regStore registry.Store = registry.NewMemStore()
		funds    ledger.Service = ledger.NewInMemory()
		heights  chain.HeightStore
		probe    httpapi.ReadyProbe
	)
	if cfg.Postgres.DSN != "" {
		st, err := pg.Open(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer st.Close()
		if cfg.Postgres.Migrate {
			mgr := migrate.NewManager(st.DB(), migrations.SQL(), migrations.Seeds())
			if err := mgr.Up(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied")
		}
		regStore, funds, heights = st, st, st
		probe = httpapi.ReadyProbe{DB: st.DB()}
	}

	var events *stream.Stream
	regOpts := []registry.Option{
		registry.WithDefaultExpiryLength(cfg.Auction.ExpiryLength),
		registry.WithObserver(func(name string, rec registry.Record) {
			obs.IncRegistryWrites()
			log.Info("name registered",
				zap.String("name", name),
				zap.String("owner", rec.Owner.Hex()),
				zap.Uint64("expiry", uint64(rec.Expiry)),
			)
		}),
	}
	engineOpts := []auction.Option{
		auction.WithConfig(cfg.AuctionConfig()),
		auction.WithEventSink(func(ev auction.Event) {
			log.Debug("auction event",
				zap.String("kind", string(ev.Kind)),
				zap.String("name", ev.Name),
				zap.String("actor", ev.Actor.Hex()),
				zap.Uint64("height", uint64(ev.Height)),
			)
		}),
	}
	if cfg.Stream.Enabled {
		events = stream.New()
		regOpts = append(regOpts, registry.WithObserver(events.RegistryObserver()))
		engineOpts = append(engineOpts, auction.WithEventSink(events.AuctionSink()))
	}

	reg := registry.New(admin, regStore, regOpts...)
	if err := reg.SetAuthorizedMutator(admin, engineID); err != nil {
		return fmt.Errorf("authorize engine: %w", err)
	}
	start := chain.Height(cfg.Chain.StartHeight)
	if heights != nil {
		if start, err = chain.ResumeHeight(ctx, heights, start); err != nil {
			return err
		}
	}
	clock := chain.NewTickerClock(start, cfg.Chain.BlockInterval)

	// Escrow lives in the engine's funds account; pick it up after a restart.
	held, err := funds.GetBalance(ctx, engineID)
	if err != nil {
		return fmt.Errorf("load escrow: %w", err)
	}
	engineOpts = append(engineOpts, auction.WithEscrow(held))
	engine := auction.New(admin, engineID, clock, reg, funds, engineOpts...)
	obs.SetEscrow(held.Float64())
	obs.SetChainHeight(uint64(start))

	api := httpapi.New(probe, version, httpapi.Deps{
		Engine:   engine,
		Registry: reg,
		Ledger:   funds,
		Stream:   events,
	},
		httpapi.WithDevMode(cfg.Auth.DevTokens),
		httpapi.WithTokenTTL(cfg.Auth.TokenTTL),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSecond),
	)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /v1/stream responses stay open. Request contexts
		// derive from ctx so streams end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(probe)
	health.Register(grpcSrv)

	log.Info("starting registrard",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("grpc_addr", cfg.GRPC.Addr),
		zap.String("admin", admin.Hex()),
		zap.String("engine", engineID.Hex()),
		zap.Bool("postgres", cfg.Postgres.DSN != ""),
		zap.Uint64("start_height", uint64(start)),
		zap.String("escrow", held.Dec()),
		zap.Bool("dev_tokens", cfg.Auth.DevTokens),
	)

	errc := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() {
		clock.Run(ctx, func(h chain.Height) {
			obs.SetChainHeight(uint64(h))
			if heights != nil {
				if err := heights.SaveHeight(ctx, h); err != nil && ctx.Err() == nil {
					log.Warn("checkpoint height", zap.Uint64("height", uint64(h)), zap.Error(err))
				}
			}
			if events != nil {
				events.PublishBlock(h)
			}
		})
	})
	wg.Go(func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	})
	wg.Go(func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	})
	wg.Go(func() {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			if err := health.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn("readiness probe failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	log.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	health.Shutdown()
	grpcSrv.GracefulStop()
	wg.Wait()
	log.Info("stopped")
	return runErr
}
