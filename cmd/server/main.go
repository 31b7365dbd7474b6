package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/teresa-solution/fiscal-compliance-service/internal/anaf"
	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/config"
	"github.com/teresa-solution/fiscal-compliance-service/internal/crypto"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/ratelimit"
	"github.com/teresa-solution/fiscal-compliance-service/internal/service"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
	"github.com/teresa-solution/fiscal-compliance-service/internal/transport/grpcapi"
	"github.com/teresa-solution/fiscal-compliance-service/internal/transport/httpapi"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configPath = pflag.String("config", "configs/config.yaml", "Path to the YAML config file")
		storeKind  = pflag.String("store", "", "Storage backend (postgres or memory), overrides the config file")
		noJobs     = pflag.Bool("no-scheduler", false, "Do not run the background jobs")
	)
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if *storeKind != "" {
			c.Store = *storeKind
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitoring.InitMetrics()
	checks := map[string]httpapi.Check{}

	var backend store.Store
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		backend = store.NewMemory()
	default:
		cipher, err := crypto.NewCipher(cfg.EncryptionSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize token encryption")
		}
		pg, err := store.NewPostgres(ctx, cfg.Database.Pool(), cipher)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		checks["database"] = pg.Ping
		backend = pg
	}
	defer backend.Close()

	var (
		states store.StateStore = store.NewMemoryState(clock.Real())
		events notify.Publisher = notify.LogPublisher{}
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		rs := store.NewRedisState(rdb)
		if err := rs.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		checks["redis"] = rs.Ping
		states = rs
		events = notify.NewRedisPublisher(rdb, cfg.Redis.Stream, 0)
	} else {
		log.Warn().Msg("No Redis configured, authorization state is process-local")
	}

	clk := clock.Real()
	client := anaf.NewClient(cfg.ANAF, ratelimit.New(clk, cfg.RateLimits), clk)
	tokens := service.NewTokenManager(backend, states, client, clk, events, cfg.ANAF.RefreshTokenTTL)
	tracker := service.NewTracker(backend, backend, tokens, client, clk, events)
	inbox := service.NewInbox(backend, backend, tokens, client, clk, events, cfg.ANAF.MessageDays)
	compliance, err := service.NewCompliance(backend, backend, backend, tokens, tracker, inbox, clk, events)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize compliance service")
	}
	scheduler := service.NewScheduler(cfg.Scheduler, tokens, tracker, inbox, clk)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.LoggingInterceptor))
	healthServer := grpcapi.Register(grpcServer, grpcapi.NewServer(tokens, tracker, inbox, compliance))

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpapi.NewMux(tokens, checks),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("gRPC server listening at %v", lis.Addr())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("HTTP server for health checks, metrics and OAuth callback started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if !*noJobs {
		g.Go(func() error { return scheduler.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server exiting")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
