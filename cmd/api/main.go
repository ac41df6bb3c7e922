package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
	"bazaar.org/internal/config"
	"bazaar.org/internal/httpapi"
	"bazaar.org/internal/jobs"
	"bazaar.org/internal/obs"
	"bazaar.org/internal/rpcauth"
	"bazaar.org/internal/store/memory"
	"bazaar.org/internal/store/pg"
	"bazaar.org/internal/store/redisstore"
	"bazaar.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type credentialStore interface {
	auth.SessionStore
	auth.ProfileStore
	auth.IdentityStore
	Ping(ctx context.Context) error
}

// readiness pings every backing store.
type readiness []httpapi.ReadyProbe

func (r readiness) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, p := range r {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l := obs.Logger()
		l.Warn().Err(err).Msg("load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		l := obs.Logger()
		l.Fatal().Err(err).Msg("load config")
	}
	logger := obs.New(cfg.Environment, cfg.LogLevel).With().Str("service", "bazaar-auth").Logger()
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.AppConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store       credentialStore
		sinks       []audit.Sink
		auditReader audit.Reader
		probes      readiness
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pgStore, err := pg.Open(cfg.Storage.DSN, pg.PoolConfig{
			MaxOpen:         cfg.Storage.MaxOpen,
			MaxIdle:         cfg.Storage.MaxIdle,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		sinks = append(sinks, pgStore)
		auditReader = pgStore
	default:
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		store = memory.New()
		mem := &audit.MemorySink{}
		sinks = append(sinks, mem)
		auditReader = mem
	}
	probes = append(probes, store)
	if cfg.Audit.LogSink {
		sinks = append(sinks, audit.LogSink{Logger: logger.With().Str("component", "audit").Logger()})
	}

	var sessionStore auth.SessionStore = store
	if cfg.Session.Backend == "redis" {
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		rs := redisstore.New(client, "")
		sessionStore = rs
		probes = append(probes, rs)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("sessions stored in redis")
	}

	sessions, err := auth.NewSessionManager(sessionStore,
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithTokenBytes(cfg.Session.TokenBytes),
		auth.WithSessionLogger(logger),
	)
	if err != nil {
		return err
	}
	provisioner, err := auth.NewProvisioner(store, auth.WithProvisionerLogger(logger))
	if err != nil {
		return err
	}
	verifier, err := buildVerifier(cfg.Identity, sessions)
	if err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(verifier, store, provisioner)
	if err != nil {
		return err
	}
	profiles, err := auth.NewProfileService(store, provisioner)
	if err != nil {
		return err
	}
	passwords, err := auth.NewPasswordChecker(store)
	if err != nil {
		return err
	}
	hub := stream.New(64)
	sinks = append(sinks, hub)
	auditLog := audit.NewLogger(sinks)

	api, err := httpapi.New(httpapi.Deps{
		Authenticator:  authn,
		Sessions:       sessions,
		Profiles:       profiles,
		Passwords:      passwords,
		Audit:          auditLog,
		AuditReader:    auditReader,
		AuditStream:    hub,
		Ready:          probes,
		Logger:         logger,
		Version:        version,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowOrigins:   cfg.HTTP.AllowOrigins,
		LoginBurst:     cfg.Security.LoginBurst,
		LoginPerSecond: cfg.Security.LoginPerSecond,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	scheduler, err := jobs.NewScheduler(sessions, cfg.Session.CleanupSchedule, logger.With().Str("component", "jobs").Logger())
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 2)

	var (
		grpcServer *grpc.Server
		healthSrv  *health.Server
	)
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(rpcauth.UnaryServerInterceptor(authn, rpcauth.WithAudit(auditLog))),
			grpc.ChainStreamInterceptor(rpcauth.StreamServerInterceptor(authn, rpcauth.WithAudit(auditLog))),
		)
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc listening")
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if healthSrv != nil {
		healthSrv.Shutdown()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if grpcServer != nil {
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	scheduler.Stop(shutdownCtx)
	logger.Info().Msg("stopped")
	return nil
}

func buildVerifier(cfg config.IdentityConfig, sessions *auth.SessionManager) (auth.IdentityVerifier, error) {
	sessionVerifier := auth.SessionVerifier{Sessions: sessions}
	switch cfg.Source {
	case "jwt", "both":
		jwtVerifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		if cfg.Source == "jwt" {
			return jwtVerifier, nil
		}
		return auth.ChainVerifier{sessionVerifier, jwtVerifier}, nil
	default:
		return sessionVerifier, nil
	}
}
