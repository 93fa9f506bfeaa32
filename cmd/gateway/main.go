package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/collaborator"
	"admission-gateway/internal/config"
	"admission-gateway/internal/handler"
	"admission-gateway/internal/metrics"
	"admission-gateway/internal/middleware"
	"admission-gateway/internal/repository"
	"admission-gateway/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
	log.Info().Msg("server exited")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quotas, err := config.LoadQuotaTable(cfg.QuotaFile)
	if err != nil {
		return err
	}
	metricsRegistry := metrics.NewRegistry()

	// storage
	var store repository.Store
	if cfg.RedisAddr != "" {
		r, err := repository.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			return err
		}
		store = r
		log.Info().Str("addr", cfg.RedisAddr).Msg("quota buckets in redis")
	} else {
		reg := repository.NewBucketRegistry(repository.WithEvictionHook(metricsRegistry.ObserveEvictions))
		reg.Start(cfg.SweepInterval)
		metricsRegistry.TrackBuckets(reg.Len)
		store = reg
		log.Info().Dur("sweep_interval", cfg.SweepInterval).Msg("quota buckets in memory")
	}
	defer store.Close()

	// collaborators
	clientOpts := []collaborator.Option{collaborator.WithHTTPClient(&http.Client{
		Timeout: cfg.CollaboratorTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	})}
	if cfg.RecommendationCacheTTL > 0 {
		cache := collaborator.NewResponseCache(10_000, 1<<20, cfg.RecommendationCacheTTL)
		cache.Start(time.Minute)
		defer cache.Close()
		clientOpts = append(clientOpts, collaborator.WithCache(cache))
	}
	client, err := collaborator.NewClient(cfg.DownstreamURL, clientOpts...)
	if err != nil {
		return err
	}

	gw := service.NewGateway(
		service.NewLimiter(store, quotas),
		service.Collaborators{Chat: client, Profiles: client, Recommendations: client},
		service.WithRecorder(metricsRegistry),
		service.WithCollaboratorTimeout(cfg.CollaboratorTimeout),
	)

	authenticators, err := buildAuthenticators(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: handler.NewRouter(handler.Deps{
			Gateway:        gw,
			Store:          store,
			Quotas:         quotas,
			Metrics:        metricsRegistry,
			Authenticators: authenticators,
			MaxRequestSize: cfg.MaxRequestSize,
			Version:        version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("listening %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildAuthenticators returns API-key auth (when configured) followed by bearer tokens.
func buildAuthenticators(cfg config.Config) ([]func(http.Handler) http.Handler, error) {
	var auth []func(http.Handler) http.Handler
	if cfg.APIKeysFile != "" {
		keys, err := middleware.LoadAPIKeys(cfg.APIKeysFile)
		if err != nil {
			return nil, err
		}
		auth = append(auth, middleware.NewAPIKeyMiddleware(keys).Handler())
		log.Info().Int("keys", keys.Len()).Msg("API key authentication enabled")
	}

	switch {
	case cfg.JWKSURL != "":
		client := middleware.NewJWKSClient(cfg.JWKSURL, 10*time.Minute)
		auth = append(auth, middleware.NewJWKSMiddleware(client, cfg.JWTIssuer, cfg.JWTAudience))
		log.Info().Str("jwks", cfg.JWKSURL).Msg("JWKS authentication enabled")
	case cfg.JWTSecret != "":
		auth = append(auth, middleware.NewJWTMiddleware([]byte(cfg.JWTSecret), cfg.JWTIssuer))
		log.Info().Msg("JWT authentication enabled")
	default:
		if len(auth) == 0 {
			return nil, errors.New("no authentication configured: set JWT_SECRET, JWKS_URL or API_KEYS_FILE")
		}
	}
	return auth, nil
}
