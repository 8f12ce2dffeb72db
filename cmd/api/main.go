package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/config"
	"gatekeeper/internal/httpserver"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/mail"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/rbac"
	"gatekeeper/internal/reset"
	"gatekeeper/internal/seed"
	"gatekeeper/internal/store"
	"gatekeeper/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()
	if err := cfg.Validate(); err != nil {
		lg.Fatalw("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: "gatekeeper",
		SampleRatio: cfg.TraceSampleRatio,
	}, lg)
	if err != nil {
		lg.Fatalw("tracing", "error", err)
	}

	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := store.Migrate(db); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		lg.Fatalw("db handle", "error", err)
	}
	defer sqlDB.Close()

	s := store.New(db)
	rec := audit.NewRecorder(s)
	hasher := auth.NewHasher(cfg.BcryptCost)
	graph := rbac.NewGraph(s, rec, hasher, lg)

	if err := runSeed(ctx, cfg, graph, s, lg); err != nil {
		lg.Fatalw("seed failed", "error", err)
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTExpiresIn, cfg.JWTIssuer)
	if err != nil {
		lg.Fatalw("token issuer", "error", err)
	}
	authn, err := auth.NewAuthenticator(s, graph, tokens, hasher, lg)
	if err != nil {
		lg.Fatalw("authenticator", "error", err)
	}
	m := metrics.New()
	authz := auth.NewAuthorizer(graph, lg).WithObserver(m)

	mailer, err := newMailer(cfg, lg)
	if err != nil {
		lg.Fatalw("mailer", "error", err)
	}
	resets := reset.NewService(s, rec, hasher, mailer, lg, reset.Config{
		TTL:         cfg.ResetTokenTTL,
		FrontendURL: cfg.FrontendURL,
	}).WithObserver(m)
	purger, err := reset.NewPurger(resets, cfg.ResetPurgeSchedule, lg)
	if err != nil {
		lg.Fatalw("purge schedule", "error", err)
	}
	purger.Start()

	limiter, closeLimiter, err := newLimiter(cfg)
	if err != nil {
		lg.Fatalw("rate limiter", "error", err)
	}
	defer closeLimiter()

	router := httpserver.NewRouter(httpserver.Deps{
		Sessions:   authn,
		Authorizer: authz,
		Graph:      graph,
		Audit:      rec,
		Reset:      resets,
		Limiter:    limiter,
		RateWindow: time.Minute,
		Metrics:    m,
		Ready:      sqlDB.PingContext,
	}, lg)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		lg.Infow("listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("http server", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("http shutdown", "error", err)
	}
	purger.Stop(shutdownCtx)
	if err := resets.Wait(shutdownCtx); err != nil {
		lg.Warnw("pending reset mails abandoned", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		lg.Warnw("tracing shutdown", "error", err)
	}
}

func runSeed(ctx context.Context, cfg *config.Config, graph *rbac.Graph, s *store.GormStore, lg *zap.SugaredLogger) error {
	catalog, err := seed.LoadCatalog(cfg.SeedFile)
	if err != nil {
		return err
	}
	sd := seed.New(graph, s, lg)
	if _, err := sd.Apply(ctx, catalog); err != nil {
		return err
	}
	_, err = sd.EnsureAdmin(ctx, seed.Admin{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
		Role:     cfg.AdminRole,
	})
	return err
}

func newMailer(cfg *config.Config, lg *zap.SugaredLogger) (mail.Mailer, error) {
	if cfg.SMTPHost == "" {
		lg.Warnw("SMTP_HOST is empty, reset mails are only logged")
		return mail.NewLogMailer(lg), nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
	})
}

// newLimiter shares counters through redis when REDIS_URL is set and keeps
// them in process otherwise.
func newLimiter(cfg *config.Config) (ratelimit.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedisLimiter(client, cfg.RateLimitPerMinute, time.Minute, "gatekeeper:ratelimit"),
		func() { _ = client.Close() }, nil
}
