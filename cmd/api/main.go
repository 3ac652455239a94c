// Package main is the entrypoint for the SignSure API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/signsure/signsure/internal/audit"
	"github.com/signsure/signsure/internal/auth"
	"github.com/signsure/signsure/internal/cache"
	"github.com/signsure/signsure/internal/config"
	"github.com/signsure/signsure/internal/handler"
	"github.com/signsure/signsure/internal/mail"
	"github.com/signsure/signsure/internal/metrics"
	"github.com/signsure/signsure/internal/middleware"
	"github.com/signsure/signsure/internal/repository"
	"github.com/signsure/signsure/internal/server"
	"github.com/signsure/signsure/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	var (
		recorder metrics.Recorder = metrics.NewNoop()
		exporter http.Handler
	)
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		exporter = prom.Handler()
	}

	mailer := newMailer(cfg, logger)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)

	userService := service.NewUserService(repo, cacheClient, tokens, mailer, recorder, logger, service.UserServiceConfig{
		OTPTTL:         cfg.OTPTTL,
		OTPMaxAttempts: cfg.OTPMaxAttempts,
	})

	var auditWorker *audit.Worker
	if cfg.AuditEnabled {
		userService.SetAuditRecorder(audit.NewPublisher(cacheClient.Client(), logger, recorder))

		auditWorker = audit.NewWorker(cacheClient.Client(), repo, logger, audit.NewConsumerID(), recorder)
		auditWorker.SetBatchSize(cfg.AuditBatchSize)
		go func() {
			if err := auditWorker.Run(context.Background()); err != nil {
				logger.Error("audit worker stopped", "error", err)
			}
		}()
	}

	handlers := routeHandlers{
		root: handler.New(),
		health: handler.NewHealthHandler(logger,
			handler.Dependency{Name: "postgres", Checker: repo},
			handler.Dependency{Name: "redis", Checker: cacheClient},
		),
		user: handler.NewUserHandler(userService, handler.CookieConfig{
			Name:   cfg.CookieName,
			Secure: cfg.IsProduction(),
		}, logger),
		key:     handler.NewKeyHandler(userService, logger),
		metrics: handler.NewMetricsHandler(exporter),
	}

	r := setupRouter(handlers, tokens, cacheClient, recorder, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("postgres", func(ctx context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(ctx context.Context) error {
		return cacheClient.Close()
	})
	if auditWorker != nil {
		// Registered last so it drains before its Redis and Postgres close.
		srv.OnShutdown("audit", auditWorker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"mail", cfg.MailEnabled(),
		"metrics", cfg.MetricsEnabled,
		"audit", cfg.AuditEnabled,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newMailer returns an SMTP mailer when SMTP is configured and a logging
// mailer otherwise.
func newMailer(cfg *config.Config, logger *slog.Logger) mail.Mailer {
	if !cfg.MailEnabled() {
		logger.Warn("SMTP_HOST not set, password reset mails will be logged only")
		return mail.NewLogMailer(logger)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		OTPTTLMins: int(cfg.OTPTTL.Minutes()),
	}, logger)
}

type routeHandlers struct {
	root    *handler.Handler
	health  *handler.HealthHandler
	user    *handler.UserHandler
	key     *handler.KeyHandler
	metrics *handler.MetricsHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h routeHandlers,
	tokens middleware.TokenParser,
	cacheClient *cache.Cache,
	recorder metrics.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger, recorder))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/metrics", h.metrics.Metrics)
	r.Get("/", h.root.Info)

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cacheClient,
		Metrics: recorder,
		Enabled: cfg.RateLimitAuthEnabled,
		Scope:   "user",
		RPS:     cfg.RateLimitAuthRPS,
		Burst:   cfg.RateLimitAuthBurst,
	}

	authCfg := middleware.AuthConfig{
		Logger:      logger,
		Tokens:      tokens,
		Revocations: cacheClient,
		CookieName:  cfg.CookieName,
	}

	r.Route("/api/user", func(r chi.Router) {
		r.Use(middleware.RateLimitIP(rateLimitCfg))

		r.Post("/register", h.user.Register)
		r.Post("/login", h.user.Login)
		r.Get("/logout", h.user.Logout)
		r.Post("/forgot-password", h.user.ForgotPassword)
		r.Post("/verify-otp", h.user.VerifyOTP)
		r.Post("/reset-password", h.user.ResetPassword)
	})

	r.Route("/api/key", func(r chi.Router) {
		r.Use(middleware.Auth(authCfg))

		r.Get("/public_key", h.key.PublicKey)
	})

	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	q := parsed.Query()
	if q.Has("password") {
		q.Set("password", "redacted")
		parsed.RawQuery = q.Encode()
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
