package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/brandedflow/internal"
	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/email"
	"github.com/DukeRupert/brandedflow/internal/flow"
	"github.com/DukeRupert/brandedflow/internal/handler"
	"github.com/DukeRupert/brandedflow/internal/metrics"
	"github.com/DukeRupert/brandedflow/internal/middleware"
	"github.com/DukeRupert/brandedflow/internal/repository"
	"github.com/DukeRupert/brandedflow/internal/resetkey"
	"github.com/DukeRupert/brandedflow/internal/service"
	"github.com/DukeRupert/brandedflow/web"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Reset keys live in Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("Reset key store ready")

	// Initialize email
	mailer, err := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}, cfg.SiteName, web.FS, "templates/email/*.html", logger)
	if err != nil {
		return fmt.Errorf("email initialization failed: %w", err)
	}

	// Initialize services
	queries := repository.New(db)
	keys := resetkey.New(rdb, resetkey.WithTTL(cfg.ResetKeyTTL))

	identity := service.NewIdentityService(queries, keys, mailer, service.IdentityConfig{
		SessionDuration: cfg.SessionDuration,
		AdminEmails:     cfg.AdminEmails,
		AuthURL:         cfg.AuthURL(),
	}, logger)
	notifier := service.NewAccountNotifier(queries, keys, mailer, cfg.AdminEmails, cfg.AuthURL(), logger)

	// Branded pages and flow policy
	pages := flow.NewSlugResolver(cfg.BaseURL).
		Override(flow.DestLogin, cfg.Pages.Login).
		Override(flow.DestAccount, cfg.Pages.Account).
		Override(flow.DestRegister, cfg.Pages.Register).
		Override(flow.DestLostPassword, cfg.Pages.LostPassword).
		Override(flow.DestResetPassword, cfg.Pages.ResetPassword)
	catalog := flow.NewCatalog(pages)
	gate := flow.NewTokenGate(identity)
	router := flow.NewRoleRouter(pages, cfg.BaseURL, cfg.AdminURL)

	// Initialize template renderer
	templates, err := fs.Sub(web.FS, "templates")
	if err != nil {
		return fmt.Errorf("template filesystem: %w", err)
	}
	renderer, err := handler.NewRenderer(handler.RendererConfig{
		FS:           templates,
		TemplatesDir: cfg.TemplatesDir,
		Logger:       logger,
		IsDev:        cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("renderer initialization failed: %w", err)
	}
	logger.Info("templates loaded", "pages", renderer.Names())

	events := handler.NewEvents()
	events.OnAfterRegister(func(ctx context.Context, form url.Values, user *domain.User, err error) {
		if err != nil {
			logger.Debug("registration attempt rejected", "codes", domain.FlowCodes(err))
			return
		}
		logger.Info("account registered", "user_id", user.ID)
	})
	events.OnAfterUpdate(func(ctx context.Context, form url.Values, userID uuid.UUID) {
		logger.Info("account updated", "user_id", userID)
	})

	// Initialize middleware
	isSecure := !cfg.IsDevelopment()
	authMw := middleware.NewAuthMiddleware(identity, pages.URL(flow.DestLogin), logger, isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(middleware.SecurityConfig{
		IsSecure:    isSecure,
		FormActions: []string{originOf(cfg.AuthURL())},
	})
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)
	if !metricsAuth.Enabled() {
		logger.Warn("METRICS_USERNAME and METRICS_PASSWORD are unset; /metrics is unprotected")
	}

	// Initialize handlers
	authHandler := handler.NewAuthHandler(identity, notifier, domain.NewRegistrationValidator(nil), gate, router, pages, events, logger, handler.AuthConfig{
		RegistrationOpen: cfg.RegistrationOpen,
		IsSecure:         isSecure,
		SessionMaxAge:    int(cfg.SessionDuration / time.Second),
	})
	pageHandler := handler.NewPageHandler(identity, renderer, handler.DefaultTemplates, pages, catalog, events, logger, handler.PagesConfig{
		AuthURL:          cfg.AuthURL(),
		SiteURL:          cfg.BaseURL,
		RegistrationOpen: cfg.RegistrationOpen,
		ShowTitles:       cfg.ShowTitles,
		IsSecure:         isSecure,
	})

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Static files
	static, err := fs.Sub(web.Static, "static")
	if err != nil {
		return fmt.Errorf("static filesystem: %w", err)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "reset key store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	authHandler.RegisterRoutes(mux, cfg.AuthPath)
	pageHandler.RegisterRoutes(mux, authMw.RequireUser)

	routes := []string{cfg.AuthPath, "/health", "/static/auth.css"}
	for _, p := range flow.DefaultPages() {
		routes = append(routes, pages.Path(p.Destination))
	}
	metricsMw := metrics.NewHTTPMiddleware(routes, flow.Actions())

	stack := middleware.Stack(metricsMw.Handler, loggingMw.Handler, securityMw.Handler, authMw.WithUser)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go purgeExpiredSessions(ctx, identity, cfg.SessionCleanupInterval, logger)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "auth_url", cfg.AuthURL())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// purgeExpiredSessions deletes expired sessions every interval until ctx is done.
func purgeExpiredSessions(ctx context.Context, identity service.IdentityService, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := identity.DeleteExpiredSessions(ctx)
			if err != nil {
				logger.Error("failed to purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// originOf returns scheme://host of rawURL, or "" when it has none.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
