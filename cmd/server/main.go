package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/authlog/internal/accesslog"
	"github.com/sdko-org/authlog/internal/archive"
	"github.com/sdko-org/authlog/internal/auth"
	"github.com/sdko-org/authlog/internal/config"
	"github.com/sdko-org/authlog/internal/database"
	"github.com/sdko-org/authlog/internal/handlers"
	httpserver "github.com/sdko-org/authlog/internal/http"
	"github.com/sdko-org/authlog/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(logger, database.PostgresConfig{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		DBName:   cfg.PostgresDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	})
	if err != nil {
		logger.WithError(err).Fatal("Database initialization failed")
	}

	writer := accesslog.NewWriter(db,
		accesslog.WithWindow(cfg.DedupWindow),
		accesslog.WithMode(accesslog.ParseDedupMode(cfg.DedupMode)),
	)
	store := accesslog.NewStore(db)

	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL, cfg.SessionSecure)
	if err != nil {
		logger.WithError(err).Fatal("Session setup failed")
	}
	mapping := auth.DefaultUserMapping()
	mapping.EmailID = cfg.UserEmailID
	backend := auth.NewBackend(logger, db, sessions, mapping)

	var authHandlers *auth.Handlers
	if cfg.OIDCEnabled() {
		authenticator, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCSecret,
			RedirectURL:  cfg.OIDCRedirect,
		})
		if err != nil {
			logger.WithError(err).Fatal("OIDC setup failed")
		}
		authHandlers = auth.NewHandlers(logger, authenticator, sessions)
	} else {
		logger.Warn("OIDC is not configured, login routes are disabled")
	}

	if cfg.S3Bucket != "" {
		s3Storage, err := storage.NewS3Storage(cfg)
		if err != nil {
			logger.WithError(err).Fatal("S3 storage setup failed")
		}
		go archive.NewArchiver(logger, db, store, s3Storage, cfg.ArchiveInterval).Start(ctx)
	}

	rateLimiter := handlers.NewRateLimiter(cfg)
	go rateLimiter.Cleanup(ctx)

	accessLog := handlers.NewAccessLogMiddleware(logger, writer, handlers.AccessLogOptions{
		Routes:      cfg.AccessLogRoutes,
		QueryRoutes: cfg.AccessLogQueryRoutes,
		StatusCodes: cfg.AccessLogStatusCodes,
	})

	r := mux.NewRouter()
	handlers.RegisterRoutes(r, logger, authHandlers, handlers.NewAccessLogHandler(logger, store))
	handler := handlers.Wrap(r,
		handlers.LoggingMiddleware(logger),
		rateLimiter.Middleware,
		backend.Middleware,
		accessLog.Handler,
	)

	servers := httpserver.StartServers(logger, handler, cfg.HTTPAddr, cfg.HTTPSAddr)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server shutdown error")
		}
	}
	logger.Info("Server stopped")
}
