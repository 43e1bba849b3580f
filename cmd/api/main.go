package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorax/gorax/internal/api"
	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/tracing"
)

// @title Gorax Auth Broker API
// @version 1.0
// @description REST API for the Gorax integration authorization broker: OAuth1/OAuth2/app-token/custom connections, on-demand refresh, and tenant-scoped credential storage.
// @description
// @description ## Authentication
// @description All endpoints except /health, /ready, and the auth broker's own connect/callback flow require authentication.
// @description In development mode, use the X-User-ID header. In production, use Ory Kratos session cookies.
// @description
// @description ## Multi-tenancy
// @description Authenticated endpoints resolve tenant context per Tenant.ResolutionStrategy; single-tenant deployments pin every request to one tenant.

// @contact.name Gorax Support
// @contact.url https://github.com/gorax/gorax
// @contact.email support@gorax.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey TenantID
// @in header
// @name X-Tenant-ID
// @description Tenant identifier for multi-tenant isolation

// @securityDefinitions.apikey UserID
// @in header
// @name X-User-ID
// @description User identifier (development mode only)

// @securityDefinitions.apikey SessionCookie
// @in cookie
// @name ory_kratos_session
// @description Ory Kratos session cookie (production mode)

// @tag.name Health
// @tag.description Health check and readiness endpoints

// @tag.name Tenants
// @tag.description Tenant administration and self-service info

// @tag.name Credentials
// @tag.description Secure credential storage unrelated to a provider connection

// @tag.name Templates
// @tag.description Reusable workflow/config templates

// @tag.name AuthBroker
// @tag.description Integration connect/callback/refresh flows

// @tag.name WebSocket
// @tag.description Real-time connection lifecycle updates

func main() {
	// Load configuration first (we need it to configure logging)
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for startup errors
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Parse log level from configuration
	logLevel := parseLogLevel(cfg.Log.Level)

	// Initialize structured logger with configured level
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Validate production configuration
	// This prevents the application from starting with insecure development settings
	// in production environments. Checks for weak passwords, localhost URLs, disabled SSL, etc.
	if cfg.Server.Env == "production" {
		if err := config.ValidateForProduction(cfg); err != nil {
			slog.Error("production configuration validation failed", "error", err)
			os.Exit(1)
		}
	}

	// Initialize tracing
	tracingCleanup, err := tracing.InitGlobalTracer(context.Background(), &cfg.Observability)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracingCleanup()

	if cfg.Observability.TracingEnabled {
		slog.Info("distributed tracing enabled",
			"endpoint", cfg.Observability.TracingEndpoint,
			"service_name", cfg.Observability.TracingServiceName,
			"sample_rate", cfg.Observability.TracingSampleRate,
		)
	}

	// Initialize application
	app, err := api.NewApp(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting API server", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		// Default to info if invalid level specified
		return slog.LevelInfo
	}
}
