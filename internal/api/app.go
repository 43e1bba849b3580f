package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gorax/gorax/internal/api/handlers"
	apiMiddleware "github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/authbroker/connection"
	"github.com/gorax/gorax/internal/authbroker/flow"
	"github.com/gorax/gorax/internal/authbroker/hooks"
	"github.com/gorax/gorax/internal/authbroker/notify"
	"github.com/gorax/gorax/internal/authbroker/probe"
	"github.com/gorax/gorax/internal/authbroker/provider"
	"github.com/gorax/gorax/internal/authbroker/refresh"
	"github.com/gorax/gorax/internal/authbroker/session"
	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/credential"
	"github.com/gorax/gorax/internal/errortracking"
	"github.com/gorax/gorax/internal/metrics"
	"github.com/gorax/gorax/internal/notification"
	"github.com/gorax/gorax/internal/template"
	"github.com/gorax/gorax/internal/tenant"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/user"
	"github.com/gorax/gorax/internal/websocket"
)

// App holds application dependencies
type App struct {
	config *config.Config
	logger *slog.Logger
	db     *sqlx.DB
	redis  *redis.Client
	router *chi.Mux

	// Error tracking
	errorTracker *errortracking.Tracker

	// Metrics
	metrics          *metrics.Metrics
	metricsRegistry  *prometheus.Registry
	dbStatsCollector *metrics.DBStatsCollector
	metricsStopCtx   context.Context
	metricsStopFunc  context.CancelFunc

	// Services
	tenantService      *tenant.Service
	userService        *user.Service
	credentialService  credential.Service
	templateService    *template.Service
	notificationService *notification.Service

	// Auth broker
	authBrokerRegistry *provider.YAMLRegistry
	authBrokerEngine   *flow.Engine
	authBrokerRefresh  *refresh.Coordinator
	authBrokerSessions *session.Sweeper

	// WebSocket
	wsHub *websocket.Hub

	// Handlers
	healthHandler      *handlers.HealthHandler
	authHandler        *handlers.AuthHandler
	tenantAdminHandler *handlers.TenantAdminHandler
	tenantHandler      *handlers.TenantHandler
	credentialHandler  *handlers.CredentialHandler
	templateHandler    *handlers.TemplateHandler
	websocketHandler   *handlers.WebSocketHandler
	authBrokerHandler  *handlers.AuthBrokerHandler

	// Middleware
	quotaChecker *apiMiddleware.QuotaChecker
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	// Initialize database connection
	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for optimal performance
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)
	app.db = db

	// Initialize metrics and Prometheus registry
	app.metrics = metrics.NewMetrics()
	app.metricsRegistry = prometheus.NewRegistry()
	if err := app.metrics.Register(app.metricsRegistry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	logger.Info("Metrics initialized")

	// Initialize and start DB stats collector
	app.metricsStopCtx, app.metricsStopFunc = context.WithCancel(context.Background())
	app.dbStatsCollector = metrics.NewDBStatsCollector(app.metrics, db.DB, "main", logger)
	go app.dbStatsCollector.Start(app.metricsStopCtx, 15*time.Second)
	logger.Info("DB stats collector started", "interval", "15s")

	// Initialize Redis client
	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Initialize error tracking (Sentry)
	errorTracker, err := errortracking.Initialize(cfg.Observability)
	if err != nil {
		logger.Warn("failed to initialize Sentry", "error", err)
		// Continue without error tracking rather than failing
	}
	app.errorTracker = errorTracker

	// Initialize repositories
	tenantRepo := tenant.NewRepository(db)
	userRepo := user.NewRepository(db)
	templateRepo := template.NewRepository(db)

	// Initialize services
	app.tenantService = tenant.NewService(tenantRepo, logger)
	app.userService = user.NewService(userRepo, logger)
	app.templateService = template.NewService(templateRepo, logger)

	// Initialize WebSocket hub
	app.wsHub = websocket.NewHub(logger)
	go app.wsHub.Run() // Start hub in background

	// Initialize handlers that don't depend on the auth broker
	app.healthHandler = handlers.NewHealthHandler(db, app.redis)
	app.authHandler = handlers.NewAuthHandler(app.userService, cfg.Kratos, logger)
	app.tenantAdminHandler = handlers.NewTenantAdminHandler(app.tenantService, logger)
	app.tenantHandler = handlers.NewTenantHandler(app.tenantService, logger)
	app.templateHandler = handlers.NewTemplateHandler(app.templateService, logger)
	app.websocketHandler = handlers.NewWebSocketHandler(app.wsHub, logger)

	// Initialize credential service
	credentialRepo := credential.NewRepository(db)

	// Create encryption service (KMS for production, SimpleEncryption for dev)
	var encryptionService credential.EncryptionServiceInterface
	if cfg.Credential.UseKMS {
		// Production: Use AWS KMS for envelope encryption
		if cfg.Credential.KMSKeyID == "" {
			return nil, fmt.Errorf("CREDENTIAL_KMS_KEY_ID is required when USE_KMS is true")
		}

		// Load AWS config with region override if KMSRegion is set
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(), awsConfig.WithRegion(cfg.Credential.KMSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for KMS: %w", err)
		}

		// Create KMS client
		kmsClient := kms.NewFromConfig(awsCfg)

		// Create KMS encryption service
		kmsEncryptionService, err := credential.NewKMSEncryptionService(kmsClient, cfg.Credential.KMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to create KMS encryption service: %w", err)
		}

		encryptionService = credential.NewKMSEncryptionAdapter(kmsEncryptionService)
		logger.Info("Credential encryption initialized", "mode", "KMS", "key_id", cfg.Credential.KMSKeyID, "region", cfg.Credential.KMSRegion)
	} else {
		// Development: Use simple encryption with master key
		masterKey, err := base64.StdEncoding.DecodeString(cfg.Credential.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode credential master key: %w", err)
		}

		simpleEncryption, err := credential.NewSimpleEncryptionService(masterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create simple encryption service: %w", err)
		}

		encryptionService = credential.NewSimpleEncryptionAdapter(simpleEncryption)
		logger.Warn("Credential encryption initialized", "mode", "simple", "warning", "Use KMS in production")
	}

	app.credentialService = credential.NewServiceImpl(credentialRepo, encryptionService, logger)
	app.credentialHandler = handlers.NewCredentialHandler(app.credentialService, logger)

	// Initialize the out-of-band notification service (email/Slack),
	// used by the auth broker to alert on connection failures that a
	// dashboard watcher might not see live.
	if cfg.Notification.EnableEmail || cfg.Notification.EnableSlack {
		notificationService, err := notification.NewService(logger, buildNotificationConfig(cfg.Notification), nil)
		if err != nil {
			logger.Warn("notification service disabled: failed to initialize", "error", err)
		} else {
			app.notificationService = notificationService
		}
	}

	// Initialize auth broker: provider registry, flow engine, refresh
	// coordinator, post-connection hooks, verification prober.
	if registry, err := provider.NewYAMLRegistry(cfg.AuthBroker.ProvidersYAMLPath); err != nil {
		logger.Warn("auth broker disabled: failed to load providers catalog", "path", cfg.AuthBroker.ProvidersYAMLPath, "error", err)
	} else {
		app.authBrokerRegistry = registry

		connectionStore := connection.NewPostgresStore(db, encryptionService)
		sessionStore := session.NewPostgresStore(db)

		authBrokerNotifier := notify.NewNotifier(app.wsHub, app.metrics, app.errorTracker, logger)
		if app.notificationService != nil {
			authBrokerNotifier.Alerts = &notificationAlertAdapter{service: app.notificationService}
		}

		var scriptRunner hooks.ScriptRunner
		if sr, err := hooks.NewGojaScriptRunner(); err != nil {
			logger.Warn("auth broker post-connect scripting disabled", "error", err)
		} else {
			scriptRunner = sr
		}
		webhookURLFn := func(environmentID string) (string, string, bool) {
			if cfg.AuthBroker.WebhookURL == "" {
				return "", "", false
			}
			return cfg.AuthBroker.WebhookURL, cfg.AuthBroker.WebhookSecret, true
		}
		hookRunner := hooks.NewRunner(
			&noopSyncScheduler{logger: logger},
			scriptRunner,
			hooks.NewHTTPWebhookSender(nil, webhookURLFn),
			&hooks.NotifierFailureClearer{Notifier: authBrokerNotifier, Store: connectionStore},
			&hooks.StoreConnectionCounter{Store: connectionStore},
			logger,
		)
		hookRunner.ScriptCapLimit = cfg.AuthBroker.ConnectionsWithScriptsCapLimit

		prober := probe.NewProber(nil)

		app.authBrokerEngine = flow.NewEngine(registry, sessionStore, connectionStore, hookRunner, authBrokerNotifier, prober, nil)
		app.authBrokerEngine.SessionTTL = cfg.AuthBroker.SessionTTL

		refreshExchanger := flow.NewRefreshExchanger(nil, 30*time.Second)
		app.authBrokerRefresh = refresh.NewCoordinator(connectionStore, registry, refreshExchanger, hookRunner, authBrokerNotifier, logger)
		app.authBrokerRefresh.Skew = cfg.AuthBroker.RefreshSkew

		app.authBrokerSessions = session.NewSweeper(sessionStore, cfg.AuthBroker.SweepSchedule, logger)
		if err := app.authBrokerSessions.Start(context.Background()); err != nil {
			logger.Warn("auth broker session sweeper failed to start", "error", err)
		}

		app.authBrokerHandler = handlers.NewAuthBrokerHandler(app.authBrokerEngine, cfg.AuthBroker.HMACEnabled, cfg.AuthBroker.HMACSecret, logger)
		logger.Info("auth broker initialized", "providers_catalog", cfg.AuthBroker.ProvidersYAMLPath)
	}

	// Initialize middleware
	app.quotaChecker = apiMiddleware.NewQuotaChecker(app.tenantService, app.redis, logger)

	// Setup router
	app.setupRouter()

	return app, nil
}

// buildNotificationConfig translates the ambient notification config
// surface into the internal/notification package's own Config shape.
func buildNotificationConfig(cfg config.NotificationConfig) notification.Config {
	emailProvider := notification.EmailProviderSMTP
	if cfg.EmailProvider == "ses" {
		emailProvider = notification.EmailProviderSES
	}
	return notification.Config{
		EnableEmail: cfg.EnableEmail,
		EnableSlack: cfg.EnableSlack,
		EnableInApp: cfg.EnableInApp,
		Email: notification.EmailConfig{
			Provider:   emailProvider,
			From:       cfg.EmailFrom,
			SMTPHost:   cfg.SMTPHost,
			SMTPPort:   cfg.SMTPPort,
			SMTPUser:   cfg.SMTPUser,
			SMTPPass:   cfg.SMTPPass,
			TLS:        cfg.SMTPTLS,
			AWSRegion:  cfg.SESRegion,
			MaxRetries: cfg.EmailMaxRetries,
			RetryDelay: time.Duration(cfg.EmailRetryDelaySeconds) * time.Second,
		},
		Slack: notification.SlackConfig{
			WebhookURL: cfg.SlackWebhookURL,
			MaxRetries: cfg.SlackMaxRetries,
			RetryDelay: time.Duration(cfg.SlackRetryDelaySeconds) * time.Second,
			Timeout:    time.Duration(cfg.SlackTimeoutSeconds) * time.Second,
		},
	}
}

// Router returns the HTTP router
func (a *App) Router() http.Handler {
	return a.router
}

// Close cleans up application resources
func (a *App) Close() error {
	// Stop metrics collection
	if a.metricsStopFunc != nil {
		a.metricsStopFunc()
	}
	if a.dbStatsCollector != nil {
		a.dbStatsCollector.Stop()
	}

	if a.authBrokerSessions != nil {
		a.authBrokerSessions.Stop()
	}

	if a.errorTracker != nil {
		a.errorTracker.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	return nil
}

func (a *App) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// HTTP logging with configured level
	httpLogLevel := parseHTTPLogLevel(a.config.Log.HTTPLogLevel)
	r.Use(apiMiddleware.StructuredLoggerWithConfig(a.logger, apiMiddleware.HTTPLoggerConfig{
		LogLevel: httpLogLevel,
	}))

	// Security headers middleware
	securityHeadersConfig := apiMiddleware.SecurityHeadersConfig{
		EnableHSTS:    a.config.SecurityHeader.EnableHSTS,
		HSTSMaxAge:    a.config.SecurityHeader.HSTSMaxAge,
		CSPDirectives: a.config.SecurityHeader.CSPDirectives,
		FrameOptions:  a.config.SecurityHeader.FrameOptions,
	}
	r.Use(apiMiddleware.SecurityHeaders(securityHeadersConfig))

	// Add distributed tracing middleware if enabled
	if a.config.Observability.TracingEnabled {
		r.Use(tracing.HTTPMiddleware())
	}

	// Add Sentry middleware if error tracking is enabled
	if a.errorTracker != nil {
		r.Use(apiMiddleware.SentryMiddleware(a.errorTracker))
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS middleware with environment-aware validation
	corsMiddleware, err := apiMiddleware.NewCORSMiddleware(a.config.CORS, a.config.Server.Env)
	if err != nil {
		a.logger.Error("failed to create CORS middleware", "error", err)
		// Fall back to restrictive CORS in case of configuration error
	} else {
		r.Use(corsMiddleware)
	}

	// Health check endpoints (no auth required)
	r.Get("/health", a.healthHandler.Health)
	r.Get("/ready", a.healthHandler.Ready)

	// Prometheus metrics endpoint (no auth required for scraping)
	if a.config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(a.metricsRegistry, promhttp.HandlerOpts{}))
	}

	// Kratos-backed identity endpoints (public: registration, login, password/email flows)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/registration", a.authHandler.InitiateRegistration)
		r.Post("/register", a.authHandler.Register)
		r.Post("/login", a.authHandler.InitiateLogin)
		r.Post("/login/complete", a.authHandler.Login)
		r.Post("/logout", a.authHandler.Logout)
		r.Post("/password-reset", a.authHandler.RequestPasswordReset)
		r.Post("/password-reset/confirm", a.authHandler.ConfirmPasswordReset)
		r.Post("/email-verification", a.authHandler.RequestEmailVerification)
		r.Post("/email-verification/confirm", a.authHandler.ConfirmEmailVerification)
		r.Post("/webhook", a.authHandler.KratosWebhook)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Authentication middleware
		if a.config.Server.Env == "development" {
			// Use development auth that bypasses Kratos
			r.Use(apiMiddleware.DevAuth())
		} else {
			// Use production Kratos auth
			r.Use(apiMiddleware.KratosAuth(a.config.Kratos))
		}

		r.Get("/auth/me", a.authHandler.GetCurrentUser)

		// Admin routes (no tenant context, no quotas)
		r.Route("/admin", func(r chi.Router) {
			// Require admin role for all admin routes
			r.Use(apiMiddleware.RequireAdmin())

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", a.tenantAdminHandler.ListTenants)
				r.Post("/", a.tenantAdminHandler.CreateTenant)
				r.Get("/{tenantID}", a.tenantAdminHandler.GetTenant)
				r.Put("/{tenantID}", a.tenantAdminHandler.UpdateTenant)
				r.Delete("/{tenantID}", a.tenantAdminHandler.DeleteTenant)
				r.Put("/{tenantID}/quotas", a.tenantAdminHandler.UpdateTenantQuotas)
				r.Get("/{tenantID}/usage", a.tenantAdminHandler.GetTenantUsage)
			})
		})

		// Tenant context middleware (for non-admin routes)
		r.Group(func(r chi.Router) {
			// Configure tenant middleware with single/multi tenant mode support
			tenantMiddlewareCfg := apiMiddleware.TenantMiddlewareConfig{
				TenantConfig: a.config.Tenant,
			}
			r.Use(apiMiddleware.TenantContextWithConfig(a.tenantService, tenantMiddlewareCfg))
			r.Use(a.quotaChecker.CheckQuotas())

			// Current tenant info routes (available to all authenticated users)
			r.Route("/tenant", func(r chi.Router) {
				r.Get("/info", a.tenantHandler.GetCurrentTenant)
				r.Get("/settings", a.tenantHandler.GetTenantSettings)
				r.Get("/quotas", a.tenantHandler.GetTenantQuotas)
			})

			// Credential routes (secrets unrelated to a provider connection)
			r.Route("/credentials", func(r chi.Router) {
				r.Get("/", a.credentialHandler.List)
				r.Post("/", a.credentialHandler.Create)
				r.Get("/types", a.credentialHandler.GetTypes)
				r.Post("/validate", a.credentialHandler.ValidateType)
				r.Get("/{credentialID}", a.credentialHandler.Get)
				r.Get("/{credentialID}/value", a.credentialHandler.GetValue) // Sensitive endpoint
				r.Put("/{credentialID}", a.credentialHandler.Update)
				r.Delete("/{credentialID}", a.credentialHandler.Delete)
				r.Post("/{credentialID}/rotate", a.credentialHandler.Rotate)
				r.Get("/{credentialID}/versions", a.credentialHandler.ListVersions)
				r.Get("/{credentialID}/access-log", a.credentialHandler.GetAccessLog)
				r.Post("/{credentialID}/test", a.credentialHandler.Test)
			})

			// Template routes (reusable provider-config templates)
			r.Route("/templates", func(r chi.Router) {
				r.Get("/", a.templateHandler.ListTemplates)
				r.Post("/", a.templateHandler.CreateTemplate)
				r.Get("/{id}", a.templateHandler.GetTemplate)
				r.Put("/{id}", a.templateHandler.UpdateTemplate)
				r.Delete("/{id}", a.templateHandler.DeleteTemplate)
				r.Post("/{id}/instantiate", a.templateHandler.InstantiateTemplate)
			})

			// WebSocket route: connection lifecycle updates for the tenant's dashboard
			r.Get("/ws", a.websocketHandler.HandleConnection)

			// Auth broker routes: multi-tenant integration authorization
			// (OAuth1/OAuth2/OAuth2-CC/APP/CUSTOM). Only registered when
			// the providers catalog loaded successfully.
			if a.authBrokerHandler != nil {
				r.Route("/auth-broker", func(r chi.Router) {
					r.Get("/connect/{providerConfigKey}", a.authBrokerHandler.Connect)
					r.Get("/callback", a.authBrokerHandler.Callback)
					r.Post("/oauth2/cc/{providerConfigKey}", a.authBrokerHandler.ConnectSync)
					r.Post("/api-auth/{providerConfigKey}", a.authBrokerHandler.APIAuth)
				})
			}
		})
	})

	a.router = r
}

// notificationAlertAdapter adapts notification.Service to the narrow
// notify.AlertService contract the auth broker's notifier expects.
// The broker's EnvironmentID doubles as the tenant identifier; it is
// parsed into the uuid the notification service's channel templates
// expect and a zero UUID is used on parse failure so the Slack/email
// channels (which don't key off it) still fire.
type notificationAlertAdapter struct {
	service *notification.Service
}

func (n *notificationAlertAdapter) NotifyConnectionEstablished(ctx context.Context, environmentID, provider, providerConfigKey, connectionID, operation string) error {
	tenantID, _ := uuid.Parse(environmentID)
	return n.service.NotifyConnectionEstablished(ctx, tenantID, "", provider, providerConfigKey, connectionID, operation)
}

func (n *notificationAlertAdapter) NotifyConnectionFailed(ctx context.Context, environmentID, provider, providerConfigKey, connectionID, errCode, errMessage string) error {
	tenantID, _ := uuid.Parse(environmentID)
	return n.service.NotifyConnectionFailed(ctx, tenantID, "", provider, providerConfigKey, connectionID, errCode, errMessage)
}

// noopSyncScheduler satisfies hooks.SyncScheduler until the broker
// grows a dedicated "run this on connection creation" integration
// point; a newly created connection logs its would-be sync trigger
// instead of silently dropping it.
type noopSyncScheduler struct {
	logger *slog.Logger
}

func (s *noopSyncScheduler) ScheduleInitialSync(ctx context.Context, c *connection.Connection) error {
	s.logger.Debug("initial sync scheduling not wired to a downstream integration",
		"provider_config_key", c.ProviderConfigKey, "connection_id", c.ConnectionID)
	return nil
}

// parseHTTPLogLevel converts string log level to slog.Level for HTTP access logs
func parseHTTPLogLevel(level string) slog.Level {
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
		// Default to debug for HTTP logs to reduce noise
		return slog.LevelDebug
	}
}
