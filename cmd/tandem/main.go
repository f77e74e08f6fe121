package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/tandemauth/tandem/pkg/admin"
	"github.com/tandemauth/tandem/pkg/api"
	"github.com/tandemauth/tandem/pkg/config"
	"github.com/tandemauth/tandem/pkg/observability"
	"github.com/tandemauth/tandem/pkg/provider"
	"github.com/tandemauth/tandem/pkg/session"
	"github.com/tandemauth/tandem/pkg/signin"
)

func main() {
	startupLog := logrus.New()
	startupLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx := context.Background()

	// OpenTelemetry
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	// Metrics
	var metrics *observability.Metrics
	metricsRegistry := observability.NewMetricsRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(metricsRegistry)
	}

	// Session store
	redisClient, err := session.NewRedisClient(cfg.Session.RedisURL)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to connect to redis")
	}
	sessionStore := session.NewRedisStore(redisClient, metrics)

	// User store
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to open user store")
	}
	if err := db.PingContext(ctx); err != nil {
		startupLog.WithError(err).Fatal("Failed to reach user store")
	}

	// Provider registry, fixed for the process lifetime
	registry, err := provider.NewRegistry(cfg.Providers.Flags, provider.DefaultProviders())
	if err != nil {
		startupLog.WithError(err).Fatal("Invalid provider configuration")
	}

	// Admin resolution
	roleStore := admin.NewSQLRoleStore(db)
	resolver := admin.NewResolver(admin.Config{
		Emails:  cfg.Admin.Emails,
		Domains: cfg.Admin.Domains,
	}, roleStore, cfg.Admin.CacheTTL, logger, metrics)

	// Session synchronization against the content system
	cmsClient := session.NewCMSClient(cfg.CMS.BaseURL, cfg.CMS.ServiceKey, cfg.CMS.Timeout, logger)
	synchronizer := session.NewSynchronizer(sessionStore, cmsClient, cmsClient, cfg.Session.TTL, logger, metrics)

	// Sign-in flows
	oauthStarter, err := buildOAuthStarter(ctx, cfg, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to configure OAuth providers")
	}
	credentials := signin.NewCredentialsAuthenticator(db, logger)
	linkSender := signin.NewHTTPLinkSender(cfg.CMS.MagicLinkEndpoint, cfg.CMS.ServiceKey, cfg.CMS.Timeout, logger)
	dispatcher := signin.NewDispatcher(registry, credentials, oauthStarter, linkSender, synchronizer, logger, metrics)

	// API server
	apiServer := api.NewServer(registry, synchronizer, dispatcher, oauthStarter, resolver, logger, metrics, api.Options{
		SecureCookies: cfg.Server.SecureCookies,
		SafeRoute:     cfg.Server.SafeRoute,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthChecker := observability.NewHealthChecker(db, redisClient, cfg.CMS.BaseURL)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(metricsRegistry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return redisClient.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLog.WithError(err).Fatal("API server failed")
		}
	}()

	startupLog.WithFields(logrus.Fields{
		"addr":      httpServer.Addr,
		"providers": len(registry.Providers()),
	}).Info("tandem started")

	if err := shutdown.WaitForShutdown(); err != nil {
		startupLog.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

// buildOAuthStarter maps the configured providers into the OAuth flow,
// deriving each callback URL from the public origin.
func buildOAuthStarter(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*signin.OAuthStarter, error) {
	configs := make(map[string]signin.OAuthProviderConfig, len(cfg.Providers.OAuth))
	for id, oc := range cfg.Providers.OAuth {
		configs[id] = signin.OAuthProviderConfig{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			IssuerURL:    oc.IssuerURL,
			UserInfoURL:  oc.UserInfoURL,
			Scopes:       oc.Scopes,
			RedirectURL:  fmt.Sprintf("%s/api/signin/%s/callback", cfg.Providers.RedirectBase, id),
		}
	}
	return signin.NewOAuthStarter(ctx, configs, logger)
}
