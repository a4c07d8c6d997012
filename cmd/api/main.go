package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/checkout/internal/di"
	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/secrets"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	serviceName     = "checkout-api"
	sweepTimeout    = time.Minute
	shutdownTimeout = 20 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	build := buildInfoFromEnv(envValues, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(build))
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}

	router := newRouter(logger, cfg, container, build)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	var loopWG sync.WaitGroup
	loopWG.Add(1)
	go func() {
		defer loopWG.Done()
		runMaintenanceLoop(loopCtx, logger.Named("maintenance"), container.Services.Maintenance, cfg.Checkout.SweepInterval)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening", zap.String("environment", build.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopLoop()
	loopWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func newRouter(logger *zap.Logger, cfg config.Config, container *di.Container, build services.BuildInfo) http.Handler {
	svc := container.Services
	projectID := traceProjectID(cfg)

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(container.Authenticator, svc.Checkout,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
		handlers.WithPaymentRateLimit(cfg.Checkout.PaymentRateLimit, cfg.Checkout.PaymentRateWindow),
	)
	orderHandlers := handlers.NewOrderHandlers(container.Authenticator, svc.Orders)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Callbacks)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(svc.Maintenance)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	if strings.TrimSpace(cfg.Mpesa.CallbackToken) == "" {
		logger.Warn("mpesa callback token not configured; payment callbacks are unauthenticated")
	}

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(auth.RequireCallbackToken(cfg.Mpesa.CallbackToken)),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
		handlers.WithInternalMiddlewares(container.OIDC.RequireOIDC(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers)),
	)
}

// runMaintenanceLoop sweeps on every tick until ctx is cancelled. A failed sweep is logged and
// retried on the next tick.
func runMaintenanceLoop(ctx context.Context, logger *zap.Logger, maintenance services.MaintenanceService, interval time.Duration) {
	if maintenance == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			report, err := maintenance.Sweep(runCtx)
			cancel()
			fields := []zap.Field{
				zap.Int("drafts_purged", report.DraftsPurged),
				zap.Int("idempotency_purged", report.IdempotencyPurged),
				zap.Int("sessions_closed", report.SessionsClosed),
				zap.Duration("duration", report.Duration),
			}
			if err != nil {
				logger.Error("maintenance sweep failed", append(fields, zap.Error(err))...)
				continue
			}
			logger.Debug("maintenance sweep completed", fields...)
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["CHECKOUT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("CHECKOUT_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("CHECKOUT_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if fallback := lookup("CHECKOUT_SECRET_FALLBACK_FILE"); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("CHECKOUT_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a value. The callback token
// may be omitted only for local runs; the Stripe key is required once it is configured at all.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Mpesa.ConsumerKey",
		"Mpesa.ConsumerSecret",
		"Mpesa.Passkey",
	}
	environment := strings.ToLower(strings.TrimSpace(env["CHECKOUT_SECURITY_ENVIRONMENT"]))
	if environment != "" && environment != "local" {
		required = append(required, "Mpesa.CallbackToken")
	}
	if strings.TrimSpace(env["CHECKOUT_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	return required
}
