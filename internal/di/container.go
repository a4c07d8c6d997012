package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/events"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/repositories"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	"github.com/hanko-field/checkout/internal/repositories/memory"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	meterName         = "github.com/hanko-field/checkout"
	mpesaProviderKey  = "mpesa"
	stripeProviderKey = "stripe"
	probeTimeout      = 1500 * time.Millisecond
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Callbacks   services.PaymentCallbackService
	Maintenance services.MaintenanceService
	System      services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Services      Services
	Authenticator *auth.Authenticator
	OIDC          *auth.OIDCValidator
	Idempotency   idempotency.Store

	logger    *zap.Logger
	meter     metric.Meter
	firestore *pfirestore.Provider
	pubsub    *pubsub.Client
	publisher *events.PubSubCheckoutPublisher
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	build    services.BuildInfo
	meter    metric.Meter
	verifier auth.TokenVerifier
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithMeter overrides the otel meter used by the poller and OIDC metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithTokenVerifier replaces the Firebase ID token verifier.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *containerOptions) {
		o.verifier = verifier
	}
}

type repositorySet struct {
	carts        repositories.CartRepository
	profiles     repositories.ProfileRepository
	orders       repositories.OrderRepository
	drafts       repositories.DraftRepository
	transactions repositories.PaymentTransactionRepository
}

// NewContainer constructs the runtime dependencies from cfg. Clients opened before a
// failure are closed again.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{meter: otel.GetMeterProvider().Meter(meterName)}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{
		Config: cfg,
		logger: logger,
		meter:  options.meter,
	}
	defer func() {
		if err == nil {
			return
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := c.Close(closeCtx); closeErr != nil {
			logger.Warn("container cleanup failed", zap.Error(closeErr))
		}
	}()

	c.firestore = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(c.googleClientOptions()...))
	repos, err := c.buildRepositories()
	if err != nil {
		return nil, err
	}

	mpesa, manager, err := c.buildPayments()
	if err != nil {
		return nil, err
	}

	observers, err := c.buildObservers(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.buildServices(repos, manager, observers); err != nil {
		return nil, err
	}

	store, err := idempotency.NewFirestoreStore(c.firestore)
	if err != nil {
		return nil, fmt.Errorf("build idempotency store: %w", err)
	}
	c.Idempotency = store

	maintenance, err := services.NewMaintenanceService(services.MaintenanceServiceDeps{
		Drafts:      repos.drafts,
		Idempotency: store,
		Sessions:    c.Services.Checkout,
		BatchSize:   cfg.Idempotency.CleanupBatchSize,
		Logger:      eventLogger(c.logger, "maintenance"),
	})
	if err != nil {
		return nil, fmt.Errorf("build maintenance service: %w", err)
	}
	c.Services.Maintenance = maintenance

	system, err := c.buildSystemService(mpesa, options.build)
	if err != nil {
		return nil, err
	}
	c.Services.System = system

	verifier := options.verifier
	if verifier == nil {
		firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = firebase
	}
	c.Authenticator = auth.NewAuthenticator(verifier)

	if err := c.buildOIDC(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) buildRepositories() (repositorySet, error) {
	var repos repositorySet
	var err error
	if repos.carts, err = firestoreRepo.NewCartRepository(c.firestore); err != nil {
		return repos, fmt.Errorf("build cart repository: %w", err)
	}
	if repos.profiles, err = firestoreRepo.NewProfileRepository(c.firestore); err != nil {
		return repos, fmt.Errorf("build profile repository: %w", err)
	}
	if repos.orders, err = firestoreRepo.NewOrderRepository(c.firestore); err != nil {
		return repos, fmt.Errorf("build order repository: %w", err)
	}
	if repos.transactions, err = firestoreRepo.NewTransactionRepository(c.firestore); err != nil {
		return repos, fmt.Errorf("build transaction repository: %w", err)
	}

	switch c.Config.Checkout.DraftStore {
	case config.DraftStoreMemory:
		c.logger.Warn("checkout drafts are kept in memory and will not survive restarts")
		repos.drafts = memory.NewDraftRepository(time.Now)
	default:
		if repos.drafts, err = firestoreRepo.NewDraftRepository(c.firestore, time.Now); err != nil {
			return repos, fmt.Errorf("build draft repository: %w", err)
		}
	}
	return repos, nil
}

func (c *Container) buildPayments() (*payments.MpesaProvider, *payments.Manager, error) {
	cfg := c.Config
	if !cfg.Mpesa.Enabled() {
		return nil, nil, errors.New("mpesa credentials are required for push payments")
	}
	paymentsLogger := eventLogger(c.logger, "payments")

	mpesa, err := payments.NewMpesaProvider(payments.MpesaConfig{
		BaseURL:          cfg.Mpesa.BaseURL,
		ConsumerKey:      cfg.Mpesa.ConsumerKey,
		ConsumerSecret:   cfg.Mpesa.ConsumerSecret,
		ShortCode:        cfg.Mpesa.ShortCode,
		Passkey:          cfg.Mpesa.Passkey,
		CallbackURL:      cfg.Mpesa.CallbackURL,
		TransactionType:  cfg.Mpesa.TransactionType,
		AccountReference: cfg.Mpesa.AccountReference,
		Timeout:          cfg.Mpesa.RequestTimeout,
	}, payments.WithMpesaLogger(paymentsLogger), payments.WithMpesaMeter(c.meter))
	if err != nil {
		return nil, nil, fmt.Errorf("build mpesa provider: %w", err)
	}

	managerOpts := []payments.ManagerOption{
		payments.WithPushGateway(mpesaProviderKey, mpesa),
	}
	routes := map[string]string{
		string(domain.PaymentMethodMpesa): mpesaProviderKey,
	}
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: paymentsLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build stripe provider: %w", err)
		}
		managerOpts = append(managerOpts, payments.WithCardProvider(stripeProviderKey, stripe))
		routes[string(domain.PaymentMethodCreditCard)] = stripeProviderKey
	} else {
		c.logger.Info("stripe api key not configured; card orders get no payment link")
	}
	managerOpts = append(managerOpts, payments.WithMethodRoutes(routes))

	manager, err := payments.NewManager(managerOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build payment manager: %w", err)
	}
	return mpesa, manager, nil
}

func (c *Container) buildObservers(ctx context.Context) ([]services.CheckoutObserver, error) {
	topicID := strings.TrimSpace(c.Config.PubSub.OrderEventsTopic)
	if topicID == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, c.Config.PubSub.ProjectID, c.googleClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	c.pubsub = client

	publisher, err := events.NewPubSubCheckoutPublisher(client.Topic(topicID), events.WithLogger(c.logger.Named("events")))
	if err != nil {
		return nil, fmt.Errorf("build checkout event publisher: %w", err)
	}
	c.publisher = publisher
	return []services.CheckoutObserver{publisher}, nil
}

func (c *Container) buildServices(repos repositorySet, manager *payments.Manager, observers []services.CheckoutObserver) error {
	cfg := c.Config
	fees := services.NewDeliveryFeeResolver(services.DefaultDeliveryAreas())
	sanitizer := services.NewDraftSanitizer()
	checkoutLogger := eventLogger(c.logger, "checkout")

	initiator, err := services.NewPaymentInitiator(services.PaymentInitiatorDeps{
		Gateway:          manager,
		Drafts:           repos.drafts,
		Fees:             fees,
		Sanitizer:        sanitizer,
		CountryCode:      cfg.Mpesa.CountryCode,
		AccountReference: cfg.Mpesa.AccountReference,
		DraftTTL:         cfg.Checkout.DraftTTL,
		Logger:           checkoutLogger,
	})
	if err != nil {
		return fmt.Errorf("build payment initiator: %w", err)
	}

	poller, err := services.NewPaymentPoller(services.PaymentPollerDeps{
		Gateway: manager,
		Config: services.PollConfig{
			Interval:     cfg.Checkout.PollInterval,
			Timeout:      cfg.Checkout.PollTimeout,
			QueryTimeout: cfg.Checkout.PollQueryTimeout,
			MaxAttempts:  cfg.Checkout.PollMaxAttempts,
			CancelCodes:  cfg.Checkout.CancelCodes,
			FailureCodes: cfg.Checkout.FailureCodes,
		},
		Meter:  c.meter,
		Logger: eventLogger(c.logger, "poller"),
	})
	if err != nil {
		return fmt.Errorf("build payment poller: %w", err)
	}

	finalizer, err := services.NewOrderFinalizer(services.OrderFinalizerDeps{
		Orders: repos.orders,
		Drafts: repos.drafts,
		Fees:   fees,
		Logger: checkoutLogger,
	})
	if err != nil {
		return fmt.Errorf("build order finalizer: %w", err)
	}

	orchestrator := services.CheckoutOrchestratorDeps{
		Carts:     repos.carts,
		Profiles:  repos.profiles,
		Drafts:    repos.drafts,
		Initiator: initiator,
		Poller:    poller,
		Finalizer: finalizer,
		Fees:      fees,
		Sanitizer: sanitizer,
		Card: services.CardCheckoutConfig{
			Currency:   cfg.PSP.Currency,
			SuccessURL: cfg.PSP.StripeSuccessURL,
			CancelURL:  cfg.PSP.StripeCancelURL,
		},
		Logger: checkoutLogger,
	}
	if manager.HasCardProvider() {
		orchestrator.CardCheckout = manager
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orchestrator:   orchestrator,
		Observers:      observers,
		SessionIdleTTL: cfg.Checkout.SessionIdleTTL,
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}
	c.Services.Checkout = checkout

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: repos.orders,
		Logger: eventLogger(c.logger, "orders"),
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	callbacks, err := services.NewPaymentCallbackService(services.PaymentCallbackServiceDeps{
		Transactions: repos.transactions,
		Logger:       eventLogger(c.logger, "callbacks"),
	})
	if err != nil {
		return fmt.Errorf("build payment callback service: %w", err)
	}
	c.Services.Callbacks = callbacks
	return nil
}

func (c *Container) buildSystemService(mpesa *payments.MpesaProvider, build services.BuildInfo) (services.SystemService, error) {
	probes := []repositories.Probe{
		{Name: "firestore", Timeout: probeTimeout, Check: c.firestore.Ping},
	}
	if mpesa != nil {
		probes = append(probes, repositories.Probe{Name: "mpesa", Check: mpesa.Check})
	}
	health, err := repositories.NewProbeHealthRepository(probes, repositories.WithProbeTimeout(probeTimeout))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	if strings.TrimSpace(build.Environment) == "" {
		build.Environment = c.Config.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Sessions:         c.Services.Checkout,
		Build:            build,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}
	return system, nil
}

func (c *Container) buildOIDC() error {
	metrics, err := auth.NewOTelMetrics(c.meter)
	if err != nil {
		return fmt.Errorf("build oidc metrics: %w", err)
	}
	if strings.TrimSpace(c.Config.Security.OIDC.Audience) == "" {
		c.logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	// A validator without a cache answers 503, so internal routes stay closed.
	var cache *auth.JWKSCache
	if jwksURL := strings.TrimSpace(c.Config.Security.OIDC.JWKSURL); jwksURL != "" {
		cache = auth.NewJWKSCache(jwksURL, auth.WithJWKSLogger(c.logger.Named("auth")))
	} else {
		c.logger.Warn("auth: OIDC JWKS url not configured; internal routes will reject requests")
	}
	c.OIDC = auth.NewOIDCValidator(cache, auth.WithOIDCMetrics(metrics))
	return nil
}

// Close abandons live checkout sessions and releases the Pub/Sub and Firestore clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Services.Checkout != nil {
		c.Services.Checkout.Shutdown(ctx)
	}
	if c.publisher != nil {
		c.publisher.Close()
	}
	var errs []error
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

// googleClientOptions carries the service account file shared by the Firestore and Pub/Sub clients.
func (c *Container) googleClientOptions() []option.ClientOption {
	if file := strings.TrimSpace(c.Config.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func eventLogger(base *zap.Logger, name string) func(ctx context.Context, event string, fields map[string]any) {
	return observability.EventLogger(base.Named(name))
}
