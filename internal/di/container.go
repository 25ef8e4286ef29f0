package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yarmarok-dev/api/internal/handlers"
	"github.com/yarmarok-dev/api/internal/payments"
	"github.com/yarmarok-dev/api/internal/platform/auth"
	"github.com/yarmarok-dev/api/internal/platform/config"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/platform/idempotency"
	"github.com/yarmarok-dev/api/internal/platform/jobs"
	"github.com/yarmarok-dev/api/internal/platform/observability"
	"github.com/yarmarok-dev/api/internal/repositories"
	fsrepos "github.com/yarmarok-dev/api/internal/repositories/firestore"
	"github.com/yarmarok-dev/api/internal/services"
)

// webhookSecretName selects the shared secret used to validate payment
// webhook signatures.
const webhookSecretName = "payments"

const (
	stripeRailKey = "stripe"
	chainRailKey  = "chain"
)

// Services bundles the service-layer contracts handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Settlements services.SettlementService
	Disputes    services.DisputeService
	System      services.SystemService
}

// Container wires repositories, services, and the HTTP router for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories repositories.Registry
	Services     Services
	Router       chi.Router

	// Idempotency is exposed so the process can run periodic cleanup.
	Idempotency *idempotency.FirestoreStore

	pubsubClient *pubsub.Client
	eventTopic   *pubsub.Topic
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		return nil, errors.New("container: logger is required")
	}

	c := &Container{Config: cfg, Logger: logger}

	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firestore client: %w", err)
	}

	healthRepo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	registry, err := fsrepos.NewRegistry(provider, healthRepo)
	if err != nil {
		return nil, fmt.Errorf("build repositories: %w", err)
	}
	c.Repositories = registry

	var events services.OrderEventPublisher
	if cfg.PubSub.ProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		topic := psClient.Topic(cfg.PubSub.OrderEventsTopic)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			return nil, fmt.Errorf("build order event publisher: %w", err)
		}
		c.pubsubClient = psClient
		c.eventTopic = topic
		events = publisher
	}

	rails, err := buildRails(cfg, serviceLogger(logger))
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(registry, cfg, rails, events, serviceLogger(logger))
	if err != nil {
		return nil, err
	}
	c.Services = svc

	c.Idempotency = idempotency.NewFirestoreStore(client)

	router, err := buildRouter(cfg, logger, svc, c.Idempotency)
	if err != nil {
		return nil, err
	}
	c.Router = router

	return c, nil
}

// Close releases resources such as repository clients and the event topic.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.eventTopic != nil {
		c.eventTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

// serviceLogger adapts zap to the structured event callback services accept.
func serviceLogger(logger *zap.Logger) services.Logger {
	return func(ctx context.Context, event string, fields map[string]any) {
		log := observability.FromContext(ctx)
		if log == nil {
			log = logger
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		log.Info(event, zapFields...)
	}
}

func buildRails(cfg config.Config, logger services.Logger) (*payments.Manager, error) {
	rails := make(map[string]payments.Rail)
	prefixRoutes := make(map[string]string)

	if cfg.Payments.StripeAPIKey != "" {
		stripe, err := payments.NewStripeRail(payments.StripeRailConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: payments.StripeLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe rail: %w", err)
		}
		rails[stripeRailKey] = stripe
		prefixRoutes["pi_"] = stripeRailKey
	}

	if cfg.Payments.ChainGatewayURL != "" {
		chain, err := payments.NewChainRail(payments.ChainRailConfig{
			BaseURL: cfg.Payments.ChainGatewayURL,
			APIKey:  cfg.Payments.ChainAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("build chain rail: %w", err)
		}
		rails[chainRailKey] = chain
		prefixRoutes["0x"] = chainRailKey
	}

	if len(rails) == 0 {
		return nil, errors.New("container: at least one payment rail must be configured")
	}

	return payments.NewManager(rails, payments.WithPrefixRoutes(prefixRoutes))
}

func buildServices(
	reg repositories.Registry,
	cfg config.Config,
	rails *payments.Manager,
	events services.OrderEventPublisher,
	logger services.Logger,
) (Services, error) {
	var svc Services

	locks := services.NewOrderLocks()

	settlementSvc, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:          reg.Orders(),
		Settlements:     reg.Settlements(),
		Ledger:          reg.Ledger(),
		Users:           reg.Users(),
		Rails:           rails,
		TreasuryAddress: cfg.Escrow.TreasuryAddress,
		UnitOfWork:      reg,
		Locks:           locks,
		Events:          events,
		Logger:          logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settlement service: %w", err)
	}
	svc.Settlements = settlementSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Counters:   reg.Counters(),
		UnitOfWork: reg,
		Locks:      locks,
		Escrow:     settlementSvc,
		Events:     events,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	planner, err := services.NewOrderPlanner(services.OrderPlannerDeps{
		Users:    reg.Users(),
		Products: reg.Products(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order planner: %w", err)
	}

	discounts, err := services.NewDiscountEngine(services.DiscountEngineDeps{
		PromoCodes: reg.PromoCodes(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount engine: %w", err)
	}

	shipping, err := services.NewHTTPShippingResolver(services.HTTPShippingResolverConfig{
		BaseURL: cfg.Shipping.BaseURL,
		APIKey:  cfg.Shipping.APIKey,
		Timeout: cfg.Shipping.Timeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping resolver: %w", err)
	}
	if cfg.Shipping.CacheTTL > 0 {
		shipping, err = services.NewCachingShippingResolver(shipping, cfg.Shipping.CacheTTL, nil)
		if err != nil {
			return Services{}, fmt.Errorf("build shipping cache: %w", err)
		}
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Planner:    planner,
		Discounts:  discounts,
		Shipping:   shipping,
		Orders:     orderSvc,
		Settlement: settlementSvc,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	disputeSvc, err := services.NewDisputeService(services.DisputeServiceDeps{
		Orders:   orderSvc,
		Messages: reg.DisputeMessages(),
		Escrow:   settlementSvc,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build dispute service: %w", err)
	}
	svc.Disputes = disputeSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func buildAuthenticator(cfg config.Config) (*auth.Authenticator, error) {
	var (
		verifier auth.TokenVerifier
		err      error
	)
	switch {
	case cfg.Auth.JWKSURL != "":
		cache := auth.NewJWKSCache(cfg.Auth.JWKSURL)
		verifier, err = auth.NewJWKSVerifier(cache,
			auth.WithIssuer(cfg.Auth.Issuer),
			auth.WithAudience(cfg.Auth.Audience),
		)
	case cfg.Auth.HMACSecret != "":
		verifier, err = auth.NewHMACVerifier([]byte(cfg.Auth.HMACSecret),
			auth.WithIssuer(cfg.Auth.Issuer),
			auth.WithAudience(cfg.Auth.Audience),
		)
	default:
		return nil, errors.New("container: auth requires a JWKS url or an HMAC secret")
	}
	if err != nil {
		return nil, fmt.Errorf("build token verifier: %w", err)
	}
	return auth.NewAuthenticator(verifier), nil
}

func buildRouter(
	cfg config.Config,
	logger *zap.Logger,
	svc Services,
	idemStore idempotency.Store,
) (chi.Router, error) {
	authn, err := buildAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	hmacValidator := auth.NewHMACValidator(
		auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
			secret, ok := cfg.Security.HMAC.Secrets[name]
			if !ok || strings.TrimSpace(secret) == "" {
				return "", fmt.Errorf("hmac secret %q is not configured", name)
			}
			return secret, nil
		}),
		auth.NewInMemoryNonceStore(),
		auth.WithHMACHeaders(
			cfg.Security.HMAC.SignatureHeader,
			cfg.Security.HMAC.TimestampHeader,
			cfg.Security.HMAC.NonceHeader,
		),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)

	oidcCache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	oidcValidator := auth.NewOIDCValidator(oidcCache)

	settlementIdem := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	orderHandlers := handlers.NewOrderHandlers(
		authn,
		svc.Checkout,
		svc.Orders,
		svc.Settlements,
		svc.Disputes,
		handlers.WithSettlementMiddleware(settlementIdem),
		handlers.WithCheckoutRateLimiter(cfg.RateLimits.CheckoutPerMinute, time.Minute),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Settlements, serviceLogger(logger))
	internalHandlers := handlers.NewInternalHandlers(svc.Settlements, serviceLogger(logger))

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(svc.System)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(hmacValidator.RequireHMAC(webhookSecretName)),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(
			oidcValidator.RequireOIDC(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers),
		),
	)
	return router, nil
}
