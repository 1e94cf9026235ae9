// Package di assembles the runtime dependency graph: platform clients,
// repositories, services, and the HTTP router.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deskforge/api/internal/commerce"
	"github.com/deskforge/api/internal/handlers"
	"github.com/deskforge/api/internal/platform/auth"
	"github.com/deskforge/api/internal/platform/config"
	pfirestore "github.com/deskforge/api/internal/platform/firestore"
	"github.com/deskforge/api/internal/platform/idempotency"
	"github.com/deskforge/api/internal/platform/jobs"
	"github.com/deskforge/api/internal/platform/observability"
	"github.com/deskforge/api/internal/platform/ratelimit"
	"github.com/deskforge/api/internal/pricing"
	"github.com/deskforge/api/internal/repositories"
	firestoreRepo "github.com/deskforge/api/internal/repositories/firestore"
	"github.com/deskforge/api/internal/security"
	"github.com/deskforge/api/internal/services"
)

// Container owns the wired runtime dependencies and their lifecycles.
type Container struct {
	Config config.Config
	Router chi.Router

	Cart     *services.CartService
	Checkout *services.CheckoutService
	Drawings *services.DrawingService

	// IdempotencyStore backs the cart idempotency middleware; main runs
	// the expired-record janitor against it.
	IdempotencyStore idempotency.Store

	firestore    *pfirestore.Provider
	redisClient  *redis.Client
	pubsubClient *pubsub.Client
	drawingTopic *pubsub.Topic
	logger       *zap.Logger
}

// NewContainer wires the full dependency graph from configuration. The
// caller owns Close.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg, logger: logger}

	c.firestore = pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := c.firestore.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firestore client: %w", err)
	}

	if cfg.Redis.Enabled() {
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			closeErr := c.Close(ctx)
			return nil, errors.Join(fmt.Errorf("redis ping: %w", err), closeErr)
		}
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		closeErr := c.Close(ctx)
		return nil, errors.Join(fmt.Errorf("init pubsub client: %w", err), closeErr)
	}
	c.pubsubClient = pubsubClient
	c.drawingTopic = pubsubClient.Topic(cfg.PubSub.DrawingTopic)

	purchaseRepo, err := firestoreRepo.NewPurchaseRequestRepository(c.firestore)
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init purchase request repository: %w", err))
	}
	policyRepo, err := firestoreRepo.NewMaterialPolicyRepository(c.firestore)
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init material policy repository: %w", err))
	}
	drawingRepo, err := firestoreRepo.NewDrawingJobRepository(c.firestore)
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init drawing job repository: %w", err))
	}

	quoteCache := c.buildQuoteCache()
	cartLimiter, drawingLimiter, err := c.buildLimiters()
	if err != nil {
		return nil, cleanup(ctx, c, err)
	}

	calculator, err := pricing.NewCalculator(pricing.CalculatorDeps{
		Policies: policyRepo,
		Cache:    quoteCache,
		Logger:   zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init calculator: %w", err))
	}

	mall, err := c.buildMallClient()
	if err != nil {
		return nil, cleanup(ctx, c, err)
	}

	csrfGuard, cartTokens, redirectSealer, err := c.buildSecurity()
	if err != nil {
		return nil, cleanup(ctx, c, err)
	}

	verifier, err := auth.NewSessionVerifier([]byte(cfg.Security.SessionSecret))
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init session verifier: %w", err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	publisher, err := jobs.NewPubSubDrawingPublisher(c.drawingTopic)
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init drawing publisher: %w", err))
	}

	drawingService, err := services.NewDrawingService(services.DrawingServiceDeps{
		Jobs:      drawingRepo,
		Publisher: publisher,
		Limiter:   drawingLimiter,
		Logger:    zapEventLogger(logger.Named("drawings")),
	})
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init drawing service: %w", err))
	}
	c.Drawings = drawingService

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Requests:       purchaseRepo,
		Pricer:         calculator,
		Mall:           mall,
		Limiter:        cartLimiter,
		CartTokens:     cartTokens,
		RedirectTokens: redirectSealer,
		Drawings:       drawingService,
		Logger:         zapEventLogger(logger.Named("cart")),
	})
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init cart service: %w", err))
	}
	c.Cart = cartService

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Requests:       purchaseRepo,
		RedirectTokens: redirectSealer,
		Logger:         zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return nil, cleanup(ctx, c, fmt.Errorf("init checkout service: %w", err))
	}
	c.Checkout = checkoutService

	healthRepo, err := c.buildHealthRepository(mall)
	if err != nil {
		logger.Warn("health repository init failed", zap.Error(err))
	}

	pricingHandlers := handlers.NewPricingHandlers(calculator, quoteCache, nil)
	cartHandlers := handlers.NewCartHandlers(authenticator, csrfGuard, cartService)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, checkoutService)
	healthHandlers := handlers.NewHealthHandlers(healthRepo, cfg.Security.Environment)

	c.IdempotencyStore = c.buildIdempotencyStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		c.IdempotencyStore,
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	cartRoutes := func(r chi.Router) {
		r.Use(idempotencyMiddleware)
		cartHandlers.Routes(r)
	}

	c.Router = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPricingRoutes(pricingHandlers.Routes),
		handlers.WithCartRoutes(cartRoutes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)

	return c, nil
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.drawingTopic != nil {
		c.drawingTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildQuoteCache() pricing.QuoteCache {
	if c.redisClient != nil {
		return pricing.NewRedisQuoteCache(c.redisClient, c.Config.Pricing.CacheTTL, "pricecache")
	}
	return pricing.NewMemoryQuoteCache(c.Config.Pricing.CacheTTL, c.Config.Pricing.CacheEntries, nil)
}

func (c *Container) buildLimiters() (ratelimit.Limiter, ratelimit.Limiter, error) {
	cfg := c.Config.RateLimit
	if c.redisClient != nil {
		cart, err := ratelimit.NewRedisLimiter(c.redisClient, cfg.CartAddLimit, cfg.CartAddWindow, "ratelimit")
		if err != nil {
			return nil, nil, fmt.Errorf("init cart rate limiter: %w", err)
		}
		drawing, err := ratelimit.NewRedisLimiter(c.redisClient, cfg.DrawingJobLimit, cfg.DrawingJobWindow, "ratelimit")
		if err != nil {
			return nil, nil, fmt.Errorf("init drawing rate limiter: %w", err)
		}
		return cart, drawing, nil
	}
	cart, err := ratelimit.NewMemoryLimiter(cfg.CartAddLimit, cfg.CartAddWindow, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("init cart rate limiter: %w", err)
	}
	drawing, err := ratelimit.NewMemoryLimiter(cfg.DrawingJobLimit, cfg.DrawingJobWindow, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("init drawing rate limiter: %w", err)
	}
	return cart, drawing, nil
}

func (c *Container) buildIdempotencyStore(client *firestore.Client) idempotency.Store {
	if c.Config.Security.Environment == "local" {
		return idempotency.NewMemoryStore()
	}
	return idempotency.NewFirestoreStore(client)
}

func (c *Container) buildMallClient() (commerce.Client, error) {
	cfg := c.Config.Commerce
	if cfg.UseMock {
		return commerce.NewMockClient(commerce.WithMockFailureRate(cfg.MockFailureRate)), nil
	}
	client, err := commerce.NewHTTPClient(commerce.HTTPClientDeps{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
		Logger:     zapEventLogger(c.logger.Named("commerce")),
	})
	if err != nil {
		return nil, fmt.Errorf("init commerce client: %w", err)
	}
	return client, nil
}

func (c *Container) buildSecurity() (*security.CSRFGuard, *security.CartTokenIssuer, *security.RedirectSealer, error) {
	cfg := c.Config.Security
	guard, err := security.NewCSRFGuard([]byte(cfg.CSRFKey), security.WithSecureCookies(cfg.Environment != "local"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init csrf guard: %w", err)
	}
	cartTokens, err := security.NewCartTokenIssuer([]byte(cfg.CartTokenKey), security.WithCartTokenTTL(cfg.CartTokenTTL))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init cart token issuer: %w", err)
	}
	sealer, err := security.NewRedirectSealer([]byte(cfg.RedirectTokenKey), security.WithRedirectTTL(cfg.RedirectTokenTTL))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init redirect sealer: %w", err)
	}
	return guard, cartTokens, sealer, nil
}

func (c *Container) buildHealthRepository(mall commerce.Client) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)

	provider := c.firestore
	checks = append(checks, repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := provider.Client(ctx)
			return err
		},
	})

	if mall != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "mall",
			Timeout: 2 * time.Second,
			Check:   mall.HealthCheck,
		})
	}

	if c.redisClient != nil {
		client := c.redisClient
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}

	return repositories.NewDependencyHealthRepository(checks)
}

func cleanup(ctx context.Context, c *Container, err error) error {
	if closeErr := c.Close(ctx); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}
