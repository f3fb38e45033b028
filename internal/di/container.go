package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steadfast-intl/api/internal/payments"
	"github.com/steadfast-intl/api/internal/platform/auth"
	"github.com/steadfast-intl/api/internal/platform/config"
	"github.com/steadfast-intl/api/internal/repositories"
	"github.com/steadfast-intl/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog        services.CatalogService
	Carts          services.CartService
	Reconciliation services.ReconciliationService
	Orders         services.OrderService
	Coupons        services.CouponService
	Content        services.ContentService
	Addresses      services.AddressService
	AdminAuth      services.AdminAuthService
	Notifications  services.NotificationService
	System         services.SystemService
}

// Deps lists the externally constructed collaborators the container wires into services.
// The payment gateway and webhook verifier are mandatory because checkout and
// reconciliation cannot operate without them; the notification publisher and media
// uploader are optional and disable their features when absent.
type Deps struct {
	Registry  repositories.Registry
	Gateway   *payments.Manager
	Verifier  *payments.WebhookVerifier
	Publisher services.NotificationPublisher
	Media     services.MediaUploader
	Tokens    *auth.AdminTokenManager
	Logger    *zap.Logger
	Clock     func() time.Time
	Build     services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring supplies Firestore-backed
// repositories and live gateway clients, while tests can inject in-memory fakes.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("repositories registry is required")
	case deps.Gateway == nil:
		return nil, errors.New("payment gateway manager is required")
	case deps.Verifier == nil:
		return nil, errors.New("webhook verifier is required")
	case deps.Tokens == nil:
		return nil, errors.New("admin token manager is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	reg := deps.Registry
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := eventLogger(deps.Logger)

	if deps.Publisher != nil {
		notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Publisher:   deps.Publisher,
			Clock:       clock,
			Logger:      logger,
			MaxAttempts: cfg.Notifications.MaxAttempts,
			Currency:    cfg.Gateway.DefaultCurrency,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notificationSvc
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Media:    deps.Media,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	addressSvc, err := services.NewAddressService(services.AddressServiceDeps{
		Addresses: reg.Addresses(),
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}
	svc.Addresses = addressSvc

	contentSvc, err := services.NewContentService(services.ContentServiceDeps{
		Posts: reg.Posts(),
		Media: deps.Media,
		Clock: clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build content service: %w", err)
	}
	svc.Content = contentSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:     reg.Carts(),
		Products:  reg.Products(),
		Coupons:   reg.Coupons(),
		Addresses: reg.Addresses(),
		Gateway:   deps.Gateway,
		Currency:  cfg.Gateway.DefaultCurrency,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Carts = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Carts:         reg.Carts(),
		UnitOfWork:    reg,
		Gateway:       deps.Gateway,
		Notifications: svc.Notifications,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reconciliationSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Carts:         reg.Carts(),
		Products:      reg.Products(),
		Coupons:       reg.Coupons(),
		Orders:        reg.Orders(),
		Counters:      reg.Counters(),
		UnitOfWork:    reg,
		Verifier:      deps.Verifier,
		Gateway:       deps.Gateway,
		Notifications: svc.Notifications,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconciliationSvc

	adminAuthSvc, err := services.NewAdminAuthService(services.AdminAuthServiceDeps{
		Admins: reg.Admins(),
		Tokens: deps.Tokens,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin auth service: %w", err)
	}
	svc.AdminAuth = adminAuthSvc

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// eventLogger adapts zap to the event-plus-fields logging hook services expect.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		zfields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		logger.Info(event, zfields...)
	}
}
