package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/steadfast-intl/api/internal/di"
	"github.com/steadfast-intl/api/internal/handlers"
	"github.com/steadfast-intl/api/internal/payments"
	"github.com/steadfast-intl/api/internal/platform/auth"
	"github.com/steadfast-intl/api/internal/platform/config"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/platform/idempotency"
	"github.com/steadfast-intl/api/internal/platform/jobs"
	"github.com/steadfast-intl/api/internal/platform/observability"
	"github.com/steadfast-intl/api/internal/platform/secrets"
	"github.com/steadfast-intl/api/internal/platform/storage"
	"github.com/steadfast-intl/api/internal/platform/textutil"
	"github.com/steadfast-intl/api/internal/repositories"
	firestoreRepo "github.com/steadfast-intl/api/internal/repositories/firestore"
	"github.com/steadfast-intl/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	healthRepo, err := newHealthRepository(firestoreClient, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, firestoreRepo.WithHealthRepository(healthRepo))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	gateway, err := newPaymentManager(logger.Named("payments"), cfg.Gateway)
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	webhookVerifier, err := payments.NewWebhookVerifier(cfg.Webhook.PaystackSecret)
	if err != nil {
		logger.Fatal("failed to initialise webhook verifier", zap.Error(err))
	}

	var publisher services.NotificationPublisher
	if topicID := strings.TrimSpace(cfg.Notifications.TopicID); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		defer topic.Stop()
		publisher, err = jobs.NewPubSubNotificationPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise notification publisher", zap.Error(err))
		}
	} else {
		logger.Warn("notifications topic not configured; order notifications disabled")
	}

	var mediaStore services.MediaUploader
	if bucket := strings.TrimSpace(cfg.Storage.MediaBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		mediaStore, err = storage.NewMediaStore(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise media store", zap.Error(err))
		}
	} else {
		logger.Warn("media bucket not configured; image uploads disabled")
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	tokenOpts := []auth.AdminTokenOption{
		auth.WithAdminTokenTTL(cfg.AdminAuth.TokenTTL),
		auth.WithAdminTokenAudience(cfg.AdminAuth.Audience),
	}
	if jwksURL := strings.TrimSpace(cfg.AdminAuth.JWKSURL); jwksURL != "" {
		tokenOpts = append(tokenOpts, auth.WithAdminTokenJWKS(auth.NewJWKSCache(jwksURL)))
	}
	tokenManager, err := auth.NewAdminTokenManager(cfg.AdminAuth.JWTSecret, cfg.AdminAuth.Issuer, tokenOpts...)
	if err != nil {
		logger.Fatal("failed to initialise admin token manager", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.Deps{
		Registry:  registry,
		Gateway:   gateway,
		Verifier:  webhookVerifier,
		Publisher: publisher,
		Media:     mediaStore,
		Tokens:    tokenManager,
		Logger:    logger.Named("services"),
		Clock:     time.Now,
		Build:     buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	svc := container.Services

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	checkoutLimiter := handlers.NewRateLimiter(cfg.RateLimits.AuthenticatedPerMinute, time.Minute)
	loginLimiter := handlers.NewRateLimiter(cfg.RateLimits.DefaultPerMinute, time.Minute)

	productHandlers := handlers.NewProductHandlers(svc.Catalog)
	postHandlers := handlers.NewPostHandlers(svc.Content)
	couponHandlers := handlers.NewCouponHandlers(svc.Coupons)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Carts, checkoutLimiter)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	addressHandlers := handlers.NewAddressHandlers(authenticator, svc.Addresses)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Reconciliation, svc.Orders)
	adminAuthHandlers := handlers.NewAdminAuthHandlers(svc.AdminAuth, loginLimiter)
	healthHandlers := handlers.NewHealthHandlers(svc.System)

	adminRoutes := func(r chi.Router) {
		r.Route("/auth", func(ar chi.Router) {
			adminAuthHandlers.Routes(ar)
			ar.Group(func(g chi.Router) {
				g.Use(tokenManager.RequireAdmin())
				adminAuthHandlers.AdminRoutes(g)
			})
			ar.Group(func(g chi.Router) {
				g.Use(tokenManager.RequireAdmin(auth.RoleSuperadmin))
				adminAuthHandlers.SuperadminRoutes(g)
			})
		})
		r.Group(func(g chi.Router) {
			g.Use(tokenManager.RequireAdmin())
			g.Route("/products", productHandlers.AdminRoutes)
			g.Route("/posts", postHandlers.AdminRoutes)
			g.Route("/coupons", couponHandlers.AdminRoutes)
			g.Route("/carts", cartHandlers.AdminRoutes)
			g.Route("/orders", orderHandlers.AdminRoutes)
			g.Route("/payment", paymentHandlers.AdminRoutes)
		})
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithPostRoutes(postHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAddressRoutes(addressHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func newPaymentManager(logger *zap.Logger, cfg config.GatewayConfig) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)

	paystack, err := payments.NewPaystackProvider(payments.PaystackProviderConfig{
		SecretKey: cfg.PaystackSecretKey,
		BaseURL:   cfg.PaystackBaseURL,
		Timeout:   cfg.PaystackTimeout,
	})
	if err != nil {
		return nil, err
	}
	providers["paystack"] = paystack

	if strings.TrimSpace(cfg.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.StripeAPIKey,
			SuccessURL: cfg.CallbackURL,
			CancelURL:  cfg.CallbackURL,
			Logger: func(ctx context.Context, event string, fields map[string]any) {
				zFields := make([]zap.Field, 0, len(fields))
				for k, v := range fields {
					zFields = append(zFields, zap.Any(k, v))
				}
				logger.Debug(event, zFields...)
			},
			Clock: time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripe
	}

	opts := []payments.ManagerOption{payments.WithDefaultProvider(cfg.DefaultProvider)}
	if routes := textutil.NormalizeStringMap(cfg.CurrencyRoutes); len(routes) > 0 {
		opts = append(opts, payments.WithCurrencyRoutes(routes))
	}
	return payments.NewManager(providers, opts...)
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	lookup := func(key, fallback string) string {
		if env == nil {
			return fallback
		}
		if value := strings.TrimSpace(env[key]); value != "" {
			return value
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     lookup("API_BUILD_VERSION", "dev"),
		CommitSHA:   lookup("API_BUILD_COMMIT_SHA", "unknown"),
		Environment: lookup("API_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Gateway.PaystackSecretKey",
		"Webhook.PaystackSecret",
		"AdminAuth.JWTSecret",
	}
	if env != nil && strings.TrimSpace(env["API_GATEWAY_STRIPE_API_KEY"]) != "" {
		required = append(required, "Gateway.StripeAPIKey")
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	raw = strings.TrimSpace(raw)
	pins := make(map[string]string)
	if raw == "" {
		return pins
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[0])
		version := strings.TrimSpace(parts[1])
		if ref == "" || version == "" {
			continue
		}
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		ref = prefix + ref
		pins[ref] = version
	}
	return pins
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
