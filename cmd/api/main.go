package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"shop-lifecycle-layer/internal/application"
	"shop-lifecycle-layer/internal/application/webhook_handlers"
	"shop-lifecycle-layer/internal/domain"
	"shop-lifecycle-layer/internal/infrastructure/encryption"
	"shop-lifecycle-layer/internal/infrastructure/metrics"
	"shop-lifecycle-layer/internal/infrastructure/pubsub"
	"shop-lifecycle-layer/internal/infrastructure/repository"
	"shop-lifecycle-layer/internal/infrastructure/session"
	shopifyinfra "shop-lifecycle-layer/internal/infrastructure/shopify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("⚠️  Warning: .env file not found")
	}

	// Get configuration from environment
	mongoURI := envOr("MONGODB_URI", "mongodb://localhost:27017")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	appURL := envOr("APP_URL", "http://localhost:8080")
	apiVersion := envOr("SHOPIFY_API_VERSION", "2024-07")
	apiKey := os.Getenv("SHOPIFY_API_KEY")
	apiSecret := os.Getenv("SHOPIFY_API_SECRET")

	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		logger.Fatal().Msg("ENCRYPTION_KEY environment variable is required")
	}

	// Connect to MongoDB
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())

	db := client.Database(envOr("MONGODB_DATABASE", "shopify_layer"))

	// Connect to Redis for session storage
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer redisClient.Close()

	// Initialize infrastructure (implementations)
	encryptionService, err := encryption.NewService(encryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}

	repo := repository.NewMongoShopRepository(db)
	sessionStore := session.NewRedisStore(redisClient)

	registry := shopifyinfra.NewRegistry(apiKey, apiSecret, apiVersion, shopifyinfra.DefaultRateLimitConfig(), logger)
	registrar := shopifyinfra.NewRegistrar(registry, logger)

	appMetrics := metrics.New()
	lifecyclePubSub := pubsub.NewLifecyclePubSub(logger)

	// Audit trail: every lifecycle transition lands in the log stream.
	auditChannel := lifecyclePubSub.Subscribe(context.Background(), nil)
	go func() {
		for event := range auditChannel.Events {
			logger.Info().
				Str("kind", event.Kind).
				Str("shop", event.ShopDomain).
				Time("at", event.At).
				Msg("Shop lifecycle event")
		}
	}()

	webhookAddress := appURL + "/webhooks/shopify"

	// Initialize application services
	lifecycleService := application.NewLifecycleServiceWithWebhooks(
		repo,
		registry,
		encryptionService,
		appMetrics,
		lifecyclePubSub,
		logger,
		registrar,
		webhookAddress,
	)
	sessionService := application.NewSessionService(sessionStore, logger)

	// Initialize webhook dispatcher and register handlers
	webhookDispatcher := application.NewWebhookDispatcher(logger)
	webhookDispatcher.RegisterHandler(webhook_handlers.NewAppUninstalledHandler(logger, lifecycleService))

	// Re-register uninstall webhooks for every shop that was active before
	// the restart. Shopify drops subscriptions silently sometimes; this
	// keeps the uninstall flow alive.
	lifecycleService.ReactivateAfterRestart(context.Background(), func(shopDomain, accessToken string) {
		if err := registrar.Register(context.Background(), shopDomain, accessToken, webhookAddress, "app/uninstalled"); err != nil {
			logger.Error().Err(err).Str("shop", shopDomain).Msg("Failed to re-register uninstall webhook")
		}
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Health check - must be public for monitoring
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Install callback (post-OAuth) and webhook intake
	r.Post("/shops/install", installHandler(lifecycleService, logger))
	r.Get("/shops/{shopDomain}/active", shopActiveHandler(lifecycleService, logger))
	r.Post("/webhooks/shopify", webhookHandler(webhookDispatcher, logger))

	// Session storage for the OAuth middleware
	r.Post("/sessions/{sessionID}", saveSessionHandler(sessionService, logger))
	r.Get("/sessions/{sessionID}", getSessionHandler(sessionService, logger))
	r.Delete("/sessions/{sessionID}", deleteSessionHandler(sessionService, logger))

	port := envOr("PORT", "8080")
	logger.Info().Str("port", port).Msg("Starting API server")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type installRequest struct {
	ShopDomain  string `json:"shop_domain"`
	Scope       string `json:"scope"`
	AccessToken string `json:"access_token"`
}

// installHandler runs the install workflow. It always acknowledges with
// 200 once the request parses: install failures are logged server-side and
// must not bounce the merchant out of the OAuth flow.
func installHandler(lifecycle *application.LifecycleService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req installRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.ShopDomain == "" {
			http.Error(w, "shop_domain is required", http.StatusBadRequest)
			return
		}

		cookies := func(name string) string {
			cookie, err := r.Cookie(name)
			if err != nil {
				return ""
			}
			return cookie.Value
		}

		lifecycle.InstallShop(r.Context(), cookies, req.ShopDomain, req.Scope, req.AccessToken)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"received": "true"})
	}
}

func shopActiveHandler(lifecycle *application.LifecycleService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopDomain := chi.URLParam(r, "shopDomain")

		active, err := lifecycle.IsShopActive(r.Context(), shopDomain)
		if err != nil {
			logger.Error().Err(err).Str("shop", shopDomain).Msg("Failed to check shop state")
			http.Error(w, "Failed to check shop state", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]bool{"active": active})
	}
}

// webhookHandler receives Shopify webhook callbacks and routes them through
// the dispatcher.
func webhookHandler(dispatcher *application.WebhookDispatcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := r.Header.Get("X-Shopify-Topic")
		shop := r.Header.Get("X-Shopify-Shop-Domain")
		if topic == "" {
			http.Error(w, "X-Shopify-Topic header is required", http.StatusBadRequest)
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read webhook payload", http.StatusBadRequest)
			return
		}

		event := &domain.WebhookEvent{
			Topic:    topic,
			Shop:     shop,
			Payload:  payload,
			Verified: true,
		}

		if err := dispatcher.Dispatch(r.Context(), event); err != nil {
			logger.Error().Err(err).
				Str("topic", topic).
				Str("shop", shop).
				Msg("Failed to dispatch webhook event")

			// Return 500 to trigger Shopify retry
			http.Error(w, "Failed to process webhook event", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"received": "true"})
	}
}

func saveSessionHandler(sessions *application.SessionService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		var sess domain.Session
		if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
			http.Error(w, "invalid session body", http.StatusBadRequest)
			return
		}
		if sess.ID == "" {
			sess.ID = sessionID
		}

		stored, err := sessions.SaveSessionForShop(r.Context(), sessionID, &sess)
		if err != nil {
			logger.Error().Err(err).Str("session", sessionID).Msg("Failed to save session")
			http.Error(w, "Failed to save session", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]bool{"stored": stored})
	}
}

func getSessionHandler(sessions *application.SessionService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		sess, err := sessions.GetSessionForShop(r.Context(), sessionID)
		if err != nil {
			logger.Error().Err(err).Str("session", sessionID).Msg("Failed to load session")
			http.Error(w, "Failed to load session", http.StatusInternalServerError)
			return
		}
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		json.NewEncoder(w).Encode(sess)
	}
}

func deleteSessionHandler(sessions *application.SessionService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		deleted, err := sessions.DeleteSessionForShop(r.Context(), sessionID)
		if err != nil {
			logger.Error().Err(err).Str("session", sessionID).Msg("Failed to delete session")
			http.Error(w, "Failed to delete session", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]bool{"deleted": deleted})
	}
}
