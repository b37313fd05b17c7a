package shopify

import (
	"sync"
	"time"

	"shop-lifecycle-layer/internal/ports"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitConfig is the fixed call budget applied to every handle the
// registry builds. It is passed once at construction, not re-derived per
// call.
type RateLimitConfig struct {
	Calls    int           // calls allowed per Interval
	Interval time.Duration
	Burst    int
}

// DefaultRateLimitConfig matches Shopify's standard REST bucket.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Calls:    1,
		Interval: 1100 * time.Millisecond,
		Burst:    15,
	}
}

// Registry caches at most one fresh API client handle per shop domain.
// A cached handle is replaced when the presented access token differs from
// the one it was built with, which covers reinstall-with-new-token; token
// equality is the sole invalidation trigger. Handles live for the process
// lifetime.
type Registry struct {
	app        goshopify.App
	apiVersion string
	limits     RateLimitConfig
	logger     zerolog.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// NewRegistry creates a client registry bound to one Shopify app.
func NewRegistry(apiKey, apiSecret, apiVersion string, limits RateLimitConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		app:        goshopify.App{ApiKey: apiKey, ApiSecret: apiSecret},
		apiVersion: apiVersion,
		limits:     limits,
		logger:     logger,
		handles:    make(map[string]*handle),
	}
}

// GetClient returns the cached handle for a shop, building or replacing it
// as needed. Returns nil when accessToken is empty: without a token no
// remote call is possible.
func (r *Registry) GetClient(shopDomain string, accessToken string) (ports.ShopAPI, error) {
	if accessToken == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[shopDomain]; ok {
		if h.token == accessToken {
			return h, nil
		}
		r.logger.Info().Str("shop", shopDomain).Msg("Access token changed, rebuilding client handle")
	}

	h, err := r.newHandle(shopDomain, accessToken)
	if err != nil {
		return nil, err
	}
	r.handles[shopDomain] = h
	return h, nil
}

func (r *Registry) newHandle(shopDomain string, accessToken string) (*handle, error) {
	api, err := goshopify.NewClient(r.app, shopDomain, accessToken, goshopify.WithVersion(r.apiVersion))
	if err != nil {
		return nil, err
	}

	perCall := float64(r.limits.Calls) / r.limits.Interval.Seconds()
	return &handle{
		shopDomain: shopDomain,
		token:      accessToken,
		api:        api,
		limiter:    rate.NewLimiter(rate.Limit(perCall), r.limits.Burst),
	}, nil
}
