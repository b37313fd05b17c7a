package ports

import (
	"context"

	"shop-lifecycle-layer/internal/domain"
)

// ShopAPI is a client handle bound to one shop and one access token.
type ShopAPI interface {
	// GetShop fetches the remote shop metadata.
	GetShop(ctx context.Context) (*domain.ShopMetadata, error)

	// CreateWebhook registers a webhook subscription on the shop.
	CreateWebhook(ctx context.Context, topic string, address string) error
}

// ClientRegistry maps a shop domain to a cached ShopAPI handle. A handle is
// built lazily and replaced whenever the presented access token differs from
// the one it was built with; token equality is the sole invalidation
// trigger.
type ClientRegistry interface {
	// GetClient returns the cached handle for the shop, building or
	// replacing it as needed. Returns nil when accessToken is empty.
	GetClient(shopDomain string, accessToken string) (ShopAPI, error)
}

// WebhookRegistrar registers webhook handlers against the remote platform.
// Optional capability of the lifecycle service.
type WebhookRegistrar interface {
	// Register subscribes the given address to a topic on the shop. All
	// fields are required and validated before any remote call.
	Register(ctx context.Context, shopDomain string, accessToken string, address string, topic string) error
}
