package shopify

import (
	"context"
	"fmt"

	"shop-lifecycle-layer/internal/domain"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"golang.org/x/time/rate"
)

// handle is a client bound to one shop and one access token. It is owned
// exclusively by the Registry.
type handle struct {
	shopDomain string
	token      string
	api        *goshopify.Client
	limiter    *rate.Limiter
}

// GetShop fetches the remote shop metadata used at install time.
func (h *handle) GetShop(ctx context.Context) (*domain.ShopMetadata, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	shop, err := h.api.Shop.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}

	return &domain.ShopMetadata{
		ID:       int64(shop.Id),
		Country:  shop.Country,
		Currency: shop.Currency,
	}, nil
}

// CreateWebhook subscribes address to a webhook topic on the shop.
func (h *handle) CreateWebhook(ctx context.Context, topic string, address string) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	webhook := goshopify.Webhook{
		Topic:   topic,
		Address: address,
		Format:  "json",
	}
	if _, err := h.api.Webhook.Create(ctx, webhook); err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}
