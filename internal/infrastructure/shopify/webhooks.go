package shopify

import (
	"context"
	"errors"
	"fmt"

	"shop-lifecycle-layer/internal/ports"

	"github.com/rs/zerolog"
)

// ErrInvalidWebhookParams rejects a webhook registration before any remote
// call is attempted.
var ErrInvalidWebhookParams = errors.New("invalid webhook registration parameters")

// Registrar registers webhook subscriptions on shops through the client
// registry.
type Registrar struct {
	registry ports.ClientRegistry
	logger   zerolog.Logger
}

// NewRegistrar creates a webhook registrar.
func NewRegistrar(registry ports.ClientRegistry, logger zerolog.Logger) *Registrar {
	return &Registrar{registry: registry, logger: logger}
}

// Register subscribes address to topic on the shop. Every field is
// required; missing fields fail fast.
func (r *Registrar) Register(ctx context.Context, shopDomain string, accessToken string, address string, topic string) error {
	switch {
	case shopDomain == "":
		return fmt.Errorf("%w: shop domain is required", ErrInvalidWebhookParams)
	case accessToken == "":
		return fmt.Errorf("%w: access token is required", ErrInvalidWebhookParams)
	case address == "":
		return fmt.Errorf("%w: address is required", ErrInvalidWebhookParams)
	case topic == "":
		return fmt.Errorf("%w: topic is required", ErrInvalidWebhookParams)
	}

	api, err := r.registry.GetClient(shopDomain, accessToken)
	if err != nil {
		return fmt.Errorf("failed to get client for webhook registration: %w", err)
	}

	if err := api.CreateWebhook(ctx, topic, address); err != nil {
		return err
	}

	r.logger.Info().
		Str("shop", shopDomain).
		Str("topic", topic).
		Msg("Webhook registered")
	return nil
}
