package webhook_handlers

import (
	"context"

	"shop-lifecycle-layer/internal/application"
	"shop-lifecycle-layer/internal/domain"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// AppUninstalledHandler handles app/uninstalled webhook events
type AppUninstalledHandler struct {
	logger    zerolog.Logger
	lifecycle *application.LifecycleService
}

// NewAppUninstalledHandler creates a new app uninstalled webhook handler
func NewAppUninstalledHandler(logger zerolog.Logger, lifecycle *application.LifecycleService) *AppUninstalledHandler {
	return &AppUninstalledHandler{logger: logger, lifecycle: lifecycle}
}

// CanHandle returns true if this handler can process the given topic
func (h *AppUninstalledHandler) CanHandle(topic string) bool {
	return topic == "app/uninstalled"
}

// Handle marks the shop for deletion. It always acknowledges: Shopify
// retrying an uninstall webhook cannot fix a failed write, and the
// retention process cleans up stragglers anyway.
func (h *AppUninstalledHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	shopDomain := event.Shop
	if shopDomain == "" {
		var shopData map[string]interface{}
		if err := json.Unmarshal(event.Payload, &shopData); err != nil {
			h.logger.Warn().Err(err).
				Str("topic", event.Topic).
				Msg("Cannot parse app uninstalled webhook payload")
			return nil
		}
		if d, ok := shopData["domain"].(string); ok {
			shopDomain = d
		} else if d, ok := shopData["myshopify_domain"].(string); ok {
			shopDomain = d
		}
	}
	if shopDomain == "" {
		h.logger.Warn().
			Str("topic", event.Topic).
			Msg("App uninstalled webhook without shop domain")
		return nil
	}

	h.logger.Info().
		Str("topic", event.Topic).
		Str("shop", shopDomain).
		Msg("Processing app uninstalled webhook event")

	h.lifecycle.UninstallShop(ctx, shopDomain)
	return nil
}
