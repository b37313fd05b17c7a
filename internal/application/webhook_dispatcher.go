package application

import (
	"context"
	"fmt"

	"shop-lifecycle-layer/internal/domain"

	"github.com/rs/zerolog"
)

// WebhookHandler processes webhook events for the topics it declares.
type WebhookHandler interface {
	// CanHandle returns true if this handler can process the given topic
	CanHandle(topic string) bool
	// Handle processes a webhook event
	Handle(ctx context.Context, event *domain.WebhookEvent) error
}

// WebhookDispatcher routes incoming webhook events to registered handlers.
type WebhookDispatcher struct {
	logger   zerolog.Logger
	handlers []WebhookHandler
}

// NewWebhookDispatcher creates a dispatcher with no handlers registered.
func NewWebhookDispatcher(logger zerolog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{logger: logger}
}

// RegisterHandler adds a handler. Not safe for concurrent use with Dispatch;
// register everything during startup.
func (d *WebhookDispatcher) RegisterHandler(handler WebhookHandler) {
	d.handlers = append(d.handlers, handler)
}

// Dispatch hands the event to every handler that claims its topic. An event
// nobody claims is logged and acknowledged, not failed: Shopify retries on
// error responses, and retrying an unhandled topic never helps.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, event *domain.WebhookEvent) error {
	handled := false
	for _, handler := range d.handlers {
		if !handler.CanHandle(event.Topic) {
			continue
		}
		handled = true
		if err := handler.Handle(ctx, event); err != nil {
			return fmt.Errorf("failed to handle webhook topic %s: %w", event.Topic, err)
		}
	}

	if !handled {
		d.logger.Warn().
			Str("topic", event.Topic).
			Str("shop", event.Shop).
			Msg("No handler registered for webhook topic")
	}
	return nil
}
