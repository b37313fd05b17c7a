package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shop-lifecycle-layer/internal/domain"
	"shop-lifecycle-layer/internal/infrastructure/metrics"
	"shop-lifecycle-layer/internal/ports"

	"github.com/rs/zerolog"
)

// installTopic tags every log line of the install/uninstall flow.
const installTopic = "shopify-install"

// affiliateCookie carries the affiliate-attribution tag set by partner
// landing pages.
const affiliateCookie = "_sthx"

// CookieGetter is a read-only key/value lookup over the inbound request
// context, used to extract the affiliate tag. May be nil.
type CookieGetter func(name string) string

// ReactivateCallback is invoked once per active shop at process start with
// the decrypted access token, so external subscribers can be rehydrated.
type ReactivateCallback func(shopDomain string, accessToken string)

// LifecycleEventPublisher broadcasts lifecycle events to in-process
// subscribers. May be nil.
type LifecycleEventPublisher interface {
	Publish(event *domain.LifecycleEvent)
}

// LifecycleService orchestrates the install/uninstall/reinstall workflow
// over the shop repository, the client registry and the token cipher.
//
// Install and uninstall are best-effort: persistence failures are logged
// and swallowed so the external trigger always sees a success-style
// acknowledgment. Session and credential operations keep strict error
// contracts elsewhere.
type LifecycleService struct {
	repo     ports.ShopRepository
	registry ports.ClientRegistry
	cipher   ports.TokenCipher
	metrics  *metrics.Metrics
	events   LifecycleEventPublisher
	logger   zerolog.Logger

	// Optional webhook-registration capability.
	registrar      ports.WebhookRegistrar
	webhookAddress string
}

// NewLifecycleService creates a lifecycle service without webhook
// registration.
func NewLifecycleService(
	repo ports.ShopRepository,
	registry ports.ClientRegistry,
	cipher ports.TokenCipher,
	m *metrics.Metrics,
	events LifecycleEventPublisher,
	logger zerolog.Logger,
) *LifecycleService {
	return &LifecycleService{
		repo:     repo,
		registry: registry,
		cipher:   cipher,
		metrics:  m,
		events:   events,
		logger:   logger,
	}
}

// NewLifecycleServiceWithWebhooks creates a lifecycle service that also
// registers webhookAddress on each freshly installed shop.
func NewLifecycleServiceWithWebhooks(
	repo ports.ShopRepository,
	registry ports.ClientRegistry,
	cipher ports.TokenCipher,
	m *metrics.Metrics,
	events LifecycleEventPublisher,
	logger zerolog.Logger,
	registrar ports.WebhookRegistrar,
	webhookAddress string,
) *LifecycleService {
	s := NewLifecycleService(repo, registry, cipher, m, events, logger)
	s.registrar = registrar
	s.webhookAddress = webhookAddress
	return s
}

// InstallShop runs the install workflow for a shop. The access token comes
// from the caller (OAuth callback) and is only persisted encrypted.
//
// State transitions: no row -> fresh install; row marked for deletion ->
// delete-then-reinstall; row present and live -> no-op (a merchant clicking
// install twice is harmless). Errors never surface to the caller.
func (s *LifecycleService) InstallShop(ctx context.Context, cookies CookieGetter, shopDomain string, scope string, accessToken string) {
	affiliate := affiliatePartner(cookies)
	if affiliate != nil {
		s.logger.Info().
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Str("recommendedBy", *affiliate).
			Msg("Shop was recommended by partner")
	}

	shop, err := s.repo.FindShop(ctx, shopDomain)
	if err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Failed to look up shop during install")
		s.countInstall("error")
		return
	}

	switch {
	case shop == nil:
		if s.loadMetadataAndPersistShop(ctx, shopDomain, accessToken, affiliate, scope, false) {
			s.countInstall("installed")
			s.publish(domain.LifecycleInstalled, shopDomain)
		} else {
			s.countInstall("error")
		}
	case shop.ToBeDeleted:
		s.deleteAndReinstallShop(ctx, shopDomain, accessToken, affiliate, scope)
	default:
		// Already installed and not deleted; nothing to do.
		s.countInstall("noop")
	}
}

// UninstallShop marks a shop for deletion and cancels its subscription.
// The row is purged later by the external retention process, per Shopify's
// 30-day recommendation.
//
// Both writes are dispatched without awaiting completion so the webhook
// acknowledgment stays fast; their errors go to the log sink only.
func (s *LifecycleService) UninstallShop(ctx context.Context, shopDomain string) {
	shop, err := s.repo.FindShop(ctx, shopDomain)
	if err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Failed to look up shop during uninstall")
		return
	}
	if shop == nil {
		// No entry found. Acknowledge and let the retention process clean
		// up whatever is left.
		return
	}

	s.logger.Info().
		Str("shop", shopDomain).
		Str("topic", installTopic).
		Msg("Mark shop to be deleted")

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.repo.SoftDeleteShop(bg, shopDomain); err != nil {
			s.logger.Error().Err(err).
				Str("shop", shopDomain).
				Str("topic", installTopic).
				Msg("Cannot mark shop deletion")
			return
		}
		s.logger.Info().
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Shop marked to be deleted")
	}()
	go func() {
		if err := s.repo.CancelSubscription(bg, shopDomain); err != nil {
			s.logger.Error().Err(err).
				Str("shop", shopDomain).
				Str("topic", installTopic).
				Msg("Cannot mark subscription deletion")
			return
		}
		s.logger.Info().
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Subscription marked to be deleted")
	}()

	s.metrics.Uninstalls.Inc()
	s.publish(domain.LifecycleUninstalled, shopDomain)
}

// IsShopActive reports whether a shop has an active subscription and is not
// marked for deletion. More than one active subscription is a
// misconfiguration: it is logged, and the shop is still treated as active.
func (s *LifecycleService) IsShopActive(ctx context.Context, shopDomain string) (bool, error) {
	shop, err := s.repo.FindShop(ctx, shopDomain)
	if err != nil {
		return false, fmt.Errorf("failed to check shop state: %w", err)
	}
	if shop == nil || shop.ToBeDeleted {
		return false, nil
	}

	count, err := s.repo.CountActiveSubscriptions(ctx, shopDomain)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription state: %w", err)
	}
	if count > 1 {
		s.logger.Error().
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Int64("activeSubscriptions", count).
			Msg("Shop misconfigured: more than one active subscription")
		return true, nil
	}
	return count == 1, nil
}

// ReactivateAfterRestart lists all active shops, decrypts each stored
// token and invokes callback per shop. A failure for one shop never aborts
// the remaining shops. Iteration order is unspecified.
func (s *LifecycleService) ReactivateAfterRestart(ctx context.Context, callback ReactivateCallback) {
	creds, err := s.repo.ListActiveShopCredentials(ctx)
	if err != nil {
		s.logger.Error().Err(err).
			Str("topic", installTopic).
			Msg("Failed to list active shops for reactivation")
		return
	}

	for _, cred := range creds {
		token, err := s.cipher.Decrypt(cred.AccessToken, cred.IV)
		if err != nil {
			s.logger.Error().Err(err).
				Str("shop", cred.Domain).
				Str("topic", installTopic).
				Msg("Cannot decrypt access token for reactivation")
			continue
		}
		s.runReactivateCallback(callback, cred.Domain, token)
		s.metrics.Reactivations.Inc()
		s.publish(domain.LifecycleReactivated, cred.Domain)
	}
}

// ClientForShop resolves a registry handle for a shop from its stored
// credential. Returns nil when the shop is unknown or has no token.
func (s *LifecycleService) ClientForShop(ctx context.Context, shopDomain string) (ports.ShopAPI, error) {
	shop, err := s.repo.FindShop(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to find shop: %w", err)
	}
	if shop == nil || shop.AccessToken == "" {
		return nil, nil
	}

	token, err := s.cipher.Decrypt(shop.AccessToken, shop.IV)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return s.registry.GetClient(shopDomain, token)
}

// deleteAndReinstallShop handles a shop that was soft-deleted and is now
// installing again: the old row is hard-deleted, then the fresh-install
// path runs. When the delete affects zero rows another writer got there
// first, and the insert is skipped.
func (s *LifecycleService) deleteAndReinstallShop(ctx context.Context, shopDomain string, accessToken string, affiliate *string, scope string) {
	s.logger.Info().
		Str("shop", shopDomain).
		Str("topic", installTopic).
		Msg("Deleting soft-deleted shop before reinstall")

	deleted, err := s.repo.DeleteShop(ctx, shopDomain)
	if err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Cannot delete shop")
		s.countInstall("error")
		return
	}
	if deleted == 0 {
		// Stale read: someone else already removed the row.
		s.logger.Warn().
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Delete affected no rows, skipping reinstall")
		s.countInstall("noop")
		return
	}

	if s.loadMetadataAndPersistShop(ctx, shopDomain, accessToken, affiliate, scope, true) {
		s.countInstall("reinstalled")
		s.publish(domain.LifecycleReinstalled, shopDomain)
	} else {
		s.countInstall("error")
	}
}

// loadMetadataAndPersistShop fetches remote shop metadata and inserts the
// shop row plus its subscription. A metadata-fetch failure aborts the whole
// install with no partial write.
func (s *LifecycleService) loadMetadataAndPersistShop(ctx context.Context, shopDomain string, accessToken string, affiliate *string, scope string, reinstall bool) bool {
	api, err := s.registry.GetClient(shopDomain, accessToken)
	if err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Cannot build API client")
		return false
	}
	if api == nil {
		s.logger.Error().
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Install without access token")
		return false
	}

	meta, err := api.GetShop(ctx)
	if err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Error during fetch shop data")
		return false
	}

	ciphertext, iv, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Cannot encrypt access token")
		return false
	}

	shop := &domain.Shop{
		ShopID:        meta.ID,
		Domain:        shopDomain,
		Country:       meta.Country,
		Currency:      meta.Currency,
		AccessToken:   ciphertext,
		IV:            iv,
		RecommendedBy: affiliate,
		CreatedAt:     time.Now(),
		Scope:         scope,
	}
	if err := s.repo.InsertShop(ctx, shop); err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Cannot persist shop")
		return false
	}
	s.logger.Info().
		Str("shop", shopDomain).
		Str("topic", installTopic).
		Int64("shopId", meta.ID).
		Msg("New shop added")

	s.saveFreePlan(ctx, shopDomain, reinstall)
	s.registerWebhooks(ctx, shopDomain, accessToken)
	return true
}

// saveFreePlan creates the free plan for a fresh shop. On reinstall a
// still-active subscription is reused instead of creating a second one.
func (s *LifecycleService) saveFreePlan(ctx context.Context, shopDomain string, reinstall bool) {
	if reinstall {
		activatedAt, err := s.repo.FindActivatedPlan(ctx, shopDomain)
		if err != nil {
			s.logger.Error().Err(err).
				Str("shop", shopDomain).
				Str("topic", installTopic).
				Msg("Cannot look up plan for reactivated shop")
			return
		}
		if activatedAt != nil {
			s.logger.Warn().
				Str("shop", shopDomain).
				Str("topic", installTopic).
				Time("activatedAt", *activatedAt).
				Msg("Plan already active")
			return
		}
		// Reactivated shop without a plan gets a fresh one.
	}

	if err := s.repo.InsertFreePlan(ctx, shopDomain); err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Cannot save free plan")
		return
	}
	s.logger.Info().
		Str("shop", shopDomain).
		Str("topic", installTopic).
		Msg("New plan added")
}

// registerWebhooks is the optional post-install capability.
func (s *LifecycleService) registerWebhooks(ctx context.Context, shopDomain string, accessToken string) {
	if s.registrar == nil {
		return
	}
	if err := s.registrar.Register(ctx, shopDomain, accessToken, s.webhookAddress, "app/uninstalled"); err != nil {
		s.logger.Error().Err(err).
			Str("shop", shopDomain).
			Str("topic", installTopic).
			Msg("Cannot register uninstall webhook")
	}
}

func (s *LifecycleService) runReactivateCallback(callback ReactivateCallback, shopDomain string, token string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("shop", shopDomain).
				Str("topic", installTopic).
				Interface("panic", r).
				Msg("Reactivation callback panicked")
		}
	}()
	callback(shopDomain, token)
}

func (s *LifecycleService) countInstall(result string) {
	s.metrics.Installs.WithLabelValues(result).Inc()
}

func (s *LifecycleService) publish(kind string, shopDomain string) {
	if s.events == nil {
		return
	}
	s.events.Publish(&domain.LifecycleEvent{
		Kind:       kind,
		ShopDomain: shopDomain,
		At:         time.Now(),
	})
}

// affiliatePartner extracts the affiliate tag from the request cookies.
// Some origins concatenate query params onto the cookie value; anything
// from the first '?' on is dropped.
func affiliatePartner(cookies CookieGetter) *string {
	if cookies == nil {
		return nil
	}
	tag := cookies(affiliateCookie)
	if i := strings.IndexByte(tag, '?'); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return nil
	}
	return &tag
}
