package ports

import (
	"context"
	"time"

	"shop-lifecycle-layer/internal/domain"
)

// ShopRepository is the persistence boundary for shop and subscription
// records. Each call is a single logical transaction against the store.
type ShopRepository interface {
	// FindShop returns the row for a shop domain, or nil when absent.
	FindShop(ctx context.Context, shopDomain string) (*domain.Shop, error)

	InsertShop(ctx context.Context, shop *domain.Shop) error

	// SoftDeleteShop sets to_be_deleted and stamps uninstall_request_at.
	// The row stays in place for the external retention purge.
	SoftDeleteShop(ctx context.Context, shopDomain string) error

	// DeleteShop hard-deletes the row and reports how many rows went away.
	// Used only on the reinstall-after-soft-delete path.
	DeleteShop(ctx context.Context, shopDomain string) (int64, error)

	// CancelSubscription stamps canceled_at on the shop's open subscriptions.
	CancelSubscription(ctx context.Context, shopDomain string) error

	// InsertFreePlan creates an auto-activated free-plan subscription with a
	// synthetic charge id.
	InsertFreePlan(ctx context.Context, shopDomain string) error

	// FindActivatedPlan returns the activation time of the shop's currently
	// active subscription, or nil when none is active.
	FindActivatedPlan(ctx context.Context, shopDomain string) (*time.Time, error)

	// CountActiveSubscriptions counts subscriptions with activated_at set
	// and canceled_at unset for the shop.
	CountActiveSubscriptions(ctx context.Context, shopDomain string) (int64, error)

	// ListActiveShopCredentials returns the encrypted credentials of every
	// active shop. Startup recovery only.
	ListActiveShopCredentials(ctx context.Context) ([]domain.ShopCredential, error)
}

// SessionStore is a generic key/value store with TTL semantics for OAuth
// session payloads.
type SessionStore interface {
	// Save upserts the session under its id, expiring it at expiresAt.
	// Reports whether a row was written.
	Save(ctx context.Context, sessionID string, session *domain.Session, expiresAt time.Time) (bool, error)

	// Get returns the session, or nil when missing or already expired.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the session and reports whether a row existed.
	Delete(ctx context.Context, sessionID string) (bool, error)
}
