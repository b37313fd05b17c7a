package domain

import "time"

// WebhookEvent represents an inbound Shopify webhook delivery.
type WebhookEvent struct {
	Topic    string
	Shop     string
	Payload  []byte
	Verified bool
}

// Lifecycle event kinds published on the in-process bus.
const (
	LifecycleInstalled   = "installed"
	LifecycleReinstalled = "reinstalled"
	LifecycleUninstalled = "uninstalled"
	LifecycleReactivated = "reactivated"
)

// LifecycleEvent is emitted whenever a shop changes lifecycle state.
type LifecycleEvent struct {
	Kind       string
	ShopDomain string
	At         time.Time
}
