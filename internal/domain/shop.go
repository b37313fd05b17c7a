package domain

import "time"

// FreePlanID is the default subscription tier every newly installed shop gets.
const FreePlanID = 1

// Shop represents a merchant's integration instance, identified by its
// stable shop domain. The access token is stored only in encrypted form,
// together with the iv used for that encryption.
type Shop struct {
	ShopID             int64      `json:"shop_id"`
	Domain             string     `json:"shop_domain"`
	Country            string     `json:"shop_country"`
	Currency           string     `json:"currency"`
	AccessToken        string     `json:"-"` // encrypted, hex
	IV                 string     `json:"-"`
	RecommendedBy      *string    `json:"recommended_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	Scope              string     `json:"scope"`
	ToBeDeleted        bool       `json:"to_be_deleted"`
	UninstallRequestAt *time.Time `json:"uninstall_request_at,omitempty"`
}

// Subscription is a plan record for a shop. A shop is active iff it has a
// subscription with activated_at set and canceled_at unset, and the shop
// row itself is not marked for deletion.
type Subscription struct {
	ShopDomain  string     `json:"shop_domain"`
	PlanID      int        `json:"plan_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	ChargeID    string     `json:"shopify_charge_id"`
}

// ShopMetadata is the subset of remote shop data the install flow persists.
type ShopMetadata struct {
	ID       int64
	Country  string
	Currency string
}

// ShopCredential pairs a shop domain with its stored encrypted token,
// as read back at process-start recovery.
type ShopCredential struct {
	Domain      string
	AccessToken string // encrypted, hex
	IV          string
}
