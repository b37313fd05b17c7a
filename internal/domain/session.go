package domain

import "time"

// Session is the opaque payload persisted per OAuth session. The layer
// stores and returns it verbatim; only Expires is inspected, to derive the
// row's TTL.
type Session struct {
	ID               string         `json:"id"`
	Shop             string         `json:"shop"`
	State            string         `json:"state"`
	Scope            string         `json:"scope"`
	IsOnline         bool           `json:"isOnline"`
	AccessToken      string         `json:"accessToken"`
	Expires          *time.Time     `json:"expires,omitempty"`
	OnlineAccessInfo map[string]any `json:"onlineAccessInfo,omitempty"`
}
