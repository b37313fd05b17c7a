package entity

import (
	"time"

	"shop-lifecycle-layer/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MongoShopDoc represents a shop row in MongoDB.
type MongoShopDoc struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	ShopID             int64              `bson:"shop_id"`
	Domain             string             `bson:"shop_domain"`
	Country            string             `bson:"shop_country"`
	Currency           string             `bson:"currency"`
	AccessToken        string             `bson:"access_token"`
	IV                 string             `bson:"iv"`
	RecommendedBy      *string            `bson:"recommended_by,omitempty"`
	CreatedAt          time.Time          `bson:"created_at"`
	Scope              string             `bson:"scope"`
	ToBeDeleted        bool               `bson:"to_be_deleted"`
	UninstallRequestAt *time.Time         `bson:"uninstall_request_at,omitempty"`
}

// ToDomain converts the MongoDB document to a domain entity.
func (d *MongoShopDoc) ToDomain() *domain.Shop {
	return &domain.Shop{
		ShopID:             d.ShopID,
		Domain:             d.Domain,
		Country:            d.Country,
		Currency:           d.Currency,
		AccessToken:        d.AccessToken,
		IV:                 d.IV,
		RecommendedBy:      d.RecommendedBy,
		CreatedAt:          d.CreatedAt,
		Scope:              d.Scope,
		ToBeDeleted:        d.ToBeDeleted,
		UninstallRequestAt: d.UninstallRequestAt,
	}
}

// MongoShopDocFromDomain converts a domain entity to a MongoDB document.
func MongoShopDocFromDomain(shop *domain.Shop) *MongoShopDoc {
	return &MongoShopDoc{
		ShopID:             shop.ShopID,
		Domain:             shop.Domain,
		Country:            shop.Country,
		Currency:           shop.Currency,
		AccessToken:        shop.AccessToken,
		IV:                 shop.IV,
		RecommendedBy:      shop.RecommendedBy,
		CreatedAt:          shop.CreatedAt,
		Scope:              shop.Scope,
		ToBeDeleted:        shop.ToBeDeleted,
		UninstallRequestAt: shop.UninstallRequestAt,
	}
}

// MongoSubscriptionDoc represents a subscription row in MongoDB.
type MongoSubscriptionDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ShopDomain  string             `bson:"shop_domain"`
	PlanID      int                `bson:"plan_id"`
	CreatedAt   time.Time          `bson:"created_at"`
	ActivatedAt *time.Time         `bson:"activated_at,omitempty"`
	CanceledAt  *time.Time         `bson:"canceled_at,omitempty"`
	ChargeID    string             `bson:"shopify_charge_id"`
}

// ToDomain converts the MongoDB document to a domain entity.
func (d *MongoSubscriptionDoc) ToDomain() *domain.Subscription {
	return &domain.Subscription{
		ShopDomain:  d.ShopDomain,
		PlanID:      d.PlanID,
		CreatedAt:   d.CreatedAt,
		ActivatedAt: d.ActivatedAt,
		CanceledAt:  d.CanceledAt,
		ChargeID:    d.ChargeID,
	}
}
