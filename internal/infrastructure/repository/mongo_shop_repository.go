package repository

import (
	"context"
	"fmt"
	"time"

	"shop-lifecycle-layer/internal/domain"
	"shop-lifecycle-layer/internal/infrastructure/repository/entity"
	"shop-lifecycle-layer/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// activeSubscriptionFilter matches subscriptions with activated_at set and
// canceled_at unset, the subscription half of the "shop is active" join.
func activeSubscriptionFilter(shopDomain string) bson.M {
	return bson.M{
		"shop_domain":  shopDomain,
		"activated_at": bson.M{"$ne": nil},
		"canceled_at":  nil,
	}
}

// MongoShopRepository implements ShopRepository using MongoDB.
type MongoShopRepository struct {
	shopsCollection         *mongo.Collection
	subscriptionsCollection *mongo.Collection
}

// NewMongoShopRepository creates a new MongoDB shop repository. A unique
// index on shop_domain turns the concurrent-first-install race into a
// duplicate-key insert error on the losing writer.
func NewMongoShopRepository(db *mongo.Database) ports.ShopRepository {
	r := &MongoShopRepository{
		shopsCollection:         db.Collection("shops"),
		subscriptionsCollection: db.Collection("subscriptions"),
	}

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "shop_domain", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, _ = r.shopsCollection.Indexes().CreateOne(context.Background(), indexModel)

	return r
}

// FindShop retrieves a shop by domain, or nil when no row exists.
func (r *MongoShopRepository) FindShop(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	var doc entity.MongoShopDoc
	filter := bson.M{"shop_domain": shopDomain}

	err := r.shopsCollection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find shop: %w", err)
	}

	return doc.ToDomain(), nil
}

// InsertShop inserts a new shop row.
func (r *MongoShopRepository) InsertShop(ctx context.Context, shop *domain.Shop) error {
	doc := entity.MongoShopDocFromDomain(shop)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	if _, err := r.shopsCollection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert shop: %w", err)
	}
	return nil
}

// SoftDeleteShop marks the shop for deletion and stamps the request time.
// The row itself is purged later by the external retention process.
func (r *MongoShopRepository) SoftDeleteShop(ctx context.Context, shopDomain string) error {
	update := bson.M{"$set": bson.M{
		"to_be_deleted":        true,
		"uninstall_request_at": time.Now(),
	}}

	result, err := r.shopsCollection.UpdateOne(ctx, bson.M{"shop_domain": shopDomain}, update)
	if err != nil {
		return fmt.Errorf("failed to mark shop deletion: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("shop not found: %s", shopDomain)
	}
	return nil
}

// DeleteShop hard-deletes the shop row and returns the number of rows
// removed.
func (r *MongoShopRepository) DeleteShop(ctx context.Context, shopDomain string) (int64, error) {
	result, err := r.shopsCollection.DeleteOne(ctx, bson.M{"shop_domain": shopDomain})
	if err != nil {
		return 0, fmt.Errorf("failed to delete shop: %w", err)
	}
	return result.DeletedCount, nil
}

// CancelSubscription stamps canceled_at on the shop's open subscriptions.
func (r *MongoShopRepository) CancelSubscription(ctx context.Context, shopDomain string) error {
	filter := bson.M{
		"shop_domain": shopDomain,
		"canceled_at": nil,
	}
	update := bson.M{"$set": bson.M{"canceled_at": time.Now()}}

	if _, err := r.subscriptionsCollection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to mark subscription deletion: %w", err)
	}
	return nil
}

// InsertFreePlan creates an auto-activated free-plan subscription for the
// shop with a synthetic charge id.
func (r *MongoShopRepository) InsertFreePlan(ctx context.Context, shopDomain string) error {
	now := time.Now()
	doc := entity.MongoSubscriptionDoc{
		ShopDomain:  shopDomain,
		PlanID:      domain.FreePlanID,
		CreatedAt:   now,
		ActivatedAt: &now,
		ChargeID:    fmt.Sprintf("internal_%d", now.UnixMilli()),
	}

	if _, err := r.subscriptionsCollection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert free plan: %w", err)
	}
	return nil
}

// FindActivatedPlan returns the activation timestamp of the shop's active
// subscription, or nil when none is active.
func (r *MongoShopRepository) FindActivatedPlan(ctx context.Context, shopDomain string) (*time.Time, error) {
	var doc entity.MongoSubscriptionDoc
	err := r.subscriptionsCollection.FindOne(ctx, activeSubscriptionFilter(shopDomain)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find activated plan: %w", err)
	}
	return doc.ToDomain().ActivatedAt, nil
}

// CountActiveSubscriptions counts the shop's active subscription rows.
func (r *MongoShopRepository) CountActiveSubscriptions(ctx context.Context, shopDomain string) (int64, error) {
	count, err := r.subscriptionsCollection.CountDocuments(ctx, activeSubscriptionFilter(shopDomain))
	if err != nil {
		return 0, fmt.Errorf("failed to count active subscriptions: %w", err)
	}
	return count, nil
}

// ListActiveShopCredentials joins shops against their active subscriptions
// and returns the stored encrypted credentials. Used only at process-start
// recovery.
func (r *MongoShopRepository) ListActiveShopCredentials(ctx context.Context) ([]domain.ShopCredential, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"to_be_deleted": false}}},
		{{Key: "$lookup", Value: bson.M{
			"from": "subscriptions",
			"let":  bson.M{"shop_domain": "$shop_domain"},
			"pipeline": mongo.Pipeline{
				{{Key: "$match", Value: bson.M{
					"$expr":        bson.M{"$eq": bson.A{"$shop_domain", "$$shop_domain"}},
					"activated_at": bson.M{"$ne": nil},
					"canceled_at":  nil,
				}}},
			},
			"as": "active_subscriptions",
		}}},
		{{Key: "$match", Value: bson.M{"active_subscriptions": bson.M{"$ne": bson.A{}}}}},
		{{Key: "$project", Value: bson.M{"shop_domain": 1, "access_token": 1, "iv": 1}}},
	}

	cursor, err := r.shopsCollection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list active shops: %w", err)
	}
	defer cursor.Close(ctx)

	var creds []domain.ShopCredential
	for cursor.Next(ctx) {
		var doc struct {
			Domain      string `bson:"shop_domain"`
			AccessToken string `bson:"access_token"`
			IV          string `bson:"iv"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode shop credentials: %w", err)
		}
		creds = append(creds, domain.ShopCredential{
			Domain:      doc.Domain,
			AccessToken: doc.AccessToken,
			IV:          doc.IV,
		})
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return creds, nil
}
