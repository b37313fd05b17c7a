package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"shop-lifecycle-layer/internal/domain"
	"shop-lifecycle-layer/internal/infrastructure/encryption"
	"shop-lifecycle-layer/internal/infrastructure/metrics"
	"shop-lifecycle-layer/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lifecycleTestKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type fakeShopRepo struct {
	mu    sync.Mutex
	shops map[string]*domain.Shop
	subs  []*domain.Subscription

	findErr       error
	insertErr     error
	deleteErr     error
	forceDeleted  *int64
	softDeleteErr error
}

func newFakeShopRepo() *fakeShopRepo {
	return &fakeShopRepo{shops: make(map[string]*domain.Shop)}
}

func (r *fakeShopRepo) FindShop(_ context.Context, shopDomain string) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	shop, ok := r.shops[shopDomain]
	if !ok {
		return nil, nil
	}
	copied := *shop
	return &copied, nil
}

func (r *fakeShopRepo) InsertShop(_ context.Context, shop *domain.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.shops[shop.Domain]; ok {
		return errors.New("duplicate key")
	}
	copied := *shop
	r.shops[shop.Domain] = &copied
	return nil
}

func (r *fakeShopRepo) SoftDeleteShop(_ context.Context, shopDomain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.softDeleteErr != nil {
		return r.softDeleteErr
	}
	shop, ok := r.shops[shopDomain]
	if !ok {
		return errors.New("shop not found")
	}
	now := time.Now()
	shop.ToBeDeleted = true
	shop.UninstallRequestAt = &now
	return nil
}

func (r *fakeShopRepo) DeleteShop(_ context.Context, shopDomain string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	if r.forceDeleted != nil {
		return *r.forceDeleted, nil
	}
	if _, ok := r.shops[shopDomain]; !ok {
		return 0, nil
	}
	delete(r.shops, shopDomain)
	return 1, nil
}

func (r *fakeShopRepo) CancelSubscription(_ context.Context, shopDomain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, sub := range r.subs {
		if sub.ShopDomain == shopDomain && sub.ActivatedAt != nil && sub.CanceledAt == nil {
			canceled := now
			sub.CanceledAt = &canceled
		}
	}
	return nil
}

func (r *fakeShopRepo) InsertFreePlan(_ context.Context, shopDomain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.subs = append(r.subs, &domain.Subscription{
		ShopDomain:  shopDomain,
		PlanID:      domain.FreePlanID,
		CreatedAt:   now,
		ActivatedAt: &now,
		ChargeID:    fmt.Sprintf("internal_%d", now.UnixMilli()),
	})
	return nil
}

func (r *fakeShopRepo) FindActivatedPlan(_ context.Context, shopDomain string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ShopDomain == shopDomain && sub.ActivatedAt != nil && sub.CanceledAt == nil {
			activated := *sub.ActivatedAt
			return &activated, nil
		}
	}
	return nil, nil
}

func (r *fakeShopRepo) CountActiveSubscriptions(_ context.Context, shopDomain string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, sub := range r.subs {
		if sub.ShopDomain == shopDomain && sub.ActivatedAt != nil && sub.CanceledAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *fakeShopRepo) ListActiveShopCredentials(_ context.Context) ([]domain.ShopCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var creds []domain.ShopCredential
	for _, shop := range r.shops {
		if shop.ToBeDeleted {
			continue
		}
		active := false
		for _, sub := range r.subs {
			if sub.ShopDomain == shop.Domain && sub.ActivatedAt != nil && sub.CanceledAt == nil {
				active = true
				break
			}
		}
		if active {
			creds = append(creds, domain.ShopCredential{
				Domain:      shop.Domain,
				AccessToken: shop.AccessToken,
				IV:          shop.IV,
			})
		}
	}
	return creds, nil
}

func (r *fakeShopRepo) shopSnapshot(shopDomain string) *domain.Shop {
	r.mu.Lock()
	defer r.mu.Unlock()
	shop, ok := r.shops[shopDomain]
	if !ok {
		return nil
	}
	copied := *shop
	return &copied
}

func (r *fakeShopRepo) subscriptionsFor(shopDomain string) []domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range r.subs {
		if sub.ShopDomain == shopDomain {
			out = append(out, *sub)
		}
	}
	return out
}

type fakeMetadataAPI struct {
	meta *domain.ShopMetadata
	err  error
}

func (f *fakeMetadataAPI) GetShop(context.Context) (*domain.ShopMetadata, error) {
	return f.meta, f.err
}

func (f *fakeMetadataAPI) CreateWebhook(context.Context, string, string) error {
	return nil
}

type fakeRegistry struct {
	api    ports.ShopAPI
	err    error
	tokens []string
}

func (f *fakeRegistry) GetClient(_ string, accessToken string) (ports.ShopAPI, error) {
	if accessToken == "" {
		return nil, nil
	}
	f.tokens = append(f.tokens, accessToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.api, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (p *recordingPublisher) Publish(event *domain.LifecycleEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeRegistrar struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (f *fakeRegistrar) Register(_ context.Context, _, _, _, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}

func newLifecycleTestService(t *testing.T, repo ports.ShopRepository, registry ports.ClientRegistry) (*LifecycleService, *recordingPublisher) {
	t.Helper()
	cipher, err := encryption.NewService(lifecycleTestKey)
	require.NoError(t, err)
	publisher := &recordingPublisher{}
	service := NewLifecycleService(
		repo,
		registry,
		cipher,
		metrics.NewWithRegisterer(prometheus.NewRegistry()),
		publisher,
		zerolog.Nop(),
	)
	return service, publisher
}

func cookieJar(values map[string]string) CookieGetter {
	return func(name string) string {
		return values[name]
	}
}

func TestInstallShopFreshInstall(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 4242, Country: "DE", Currency: "EUR"}}}
	service, publisher := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")

	shop := repo.shopSnapshot("alpha.myshopify.com")
	require.NotNil(t, shop)
	assert.Equal(t, int64(4242), shop.ShopID)
	assert.Equal(t, "DE", shop.Country)
	assert.Equal(t, "EUR", shop.Currency)
	assert.Equal(t, "read_orders", shop.Scope)
	assert.False(t, shop.ToBeDeleted)
	assert.Nil(t, shop.RecommendedBy)

	// Token is stored encrypted, never in the clear.
	assert.NotEqual(t, "token-1", shop.AccessToken)
	cipher, err := encryption.NewService(lifecycleTestKey)
	require.NoError(t, err)
	token, err := cipher.Decrypt(shop.AccessToken, shop.IV)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	subs := repo.subscriptionsFor("alpha.myshopify.com")
	require.Len(t, subs, 1)
	assert.Equal(t, domain.FreePlanID, subs[0].PlanID)
	assert.True(t, strings.HasPrefix(subs[0].ChargeID, "internal_"))
	require.NotNil(t, subs[0].ActivatedAt)
	assert.Nil(t, subs[0].CanceledAt)

	active, err := service.IsShopActive(context.Background(), "alpha.myshopify.com")
	require.NoError(t, err)
	assert.True(t, active)

	assert.Equal(t, []string{domain.LifecycleInstalled}, publisher.kinds())
}

func TestInstallShopDuplicateIsNoop(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, publisher := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")
	first := repo.shopSnapshot("alpha.myshopify.com")
	require.NotNil(t, first)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")

	second := repo.shopSnapshot("alpha.myshopify.com")
	assert.Equal(t, first, second)
	assert.Len(t, repo.subscriptionsFor("alpha.myshopify.com"), 1)
	assert.Equal(t, []string{domain.LifecycleInstalled}, publisher.kinds())
}

func TestInstallShopMetadataFetchFailureLeavesNoRow(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{err: errors.New("upstream 503")}}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")

	assert.Nil(t, repo.shopSnapshot("alpha.myshopify.com"))
	assert.Empty(t, repo.subscriptionsFor("alpha.myshopify.com"))
}

func TestInstallShopWithoutTokenLeavesNoRow(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "")

	assert.Nil(t, repo.shopSnapshot("alpha.myshopify.com"))
}

func TestInstallShopRecordsAffiliateTag(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		want   *string
	}{
		{name: "plain tag", cookie: "partner-7", want: ptr("partner-7")},
		{name: "query params stripped", cookie: "partner-7?utm_source=ad", want: ptr("partner-7")},
		{name: "only query params", cookie: "?utm_source=ad", want: nil},
		{name: "empty cookie", cookie: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeShopRepo()
			registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
			service, _ := newLifecycleTestService(t, repo, registry)

			service.InstallShop(context.Background(), cookieJar(map[string]string{"_sthx": tt.cookie}), "alpha.myshopify.com", "read_orders", "token-1")

			shop := repo.shopSnapshot("alpha.myshopify.com")
			require.NotNil(t, shop)
			if tt.want == nil {
				assert.Nil(t, shop.RecommendedBy)
			} else {
				require.NotNil(t, shop.RecommendedBy)
				assert.Equal(t, *tt.want, *shop.RecommendedBy)
			}
		})
	}
}

func TestInstallShopRegistersUninstallWebhook(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	cipher, err := encryption.NewService(lifecycleTestKey)
	require.NoError(t, err)
	registrar := &fakeRegistrar{}
	service := NewLifecycleServiceWithWebhooks(
		repo,
		registry,
		cipher,
		metrics.NewWithRegisterer(prometheus.NewRegistry()),
		nil,
		zerolog.Nop(),
		registrar,
		"https://app.example.com/webhooks/shopify",
	)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")

	assert.Equal(t, []string{"app/uninstalled"}, registrar.topics)
}

func TestUninstallShopMarksAndCancels(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, publisher := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")
	service.UninstallShop(context.Background(), "alpha.myshopify.com")

	require.Eventually(t, func() bool {
		shop := repo.shopSnapshot("alpha.myshopify.com")
		if shop == nil || !shop.ToBeDeleted || shop.UninstallRequestAt == nil {
			return false
		}
		subs := repo.subscriptionsFor("alpha.myshopify.com")
		return len(subs) == 1 && subs[0].CanceledAt != nil
	}, time.Second, 10*time.Millisecond)

	// Row survives until the retention process purges it.
	assert.NotNil(t, repo.shopSnapshot("alpha.myshopify.com"))

	active, err := service.IsShopActive(context.Background(), "alpha.myshopify.com")
	require.NoError(t, err)
	assert.False(t, active)

	assert.Equal(t, []string{domain.LifecycleInstalled, domain.LifecycleUninstalled}, publisher.kinds())
}

func TestUninstallShopUnknownDomainIsNoop(t *testing.T) {
	repo := newFakeShopRepo()
	service, publisher := newLifecycleTestService(t, repo, &fakeRegistry{})

	service.UninstallShop(context.Background(), "ghost.myshopify.com")

	assert.Empty(t, publisher.kinds())
	assert.Nil(t, repo.shopSnapshot("ghost.myshopify.com"))
}

func TestReinstallCreatesFreshIdentity(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 9001, Country: "US", Currency: "USD"}}}
	service, publisher := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-old")
	service.UninstallShop(context.Background(), "alpha.myshopify.com")
	require.Eventually(t, func() bool {
		shop := repo.shopSnapshot("alpha.myshopify.com")
		subs := repo.subscriptionsFor("alpha.myshopify.com")
		return shop != nil && shop.ToBeDeleted && len(subs) == 1 && subs[0].CanceledAt != nil
	}, time.Second, 10*time.Millisecond)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "write_orders", "token-new")

	shop := repo.shopSnapshot("alpha.myshopify.com")
	require.NotNil(t, shop)
	assert.False(t, shop.ToBeDeleted)
	assert.Nil(t, shop.UninstallRequestAt)
	assert.Equal(t, "write_orders", shop.Scope)

	cipher, err := encryption.NewService(lifecycleTestKey)
	require.NoError(t, err)
	token, err := cipher.Decrypt(shop.AccessToken, shop.IV)
	require.NoError(t, err)
	assert.Equal(t, "token-new", token)

	// The canceled plan stays as history; the reinstall gets a new one.
	subs := repo.subscriptionsFor("alpha.myshopify.com")
	require.Len(t, subs, 2)

	active, err := service.IsShopActive(context.Background(), "alpha.myshopify.com")
	require.NoError(t, err)
	assert.True(t, active)

	assert.Equal(t, []string{
		domain.LifecycleInstalled,
		domain.LifecycleUninstalled,
		domain.LifecycleReinstalled,
	}, publisher.kinds())
}

func TestReinstallReusesActivePlan(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")

	// Mark for deletion without the subscription cancellation landing yet.
	require.NoError(t, repo.SoftDeleteShop(context.Background(), "alpha.myshopify.com"))

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-2")

	assert.Len(t, repo.subscriptionsFor("alpha.myshopify.com"), 1)
}

func TestReinstallSkipsInsertWhenDeleteRaces(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, publisher := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")
	require.NoError(t, repo.SoftDeleteShop(context.Background(), "alpha.myshopify.com"))

	// Another writer already removed the row between read and delete.
	var zero int64
	repo.forceDeleted = &zero

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-2")

	shop := repo.shopSnapshot("alpha.myshopify.com")
	require.NotNil(t, shop)
	assert.True(t, shop.ToBeDeleted)
	assert.NotContains(t, publisher.kinds(), domain.LifecycleReinstalled)
}

func TestIsShopActiveWithMultipleSubscriptions(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")
	require.NoError(t, repo.InsertFreePlan(context.Background(), "alpha.myshopify.com"))

	// Misconfigured, but still treated as active.
	active, err := service.IsShopActive(context.Background(), "alpha.myshopify.com")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestIsShopActiveUnknownShop(t *testing.T) {
	repo := newFakeShopRepo()
	service, _ := newLifecycleTestService(t, repo, &fakeRegistry{})

	active, err := service.IsShopActive(context.Background(), "ghost.myshopify.com")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestReactivateAfterRestartIsolatesFailures(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-a")
	service.InstallShop(context.Background(), nil, "beta.myshopify.com", "read_orders", "token-b")
	service.InstallShop(context.Background(), nil, "gamma.myshopify.com", "read_orders", "token-c")

	// Corrupt one stored credential; the other shops must still come up.
	repo.mu.Lock()
	repo.shops["beta.myshopify.com"].IV = "00"
	repo.mu.Unlock()

	var mu sync.Mutex
	seen := map[string]string{}
	service.ReactivateAfterRestart(context.Background(), func(shopDomain, accessToken string) {
		mu.Lock()
		seen[shopDomain] = accessToken
		mu.Unlock()
		if shopDomain == "alpha.myshopify.com" {
			panic("subscriber exploded")
		}
	})

	assert.Equal(t, map[string]string{
		"alpha.myshopify.com": "token-a",
		"gamma.myshopify.com": "token-c",
	}, seen)
}

func TestClientForShop(t *testing.T) {
	repo := newFakeShopRepo()
	api := &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}
	registry := &fakeRegistry{api: api}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")

	client, err := service.ClientForShop(context.Background(), "alpha.myshopify.com")
	require.NoError(t, err)
	assert.Same(t, ports.ShopAPI(api), client)

	// The registry sees the decrypted token, not the stored ciphertext.
	assert.Equal(t, "token-1", registry.tokens[len(registry.tokens)-1])

	client, err = service.ClientForShop(context.Background(), "ghost.myshopify.com")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestClientForShopCorruptedCredential(t *testing.T) {
	repo := newFakeShopRepo()
	registry := &fakeRegistry{api: &fakeMetadataAPI{meta: &domain.ShopMetadata{ID: 1}}}
	service, _ := newLifecycleTestService(t, repo, registry)

	service.InstallShop(context.Background(), nil, "alpha.myshopify.com", "read_orders", "token-1")
	repo.mu.Lock()
	repo.shops["alpha.myshopify.com"].IV = "00"
	repo.mu.Unlock()

	client, err := service.ClientForShop(context.Background(), "alpha.myshopify.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, encryption.ErrDecrypt)
	assert.Nil(t, client)
}

func ptr(s string) *string {
	return &s
}
