package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement/entitlementtest"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/session"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *entitlement.Catalog {
	t.Helper()
	c, err := entitlement.NewCatalog(
		entitlement.CatalogEntry{ID: "sub.monthly", Kind: entitlement.KindAutoRenewable},
		entitlement.CatalogEntry{ID: "removeads", Kind: entitlement.KindNonConsumable},
		entitlement.CatalogEntry{ID: "coins.100", Kind: entitlement.KindConsumable},
	)
	require.NoError(t, err)
	return c
}

type serviceFixture struct {
	svc       *EntitlementService
	feed      *entitlementtest.FeedMock
	store     *entitlementtest.StoreMock
	presenter *session.Presenter
	metrics   *metrics.Entitlements
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	feed := &entitlementtest.FeedMock{}
	store := &entitlementtest.StoreMock{}
	presenter := session.NewPresenter()
	m := metrics.NewEntitlements(nil)
	rec := entitlement.NewReconciler(feed, testCatalog(t), entitlement.WithClock(func() time.Time { return fixedNow }))

	t.Cleanup(func() {
		feed.AssertExpectations(t)
		store.AssertExpectations(t)
	})
	return &serviceFixture{
		svc:       NewEntitlementService(store, feed, rec, presenter, m, discardLogger()),
		feed:      feed,
		store:     store,
		presenter: presenter,
		metrics:   m,
	}
}

func (f *serviceFixture) count(result string) float64 {
	return testutil.ToFloat64(f.metrics.Updates.WithLabelValues(result))
}

// finishCounter records how an update was acknowledged.
type finishCounter struct {
	n         atomic.Int32
	requeued  atomic.Int32
	discarded atomic.Int32
}

func (c *finishCounter) attach(u entitlement.Update) entitlement.Update {
	return u.WithFinisher(func(context.Context) error {
		c.n.Add(1)
		return nil
	}).WithReleaser(func(_ context.Context, requeue bool) error {
		if requeue {
			c.requeued.Add(1)
		} else {
			c.discarded.Add(1)
		}
		return nil
	})
}

func verifiedUpdate(productID string) entitlement.Update {
	return entitlement.Update{
		ID:      "evt-" + productID,
		UserID:  "u1",
		Outcome: entitlement.Verified(entitlement.Transaction{ID: "tx-" + productID, ProductID: productID}),
	}
}

func TestProcessUpdate_WritesThenFinishes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	current := entitlement.NewProfile("u1", fixedNow)

	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()
	f.store.On("Update", mock.Anything, mock.MatchedBy(func(p entitlement.Profile) bool {
		return p.HasPurchased("removeads")
	})).Return(nil).Once()

	states, cancel := f.presenter.Subscribe("u1")
	defer cancel()

	var fin finishCounter
	require.NoError(t, f.svc.ProcessUpdate(ctx, fin.attach(verifiedUpdate("removeads"))))

	assert.EqualValues(t, 1, fin.n.Load())
	assert.Equal(t, 1.0, f.count(metrics.ResultApplied))

	select {
	case s := <-states:
		assert.True(t, s.Authenticated)
		assert.True(t, s.Profile.HasPurchased("removeads"))
	default:
		t.Fatal("no session state published")
	}
}

func TestProcessUpdate_NoWriteWhenUnchanged(t *testing.T) {
	f := newServiceFixture(t)
	current := entitlement.NewProfile("u1", fixedNow).WithPurchase("removeads")
	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()

	var fin finishCounter
	require.NoError(t, f.svc.ProcessUpdate(context.Background(), fin.attach(verifiedUpdate("removeads"))))

	f.store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	assert.EqualValues(t, 1, fin.n.Load())
	assert.Equal(t, 1.0, f.count(metrics.ResultUnchanged))
	_, published := f.presenter.Current("u1")
	assert.False(t, published)
}

func TestProcessUpdate_WriteFailureLeavesUnfinished(t *testing.T) {
	f := newServiceFixture(t)
	current := entitlement.NewProfile("u1", fixedNow)
	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()
	f.store.On("Update", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

	var fin finishCounter
	err := f.svc.ProcessUpdate(context.Background(), fin.attach(verifiedUpdate("removeads")))

	require.Error(t, err)
	assert.Zero(t, fin.n.Load())
	assert.EqualValues(t, 1, fin.requeued.Load())
	assert.Zero(t, fin.discarded.Load())
	assert.Equal(t, 1.0, f.count(metrics.ResultFailed))
}

func TestProcessUpdate_DiscardsUpdatesThatCannotApply(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "missing profile", err: entitlement.ErrProfileNotFound},
		{name: "schema mismatch", err: fmt.Errorf("%w: user %q", identity.ErrMapping, "u1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			f.store.On("GetByID", mock.Anything, "u1").Return(nil, tt.err).Once()

			var fin finishCounter
			require.NoError(t, f.svc.ProcessUpdate(context.Background(), fin.attach(verifiedUpdate("removeads"))))

			assert.Zero(t, fin.n.Load())
			assert.Zero(t, fin.requeued.Load())
			assert.EqualValues(t, 1, fin.discarded.Load())
			assert.Equal(t, 1.0, f.count(metrics.ResultDropped))
			f.store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessUpdate_SkipsWithoutStoreAccess(t *testing.T) {
	tests := []struct {
		name    string
		outcome entitlement.Outcome
	}{
		{name: "unverified", outcome: entitlement.Unverified(entitlement.Transaction{ProductID: "removeads"}, "bad signature")},
		{name: "cancelled", outcome: entitlement.Cancelled()},
		{name: "pending", outcome: entitlement.Pending("ask to buy")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)

			var fin finishCounter
			u := fin.attach(entitlement.Update{ID: "evt", UserID: "u1", Outcome: tt.outcome})
			require.NoError(t, f.svc.ProcessUpdate(context.Background(), u))

			f.store.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
			assert.EqualValues(t, 1, fin.n.Load())
			assert.Equal(t, 1.0, f.count(metrics.ResultSkipped))
		})
	}
}

func TestProcessUpdate_ResyncClearsLapsedSubscription(t *testing.T) {
	f := newServiceFixture(t)
	expired := fixedNow.Add(-time.Hour)
	current := entitlement.NewProfile("u1", fixedNow).WithPurchase("sub.monthly").WithSubscription(expired)

	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()
	f.feed.On("ActiveEntitlements", mock.Anything, "u1").Return([]entitlement.Outcome{}, nil).Once()
	f.feed.On("SubscriptionStatus", mock.Anything, "u1", "sub.monthly").
		Return(entitlement.SubscriptionStatus{Active: false, Expiry: expired}, nil).Once()
	f.store.On("Update", mock.Anything, mock.MatchedBy(func(p entitlement.Profile) bool {
		return !p.Subscribed && p.SubscriptionExpiry == nil && p.HasPurchased("sub.monthly")
	})).Return(nil).Once()

	var fin finishCounter
	u := fin.attach(entitlement.Update{ID: "evt-exp", UserID: "u1", Resync: true})
	require.NoError(t, f.svc.ProcessUpdate(context.Background(), u))
	assert.EqualValues(t, 1, fin.n.Load())
}

func TestProcessUpdate_ResyncFeedFailure(t *testing.T) {
	f := newServiceFixture(t)
	current := entitlement.NewProfile("u1", fixedNow)
	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()
	f.feed.On("ActiveEntitlements", mock.Anything, "u1").Return(nil, errors.New("timeout")).Once()

	var fin finishCounter
	err := f.svc.ProcessUpdate(context.Background(), fin.attach(entitlement.Update{ID: "evt", UserID: "u1", Resync: true}))

	require.ErrorIs(t, err, entitlement.ErrFeedUnavailable)
	assert.Zero(t, fin.n.Load())
	assert.EqualValues(t, 1, fin.requeued.Load())
	f.store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestPurchase_VerifiedSubscription(t *testing.T) {
	f := newServiceFixture(t)
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	current := entitlement.NewProfile("u1", fixedNow)
	req := entitlement.PurchaseRequest{UserID: "u1", ProductID: "sub.monthly", FetchToken: "r", Result: entitlement.PurchaseSuccess}

	f.feed.On("Purchase", mock.Anything, req).
		Return(entitlement.Verified(entitlement.Transaction{ID: "t1", ProductID: "sub.monthly", ExpiresAt: &expiry}), nil).Once()
	f.feed.On("SubscriptionStatus", mock.Anything, "u1", "sub.monthly").
		Return(entitlement.SubscriptionStatus{Active: true, Expiry: expiry}, nil).Once()
	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()
	f.store.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

	outcome, p, err := f.svc.Purchase(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, entitlement.OutcomeVerified, outcome.Kind)
	assert.True(t, p.Subscribed)
	assert.True(t, p.SubscriptionExpiry.Equal(expiry))
	assert.True(t, p.HasPurchased("sub.monthly"))
}

func TestPurchase_CancelledReturnsCurrentProfile(t *testing.T) {
	f := newServiceFixture(t)
	current := entitlement.NewProfile("u1", fixedNow).WithPurchase("coins.100")
	req := entitlement.PurchaseRequest{UserID: "u1", ProductID: "removeads", Result: entitlement.PurchaseCancelled}

	f.feed.On("Purchase", mock.Anything, req).Return(entitlement.Cancelled(), nil).Once()
	f.store.On("GetByID", mock.Anything, "u1").Return(&current, nil).Once()

	outcome, p, err := f.svc.Purchase(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, entitlement.OutcomeCancelled, outcome.Kind)
	assert.True(t, p.Equal(current))
	f.store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestPurchase_FeedError(t *testing.T) {
	f := newServiceFixture(t)
	req := entitlement.PurchaseRequest{UserID: "u1", ProductID: "removeads", Result: entitlement.PurchaseSuccess}
	f.feed.On("Purchase", mock.Anything, req).Return(entitlement.Outcome{}, errors.New("502")).Once()

	_, _, err := f.svc.Purchase(context.Background(), req)
	require.ErrorIs(t, err, entitlement.ErrFeedUnavailable)
}

func TestRestore_ProfileNotFound(t *testing.T) {
	f := newServiceFixture(t)
	f.store.On("GetByID", mock.Anything, "ghost").Return(nil, entitlement.ErrProfileNotFound).Once()

	_, err := f.svc.Restore(context.Background(), "ghost")
	require.ErrorIs(t, err, entitlement.ErrProfileNotFound)
}

// memStore widens the read-modify-write window to expose lost updates.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]entitlement.Profile
	delay    time.Duration
}

func (s *memStore) GetByID(_ context.Context, id string) (*entitlement.Profile, error) {
	s.mu.Lock()
	p, ok := s.profiles[id]
	s.mu.Unlock()
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}
	time.Sleep(s.delay)
	c := p.Clone()
	return &c, nil
}

func (s *memStore) Insert(_ context.Context, p entitlement.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *memStore) Update(_ context.Context, p entitlement.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
	return nil
}

func TestProcessUpdate_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	store := &memStore{profiles: map[string]entitlement.Profile{"u1": entitlement.NewProfile("u1", fixedNow)}, delay: 5 * time.Millisecond}
	feed := &entitlementtest.FeedMock{}
	rec := entitlement.NewReconciler(feed, testCatalog(t), entitlement.WithClock(func() time.Time { return fixedNow }))
	svc := NewEntitlementService(store, feed, rec, session.NewPresenter(), metrics.NewEntitlements(nil), discardLogger())

	products := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, id := range products {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, svc.ProcessUpdate(context.Background(), verifiedUpdate(id)))
		}(id)
	}
	wg.Wait()

	final, err := store.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, products, final.PurchasedProducts.Sorted())
}
