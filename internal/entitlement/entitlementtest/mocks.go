// Package entitlementtest provides testify mocks of the entitlement collaborators.
package entitlementtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

type FeedMock struct{ mock.Mock }

func (m *FeedMock) Catalog(ctx context.Context, ids []string) ([]entitlement.CatalogEntry, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entitlement.CatalogEntry), args.Error(1)
}

func (m *FeedMock) Purchase(ctx context.Context, req entitlement.PurchaseRequest) (entitlement.Outcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(entitlement.Outcome), args.Error(1)
}

func (m *FeedMock) TransactionUpdates(ctx context.Context) (<-chan entitlement.Update, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan entitlement.Update), args.Error(1)
}

func (m *FeedMock) ActiveEntitlements(ctx context.Context, userID string) ([]entitlement.Outcome, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entitlement.Outcome), args.Error(1)
}

func (m *FeedMock) SubscriptionStatus(ctx context.Context, userID, productID string) (entitlement.SubscriptionStatus, error) {
	args := m.Called(ctx, userID, productID)
	return args.Get(0).(entitlement.SubscriptionStatus), args.Error(1)
}

type StoreMock struct{ mock.Mock }

func (m *StoreMock) GetByID(ctx context.Context, id string) (*entitlement.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	p := args.Get(0).(*entitlement.Profile).Clone()
	return &p, args.Error(1)
}

func (m *StoreMock) Insert(ctx context.Context, p entitlement.Profile) error {
	return m.Called(ctx, p).Error(0)
}

func (m *StoreMock) Update(ctx context.Context, p entitlement.Profile) error {
	return m.Called(ctx, p).Error(0)
}
