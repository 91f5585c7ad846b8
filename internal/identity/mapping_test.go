package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/models"
)

func validRow() *models.User {
	email := "ada@example.com"
	return &models.User{
		ID:                "7b0c2f5e-8d7e-4a43-9d1b-0f3c1b6f2d11",
		Email:             &email,
		AuthProvider:      models.ProviderEmail,
		PurchasedProducts: datatypes.JSON(`["removeads","coins.100"]`),
		CreatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:         time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestToProfile(t *testing.T) {
	row := validRow()
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	row.IsSubscribed = true
	row.SubscriptionExpiryDate = &expiry

	p, err := ToProfile(row)
	require.NoError(t, err)

	assert.Equal(t, row.ID, p.ID)
	assert.Equal(t, "ada@example.com", *p.Email)
	assert.True(t, p.Subscribed)
	assert.True(t, p.SubscriptionExpiry.Equal(expiry))
	assert.Equal(t, []string{"coins.100", "removeads"}, p.PurchasedProducts.Sorted())
}

func TestToProfile_FailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(u *models.User)
	}{
		{name: "missing id", mutate: func(u *models.User) { u.ID = "" }},
		{name: "null products", mutate: func(u *models.User) { u.PurchasedProducts = datatypes.JSON("null") }},
		{name: "empty products column", mutate: func(u *models.User) { u.PurchasedProducts = nil }},
		{name: "products not an array", mutate: func(u *models.User) { u.PurchasedProducts = datatypes.JSON(`{"a":1}`) }},
		{name: "products wrong element type", mutate: func(u *models.User) { u.PurchasedProducts = datatypes.JSON(`[1,2]`) }},
		{name: "empty product id", mutate: func(u *models.User) { u.PurchasedProducts = datatypes.JSON(`[""]`) }},
		{name: "duplicate product id", mutate: func(u *models.User) { u.PurchasedProducts = datatypes.JSON(`["a","a"]`) }},
		{name: "subscribed without expiry", mutate: func(u *models.User) { u.IsSubscribed = true }},
		{name: "unknown provider", mutate: func(u *models.User) { u.AuthProvider = "github" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			tt.mutate(row)

			_, err := ToProfile(row)
			require.ErrorIs(t, err, ErrMapping)
		})
	}
}

func TestFromProfile(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := entitlement.NewProfile("u1", now).WithPurchase("b").WithPurchase("a")

	row := FromProfile(p)

	assert.Equal(t, "u1", row.ID)
	assert.Equal(t, models.ProviderAnonymous, row.AuthProvider)
	assert.JSONEq(t, `["a","b"]`, string(row.PurchasedProducts))
	assert.False(t, row.IsSubscribed)
	assert.Nil(t, row.SubscriptionExpiryDate)
}

func TestFromProfile_EmptySetEncodesArray(t *testing.T) {
	row := FromProfile(entitlement.Profile{ID: "u1"})
	assert.JSONEq(t, `[]`, string(row.PurchasedProducts))
}

func TestProfileColumns(t *testing.T) {
	cols := profileColumns(entitlement.NewProfile("u1", time.Now()))

	assert.Contains(t, cols, "is_subscribed")
	assert.Contains(t, cols, "subscription_expiry_date")
	assert.NotContains(t, cols, "password_hash")
	assert.NotContains(t, cols, "apple_user_id")
	assert.NotContains(t, cols, "id")
}
