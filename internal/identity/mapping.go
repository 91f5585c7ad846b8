package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator"
	"gorm.io/datatypes"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/models"
)

// ErrMapping means a stored row does not match the expected schema.
var ErrMapping = errors.New("identity record does not match schema")

var validate = validator.New()

// ToProfile maps a users row to a profile. It fails instead of defaulting
// fields, so schema drift in the backend surfaces as an error.
func ToProfile(row *models.User) (entitlement.Profile, error) {
	if err := validate.Struct(row); err != nil {
		return entitlement.Profile{}, fmt.Errorf("%w: user %q: %v", ErrMapping, row.ID, err)
	}

	products, err := decodeProducts(row.PurchasedProducts)
	if err != nil {
		return entitlement.Profile{}, fmt.Errorf("%w: user %s: purchased_products: %v", ErrMapping, row.ID, err)
	}

	return entitlement.Profile{
		ID:                 row.ID,
		Email:              row.Email,
		FirstName:          row.FirstName,
		LastName:           row.LastName,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		Subscribed:         row.IsSubscribed,
		SubscriptionExpiry: row.SubscriptionExpiryDate,
		PurchasedProducts:  products,
	}, nil
}

func decodeProducts(raw datatypes.JSON) (entitlement.ProductSet, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("missing")
	}

	var ids []string
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return nil, err
	}

	set := entitlement.NewProductSet()
	for _, id := range ids {
		if id == "" {
			return nil, errors.New("empty product id")
		}
		if !set.Add(id) {
			return nil, fmt.Errorf("duplicate product id %s", id)
		}
	}
	return set, nil
}

func encodeProducts(s entitlement.ProductSet) datatypes.JSON {
	data, _ := json.Marshal(s.Sorted())
	return datatypes.JSON(data)
}

// FromProfile builds a users row from a profile. Account columns are left empty.
func FromProfile(p entitlement.Profile) *models.User {
	return &models.User{
		ID:                     p.ID,
		Email:                  p.Email,
		FirstName:              p.FirstName,
		LastName:               p.LastName,
		AuthProvider:           models.ProviderAnonymous,
		IsSubscribed:           p.Subscribed,
		SubscriptionExpiryDate: p.SubscriptionExpiry,
		PurchasedProducts:      encodeProducts(p.PurchasedProducts),
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func profileColumns(p entitlement.Profile) map[string]interface{} {
	return map[string]interface{}{
		"email":                    p.Email,
		"first_name":               p.FirstName,
		"last_name":                p.LastName,
		"is_subscribed":            p.Subscribed,
		"subscription_expiry_date": p.SubscriptionExpiry,
		"purchased_products":       encodeProducts(p.PurchasedProducts),
	}
}
