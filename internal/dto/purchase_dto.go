package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

type PurchaseRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	FetchToken string `json:"fetch_token"`
	Result     string `json:"result" validate:"omitempty,oneof=success cancelled pending"`
}

type PurchaseResponse struct {
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	Profile ProfileResponse `json:"profile"`
}

type ProfileResponse struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email,omitempty"`
	FullName               string     `json:"full_name,omitempty"`
	IsSubscribed           bool       `json:"is_subscribed"`
	SubscriptionExpiryDate *time.Time `json:"subscription_expiry_date,omitempty"`
	HasActiveEntitlement   bool       `json:"has_active_entitlement"`
	PurchasedProducts      []string   `json:"purchased_products"`
}

func NewProfileResponse(p entitlement.Profile, now time.Time) ProfileResponse {
	resp := ProfileResponse{
		ID:                     p.ID,
		FullName:               p.FullName(),
		IsSubscribed:           p.Subscribed,
		SubscriptionExpiryDate: p.SubscriptionExpiry,
		HasActiveEntitlement:   p.HasActiveEntitlement(now),
		PurchasedProducts:      p.PurchasedProducts.Sorted(),
	}
	if p.Email != nil {
		resp.Email = *p.Email
	}
	return resp
}

type ProductsResponse struct {
	Products []entitlement.CatalogEntry `json:"products"`
}
