package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ProviderAnonymous = "anonymous"
	ProviderApple     = "apple"
	ProviderEmail     = "email"
)

// User is one row of the Supabase users table: account fields plus the
// entitlement profile the reconciler maintains.
type User struct {
	ID                     string         `gorm:"type:uuid;primaryKey" json:"id" validate:"required"`
	Email                  *string        `gorm:"size:255;uniqueIndex" json:"email"`
	FirstName              *string        `gorm:"size:100" json:"first_name"`
	LastName               *string        `gorm:"size:100" json:"last_name"`
	PasswordHash           string         `gorm:"size:255" json:"-"`
	AppleUserID            *string        `gorm:"size:255;uniqueIndex" json:"-"`
	AuthProvider           string         `gorm:"size:20;not null;default:'anonymous'" json:"auth_provider" validate:"oneof=anonymous apple email"`
	IsSubscribed           bool           `gorm:"not null;default:false" json:"is_subscribed"`
	SubscriptionExpiryDate *time.Time     `json:"subscription_expiry_date" validate:"required_with=IsSubscribed"`
	PurchasedProducts      datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"purchased_products" validate:"required"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`
}
