// Package entitlement merges commerce entitlement facts into user profiles.
package entitlement

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrFeedUnavailable = errors.New("commerce feed unavailable")
)

// Profile is the authoritative user record held by the identity store.
type Profile struct {
	ID                 string     `json:"id"`
	Email              *string    `json:"email,omitempty"`
	FirstName          *string    `json:"first_name,omitempty"`
	LastName           *string    `json:"last_name,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Subscribed         bool       `json:"is_subscribed"`
	SubscriptionExpiry *time.Time `json:"subscription_expiry_date,omitempty"`
	PurchasedProducts  ProductSet `json:"purchased_products"`
}

// NewProfile returns the default profile created on first sign-in.
func NewProfile(id string, now time.Time) Profile {
	return Profile{
		ID:                id,
		CreatedAt:         now,
		UpdatedAt:         now,
		PurchasedProducts: NewProductSet(),
	}
}

// HasActiveEntitlement re-checks the expiry; the stored flag alone can be stale.
func (p Profile) HasActiveEntitlement(now time.Time) bool {
	if !p.Subscribed || p.SubscriptionExpiry == nil {
		return false
	}
	return p.SubscriptionExpiry.After(now)
}

func (p Profile) HasPurchased(productID string) bool {
	return p.PurchasedProducts.Has(productID)
}

func (p Profile) FullName() string {
	return DisplayName(p.FirstName, p.LastName)
}

// DisplayName joins the non-empty name parts, falling back to "User".
func DisplayName(first, last *string) string {
	parts := make([]string, 0, 2)
	for _, n := range []*string{first, last} {
		if n != nil && *n != "" {
			parts = append(parts, *n)
		}
	}
	if len(parts) == 0 {
		return "User"
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy; mutations of the copy never reach p.
func (p Profile) Clone() Profile {
	c := p
	c.Email = cloneString(p.Email)
	c.FirstName = cloneString(p.FirstName)
	c.LastName = cloneString(p.LastName)
	if p.SubscriptionExpiry != nil {
		t := *p.SubscriptionExpiry
		c.SubscriptionExpiry = &t
	}
	c.PurchasedProducts = p.PurchasedProducts.Clone()
	return c
}

func (p Profile) WithPurchase(productID string) Profile {
	c := p.Clone()
	c.PurchasedProducts.Add(productID)
	return c
}

func (p Profile) WithSubscription(expiry time.Time) Profile {
	c := p.Clone()
	c.Subscribed = true
	c.SubscriptionExpiry = &expiry
	return c
}

func (p Profile) WithoutSubscription() Profile {
	c := p.Clone()
	c.Subscribed = false
	c.SubscriptionExpiry = nil
	return c
}

// Equal reports structural equality over every field.
func (p Profile) Equal(o Profile) bool {
	return p.ID == o.ID &&
		equalString(p.Email, o.Email) &&
		equalString(p.FirstName, o.FirstName) &&
		equalString(p.LastName, o.LastName) &&
		p.CreatedAt.Equal(o.CreatedAt) &&
		p.UpdatedAt.Equal(o.UpdatedAt) &&
		p.Subscribed == o.Subscribed &&
		equalTime(p.SubscriptionExpiry, o.SubscriptionExpiry) &&
		p.PurchasedProducts.Equal(o.PurchasedProducts)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// ProductSet holds purchased product ids. Only membership is meaningful.
type ProductSet map[string]struct{}

func NewProductSet(ids ...string) ProductSet {
	s := make(ProductSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s ProductSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s ProductSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s ProductSet) Len() int { return len(s) }

func (s ProductSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s ProductSet) Clone() ProductSet {
	c := make(ProductSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s ProductSet) IsSupersetOf(o ProductSet) bool {
	for id := range o {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

func (s ProductSet) Equal(o ProductSet) bool {
	return len(s) == len(o) && s.IsSupersetOf(o)
}

func (s ProductSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *ProductSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewProductSet(ids...)
	return nil
}
