package entitlement

import (
	"encoding/json"
	"fmt"
	"os"
)

type ProductKind string

const (
	KindConsumable    ProductKind = "consumable"
	KindNonConsumable ProductKind = "non-consumable"
	KindAutoRenewable ProductKind = "auto-renewable"
	KindNonRenewing   ProductKind = "non-renewable"
)

func ParseProductKind(s string) (ProductKind, error) {
	switch k := ProductKind(s); k {
	case KindConsumable, KindNonConsumable, KindAutoRenewable, KindNonRenewing:
		return k, nil
	}
	return "", fmt.Errorf("unknown product kind %q", s)
}

func (k ProductKind) IsSubscription() bool {
	return k == KindAutoRenewable || k == KindNonRenewing
}

// CatalogEntry is owned by the commerce feed and read-only here.
type CatalogEntry struct {
	ID           string      `json:"id"`
	Kind         ProductKind `json:"kind"`
	DisplayName  string      `json:"display_name"`
	DisplayPrice string      `json:"display_price"`
}

// Catalog is an ordered, read-only set of products.
type Catalog struct {
	entries []CatalogEntry
	byID    map[string]int
}

func NewCatalog(entries ...CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]CatalogEntry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry without id")
		}
		if _, err := ParseProductKind(string(e.Kind)); err != nil {
			return nil, fmt.Errorf("product %s: %w", e.ID, err)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %s", e.ID)
		}
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

type catalogFile struct {
	Products []CatalogEntry `json:"products"`
}

// LoadCatalog reads a {"products":[...]} JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read product catalog: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse product catalog: %w", err)
	}
	return NewCatalog(file.Products...)
}

func (c *Catalog) Lookup(id string) (CatalogEntry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Entries returns the entries for ids in catalog order. Unknown ids are dropped.
func (c *Catalog) Entries(ids []string) []CatalogEntry {
	want := NewProductSet(ids...)
	out := make([]CatalogEntry, 0, len(ids))
	for _, e := range c.entries {
		if want.Has(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Catalog) All() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.ID
	}
	return ids
}

// SubscriptionIDs lists subscription products in configured order.
func (c *Catalog) SubscriptionIDs() []string {
	var ids []string
	for _, e := range c.entries {
		if e.Kind.IsSubscription() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// IsSubscription is false for ids the catalog does not know.
func (c *Catalog) IsSubscription(id string) bool {
	e, ok := c.Lookup(id)
	return ok && e.Kind.IsSubscription()
}
