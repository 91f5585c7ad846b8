package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

type ProductsHandler struct {
	catalog *entitlement.Catalog
}

func NewProductsHandler(catalog *entitlement.Catalog) *ProductsHandler {
	return &ProductsHandler{catalog: catalog}
}

// List returns the configured products, optionally narrowed by ?ids=a,b.
// Unknown ids are left out.
func (h *ProductsHandler) List(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		return c.JSON(dto.ProductsResponse{Products: h.catalog.All()})
	}

	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return c.JSON(dto.ProductsResponse{Products: h.catalog.Entries(ids)})
}
