package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
)

type HealthHandler struct {
	ping         func(ctx context.Context) error
	productCount int
}

func NewHealthHandler(ping func(ctx context.Context) error, productCount int) *HealthHandler {
	return &HealthHandler{ping: ping, productCount: productCount}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status, dbStatus := "ok", "ok"
	if err := h.ping(ctx); err != nil {
		status, dbStatus = "degraded", "unhealthy: "+err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:       status,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		DB:           dbStatus,
		ProductCount: h.productCount,
	})
}
