package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/middleware"
)

// Entitlements is the purchase surface of the entitlement service.
type Entitlements interface {
	Purchase(ctx context.Context, req entitlement.PurchaseRequest) (entitlement.Outcome, entitlement.Profile, error)
	Restore(ctx context.Context, userID string) (entitlement.Profile, error)
	Profile(ctx context.Context, userID string) (entitlement.Profile, error)
}

type PurchaseHandler struct {
	entitlements Entitlements
	catalog      *entitlement.Catalog
	now          func() time.Time
	log          *slog.Logger
}

func NewPurchaseHandler(entitlements Entitlements, catalog *entitlement.Catalog, log *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{entitlements: entitlements, catalog: catalog, now: time.Now, log: log}
}

func (h *PurchaseHandler) Purchase(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	var req dto.PurchaseRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	result := entitlement.PurchaseResult(req.Result)
	if result == "" {
		result = entitlement.PurchaseSuccess
	}
	if result == entitlement.PurchaseSuccess && req.FetchToken == "" {
		return fail(c, fiber.StatusBadRequest, "fetch_token is required")
	}
	if _, ok := h.catalog.Lookup(req.ProductID); !ok {
		return fail(c, fiber.StatusBadRequest, "Unknown product")
	}

	outcome, profile, err := h.entitlements.Purchase(c.UserContext(), entitlement.PurchaseRequest{
		UserID:     userID,
		ProductID:  req.ProductID,
		FetchToken: req.FetchToken,
		Result:     result,
	})
	if err != nil {
		return entitlementError(c, h.log, err)
	}

	status := fiber.StatusOK
	if outcome.Kind == entitlement.OutcomePending {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(dto.PurchaseResponse{
		Outcome: string(outcome.Kind),
		Reason:  outcome.Reason,
		Profile: dto.NewProfileResponse(profile, h.now()),
	})
}

func (h *PurchaseHandler) Restore(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	profile, err := h.entitlements.Restore(c.UserContext(), userID)
	if err != nil {
		return entitlementError(c, h.log, err)
	}
	return c.JSON(dto.NewProfileResponse(profile, h.now()))
}

func (h *PurchaseHandler) Profile(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	profile, err := h.entitlements.Profile(c.UserContext(), userID)
	if err != nil {
		return entitlementError(c, h.log, err)
	}
	return c.JSON(dto.NewProfileResponse(profile, h.now()))
}
