package handlers

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/commerce/revenuecat"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/commerce/stream"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
)

type WebhookHandler struct {
	sink    stream.Sink
	auth    string
	sandbox bool
	log     *slog.Logger
}

func NewWebhookHandler(sink stream.Sink, auth string, sandbox bool, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{sink: sink, auth: auth, sandbox: sandbox, log: log}
}

// HandleRevenueCat turns a RevenueCat event into a transaction update. The
// listener applies it; this handler only enqueues.
func (h *WebhookHandler) HandleRevenueCat(c *fiber.Ctx) error {
	if h.auth == "" {
		return fail(c, fiber.StatusNotFound, "Webhooks not configured")
	}
	if subtle.ConstantTimeCompare([]byte(c.Get(fiber.HeaderAuthorization)), []byte(h.auth)) != 1 {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	var webhook dto.RevenueCatWebhook
	if err := c.BodyParser(&webhook); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid webhook payload")
	}
	if webhook.Event.ID == "" {
		return fail(c, fiber.StatusBadRequest, "Event id is required")
	}

	log := h.log.With(slog.String("event_id", webhook.Event.ID), slog.String("event_type", webhook.Event.Type))

	update, ok := revenuecat.EventToUpdate(&webhook.Event, h.sandbox)
	if !ok {
		log.Debug("webhook event ignored")
		return c.JSON(fiber.Map{"received": true})
	}

	if err := h.sink.Publish(c.UserContext(), update); err != nil {
		log.Error("failed to enqueue webhook event", sl.Err(err))
		return fail(c, fiber.StatusServiceUnavailable, "Failed to process webhook event")
	}

	log.Info("webhook enqueued", slog.String("user_id", update.UserID))
	return c.JSON(fiber.Map{"received": true})
}
