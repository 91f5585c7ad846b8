package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/middleware"
)

type Handlers struct {
	Auth     *handlers.AuthHandler
	Session  *handlers.SessionHandler
	Purchase *handlers.PurchaseHandler
	Products *handlers.ProductsHandler
	Webhook  *handlers.WebhookHandler
	Health   *handlers.HealthHandler
}

func Setup(app *fiber.App, cfg *config.Config, h Handlers, gatherer prometheus.Gatherer) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")

	// Webhooks are retried by RevenueCat and sit outside the per-IP limiter.
	api.Post("/webhooks/revenuecat", h.Webhook.HandleRevenueCat)

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)
	api.Get("/products", h.Products.List)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/anonymous", h.Auth.Anonymous)
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)
	auth.Post("/apple", h.Auth.AppleSignIn)

	// JWT middleware is attached per route so public routes stay public.
	jwt := middleware.JWTProtected(cfg)
	api.Post("/auth/logout", jwt, h.Auth.Logout)
	api.Get("/me", jwt, h.Session.Me)
	api.Get("/me/events", jwt, h.Session.Events)
	api.Get("/me/profile", jwt, h.Purchase.Profile)
	api.Post("/purchases", jwt, h.Purchase.Purchase)
	api.Post("/purchases/restore", jwt, h.Purchase.Restore)
}
