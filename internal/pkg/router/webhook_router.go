package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/studymate/checkout/app/controllers"
	"github.com/studymate/checkout/internal/pkg/env"
)

// WebhookRouter mounts provider push endpoints outside the rate-limited API
// group: providers retry aggressively and must never be throttled into
// treating us as down.
type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/mercadopago", controllers.HandleMercadoPagoWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

// InternalRouter mounts operator endpoints behind basic auth.
type InternalRouter struct {
}

func (h InternalRouter) InstallRouter(app *fiber.App) {
	internal := app.Group("/internal", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("INTERNAL_USER", "ops"): env.GetEnv("INTERNAL_PASSWORD", ""),
		},
	}))
	internal.Post("/checkouts/expire-stale", controllers.HandleExpireStaleCheckouts)
	internal.Get("/checkouts/stats", controllers.HandleCheckoutStats)
}

func NewInternalRouter() *InternalRouter {
	return &InternalRouter{}
}
