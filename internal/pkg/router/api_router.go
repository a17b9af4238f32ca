package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/studymate/checkout/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")
	v1.Post("/checkouts", controllers.HandleCreateCheckout)
	v1.Post("/checkouts/:checkout_id/confirm", controllers.HandleConfirmCheckout)
	v1.Post("/checkouts/:checkout_id/reconcile", controllers.HandleReconcileCheckout)
	v1.Get("/entitlement", controllers.HandleGetEntitlement)
	v1.Post("/entitlement/trial", controllers.HandleGrantTrial)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
