package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter attaches all route groups to the app.
func InstallRouter(app *fiber.App) {
	setup(app, NewApiRouter(), NewWebhookRouter(), NewInternalRouter())
}

func setup(app *fiber.App, routers ...Router) {
	for _, r := range routers {
		r.InstallRouter(app)
	}
}
