package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/studymate/checkout/internal/pkg/cache"
	"github.com/studymate/checkout/internal/pkg/checkout"
	"github.com/studymate/checkout/internal/pkg/database"
	"github.com/studymate/checkout/internal/pkg/env"
	"github.com/studymate/checkout/internal/pkg/router"
	"github.com/studymate/checkout/internal/pkg/worker"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4100")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Background sweep for stale checkout sessions.
	sweep := worker.NewManager(checkout.NewServiceFromDB(database.GetDB(), nil, nil))
	sweep.Start()

	app := fiber.New(fiber.Config{
		AppName: "studymate-checkout",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	app.Hooks().OnShutdown(func() error {
		sweep.Stop()
		return nil
	})

	return app
}
