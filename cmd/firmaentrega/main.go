package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/cache"
	"github.com/firmaentrega/backend/internal/pkg/database"
	"github.com/firmaentrega/backend/internal/pkg/env"
	"github.com/firmaentrega/backend/internal/pkg/jobqueue"
	"github.com/firmaentrega/backend/internal/pkg/router"
)

func main() {
	app := NewApplication()

	manager := jobqueue.GetManager()
	manager.Start()
	defer manager.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// Find the project root so docs resolve when started from cmd/
	basePaths := []string{
		"./",
		"../../",
		"../../../",
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024 * 1024, // incident photos arrive inline
	})

	// recovery and logging
	app.Use(recover.New(), logger.New(), favicon.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
