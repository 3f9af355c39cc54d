package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/firmaentrega/backend/app/controllers"
	"github.com/firmaentrega/backend/internal/pkg/cache"
	"github.com/firmaentrega/backend/internal/pkg/env"
	"github.com/firmaentrega/backend/internal/pkg/middleware"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Request metadata first: every handler and audit entry depends on it
	app.Use(requestmeta.Middleware())

	controllers.InitializeQrController()
	controllers.InitializeSessionController()
	controllers.InitializeOfflineController()
	if err := controllers.InitializeConfirmationController(); err != nil {
		log.Fatalf("[Router] %v", err)
	}

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 60),
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))

	v1 := api.Group("/v1")

	// warehouse-facing, API key protected
	v1.Post("/qr", middleware.APIKeyAuthMiddleware(), controllers.HandleIssueQrToken)
	v1.Get("/confirmations/:id/evidence/verify", middleware.APIKeyAuthMiddleware(), controllers.HandleVerifyEvidence)

	// courier-facing, authorized by the OTP/session flow itself
	v1.Get("/qr/:ref", controllers.HandleGetQrStatus)
	v1.Post("/qr/:ref/challenge", controllers.HandleStartChallenge)
	v1.Post("/challenges/:id/verify", controllers.HandleVerifyOtp)
	v1.Post("/confirmations", controllers.HandleCreateConfirmation)
	v1.Post("/offline/sync", controllers.HandleOfflineSync)
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// instances. Uses database 1; the cache itself uses 0.
func limiterStorage() fiber.Storage {
	client := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
