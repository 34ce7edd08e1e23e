package main // Entry point package

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/protocollm/seat-licensing/internal/config"
	"github.com/protocollm/seat-licensing/internal/database"
	"github.com/protocollm/seat-licensing/internal/handler"
	"github.com/protocollm/seat-licensing/internal/license"
	"github.com/protocollm/seat-licensing/internal/queue"
	"github.com/protocollm/seat-licensing/internal/repository"
	"github.com/protocollm/seat-licensing/internal/router"
)

func main() {
	// Load .env when present; real deployments set the environment
	// directly and have no .env file.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis backs rate limiting and the listing cache; both degrade to
	// pass-through when the client is nil.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis: unavailable; rate limiting and caching disabled")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	seats := repository.NewSeatRepo(db)

	svc := license.NewService(seats, license.Config{
		DeviceLimitEnforced: cfg.DeviceLimitEnforced,
	})

	authH := handler.NewAuthHandler(cfg, users, tokens)
	licenseH := handler.NewLicenseHandler(svc)
	billingH := handler.NewBillingHandler(svc, cfg.BillingWebhookSecret)

	// Audit consumer runs for the lifetime of the process and keeps
	// reconnecting on broker failures.
	go func() {
		if err := queue.StartLicenseConsumer(); err != nil {
			log.Printf("license-consumer: stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterLicense(e, licenseH, billingH, cfg.JWTSecret, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
