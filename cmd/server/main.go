package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"    // loads .env files in local development
	"github.com/labstack/echo/v4" // Echo web framework
	"go.uber.org/zap"             // structured logging

	"github.com/openmetro/parcelview/internal/activity"
	"github.com/openmetro/parcelview/internal/config"
	"github.com/openmetro/parcelview/internal/database"
	"github.com/openmetro/parcelview/internal/handler"
	"github.com/openmetro/parcelview/internal/queue"
	"github.com/openmetro/parcelview/internal/repository"
	"github.com/openmetro/parcelview/internal/router"
	"github.com/openmetro/parcelview/internal/search"
	"github.com/openmetro/parcelview/internal/validate"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments use the environment

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	cfg := config.Load()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("open database", "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(ctx, db); err != nil {
		cancel()
		logger.Fatalw("ensure schema", "err", err)
	}
	cancel()

	// Redis is optional: rate limiting and the search cache degrade to
	// pass-throughs when it is absent.
	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and search cache disabled")
	}

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	properties := repository.NewPropertyRepo(db)

	audit := activity.New(repository.NewActivityRepo(db), logger, true)
	defer audit.Close()
	go queue.StartActivityConsumer()

	engine := search.NewEngine(properties, properties, audit)

	e := echo.New()
	e.HideBanner = true
	e.Validator = validate.New()

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, sessions, audit, logger), sessions, rdb)
	router.RegisterProperties(e, handler.NewPropertyHandler(engine, properties, logger), cfg.JWTSecret, sessions, rdb)

	addr := ":" + cfg.Port
	logger.Infow("listening", "addr", addr, "env", cfg.Env)

	if err := e.Start(addr); err != nil {
		logger.Fatalw("server stopped", "err", err)
	}
}
