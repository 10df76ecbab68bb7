package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	httpapi "github.com/gridwatch/pjm-sync/internal/api/http"
	"github.com/gridwatch/pjm-sync/internal/config"
	"github.com/gridwatch/pjm-sync/internal/pjm/feeds"
	"github.com/gridwatch/pjm-sync/internal/store"
	"github.com/gridwatch/pjm-sync/internal/syncer"
	"github.com/gridwatch/pjm-sync/internal/watchdog"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	// Persistent store; schema setup is explicit and idempotent.
	pg, err := store.Open(cfg.DatabaseURL, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer pg.Close()

	ctx := context.Background()
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Shared upstream client; one credential, one rate budget.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := feeds.NewClient(httpClient, cfg.PJMAPIKey, cfg.RateDelay,
		log.With().Str("component", "feeds").Logger())

	verified := syncer.NewVerifiedOverride(client, pg, cfg.PnodeIDs,
		time.Duration(cfg.VerifiedWindowDays)*24*time.Hour,
		log.With().Str("component", "verified").Logger())
	resync := syncer.NewFullResync(client, pg, cfg.PnodeIDs,
		time.Duration(cfg.LookbackDays)*24*time.Hour, verified,
		log.With().Str("component", "resync").Logger())

	// Single writer: one watchdog instance drives all reconciliation.
	wd := watchdog.New(client, pg, resync, watchdog.Config{
		PnodeIDs:           cfg.PnodeIDs,
		CycleInterval:      cfg.CycleInterval,
		FullResyncInterval: cfg.FullResyncInterval,
		BootstrapLookback:  cfg.BootstrapLookback,
	}, log.With().Str("component", "watchdog").Logger())
	if err := wd.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start watchdog")
	}
	defer wd.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "pjm-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "pjm-sync",
		})
	})

	httpapi.RegisterRoutes(app, pg)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	log.Info().Str("port", cfg.Port).Int("pnodes", len(cfg.PnodeIDs)).Msg("pjm-sync started")

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
