package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"dyntables/internal/admin"
	"dyntables/internal/auth"
	"dyntables/internal/config"
	"dyntables/internal/engine"
	"dyntables/internal/instrument"
	"dyntables/internal/logger"
	"dyntables/internal/schema"
	"dyntables/internal/store"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.Database.IsSQLite() {
		if err := os.MkdirAll(cfg.Database.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return s, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info("config loaded", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "db", cfg.Database.Name)

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		return err
	}
	log.Info("database ready")

	eng := engine.New(s,
		engine.WithLogger(log),
		engine.WithBatchLoading(cfg.Query.BatchLoading),
		engine.WithLimits(cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
	)
	mgr := schema.NewManager(s, schema.WithLogger(log))

	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	if cfg.Metrics.Enabled {
		metrics := instrument.NewMetrics()
		app.Use(instrument.Middleware(instrument.NewInstrumenter(metrics)))
		app.Get("/metrics", instrument.MetricsHandler(metrics))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMW := auth.Middleware(cfg.Auth.JWTSecret)
	adminMW := auth.RequireRole(auth.RoleAdmin)
	admin.RegisterRoutes(app, admin.NewHandler(mgr), []fiber.Handler{authMW}, []fiber.Handler{authMW, adminMW})
	engine.RegisterRoutes(app, engine.NewHandler(eng), authMW)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("starting server", "addr", addr)
	return app.Listen(addr)
}
