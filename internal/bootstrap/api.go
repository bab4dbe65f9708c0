package bootstrap

import (
	ophttp "alert_worker/adapter/in/http"
	"alert_worker/config"
	"alert_worker/infra/middleware"
	"alert_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAPI assembles the operational API server.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "alert-worker-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	healthHandler := ophttp.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	statsHandler := ophttp.NewStatsHandler(
		deps.IncidentRepo,
		deps.DLQRepo,
		deps.PatternRepo,
		deps.QuarantineSvc,
		deps.EmailRepo,
	)
	statsHandler.Register(api)

	quarantineHandler := ophttp.NewQuarantineHandler(deps.QuarantineSvc)
	quarantineHandler.Register(api)

	configHandler := ophttp.NewConfigHandler(deps.ConfigVersions)
	configHandler.Register(api)

	logger.Info("API server initialized")
	return app, cleanup, nil
}
