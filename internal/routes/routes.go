package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/school-records/school_records/internal/account"
	"github.com/school-records/school_records/internal/config"
	"github.com/school-records/school_records/internal/middleware"
	"github.com/school-records/school_records/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	Store  account.Store
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier receives generated temporary passwords. Defaults to a
	// LoggerNotifier.
	Notifier notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil {
		return fmt.Errorf("account store is required")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	// Redis backs login throttling and idempotent provisioning outside of dev.
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	opts := []account.Option{
		account.WithLogger(d.Logger),
		account.WithNotifier(notifier),
	}
	if d.Cfg.PasswordPolicy {
		opts = append(opts, account.WithPasswordPolicy())
	}
	accounts := account.NewHandler(account.NewService(d.Store, opts...))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	var provisioning []fiber.Handler
	if d.Cache != nil {
		provisioning = append(provisioning, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterAccountRoutes(api, accounts, provisioning...)
	RegisterAuthRoutes(api, accounts, middleware.LoginRateLimit(d.Cache, d.Cfg.LoginAttemptsPerMinute, d.Logger))

	return nil
}
