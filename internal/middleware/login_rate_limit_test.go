package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/school-records/school_records/internal/logging"
)

func newLoginApp(cache *redis.Client, max int) *fiber.App {
	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, max, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func login(t *testing.T, app *fiber.App, username string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"username":"`+username+`","password":"x"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginRateLimitPerUsername(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	app := newLoginApp(cache, 2)

	for i := 0; i < 2; i++ {
		if status := login(t, app, "teacher1"); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, status)
		}
	}
	if status := login(t, app, "Teacher1"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 on third attempt, got %d", status)
	}
	if status := login(t, app, "parent1"); status != fiber.StatusOK {
		t.Fatalf("expected other usernames to be unaffected, got %d", status)
	}
	if ttl := mr.TTL(loginRateLimitPrefix + "teacher1"); ttl <= 0 {
		t.Fatalf("expected counter to expire, ttl=%v", ttl)
	}

	mr.FastForward(mr.TTL(loginRateLimitPrefix + "teacher1"))
	if status := login(t, app, "teacher1"); status != fiber.StatusOK {
		t.Fatalf("expected window reset, got %d", status)
	}
}

func TestLoginRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	app := newLoginApp(cache, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		if status := login(t, app, "teacher1"); status != fiber.StatusOK {
			t.Fatalf("expected fail-open, got %d", status)
		}
	}
}

func TestLoginRateLimitWithoutRedis(t *testing.T) {
	app := newLoginApp(nil, 1)
	for i := 0; i < 3; i++ {
		if status := login(t, app, "teacher1"); status != fiber.StatusOK {
			t.Fatalf("expected no limit without redis, got %d", status)
		}
	}
}
