package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/school-records/school_records/internal/logging"
)

func setupIdempotencyApp(t *testing.T) (*fiber.App, *miniredis.Miniredis, *int) {
	t.Helper()
	mr := miniredis.RunT(t)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { cache.Close() })

	calls := 0
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/students", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": calls})
	})
	app.Post("/flaky", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store unavailable"})
	})
	return app, mr, &calls
}

func postWithKey(t *testing.T, app *fiber.App, path, key string) (int, string, string) {
	t.Helper()
	return postBodyWithKey(t, app, path, key, "{}")
}

func postBodyWithKey(t *testing.T, app *fiber.App, path, key, body string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload), resp.Header.Get("Idempotent-Replayed")
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, _, calls := setupIdempotencyApp(t)

	postWithKey(t, app, "/students", "")
	postWithKey(t, app, "/students", "")
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, _, calls := setupIdempotencyApp(t)

	status, body, replayed := postWithKey(t, app, "/students", "abc123")
	if status != fiber.StatusCreated || replayed != "" {
		t.Fatalf("unexpected first response: %d replayed=%q", status, replayed)
	}

	status2, body2, replayed2 := postWithKey(t, app, "/students", "abc123")
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if body2 != body {
		t.Fatalf("expected cached payload %s got %s", body, body2)
	}
	if replayed2 != "true" {
		t.Fatal("expected replay marker header")
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	app, _, calls := setupIdempotencyApp(t)

	status, _, _ := postBodyWithKey(t, app, "/students", "enrol-1", `{"student_number":"S-001"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("unexpected first status %d", status)
	}
	status, _, replayed := postBodyWithKey(t, app, "/students", "enrol-1", `{"student_number":"S-002"}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
	if replayed != "" {
		t.Fatal("expected no replay for a mismatched body")
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}

	status, _, replayed = postBodyWithKey(t, app, "/students", "enrol-1", `{"student_number":"S-001"}`)
	if status != fiber.StatusCreated || replayed != "true" {
		t.Fatalf("expected replay of the original request, got %d replayed=%q", status, replayed)
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	app, mr, calls := setupIdempotencyApp(t)

	if err := mr.Set(idempotencyPrefix+"POST:/students:busy", inProgressMarker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	status, _, _ := postWithKey(t, app, "/students", "busy")
	if status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
	if *calls != 0 {
		t.Fatalf("expected handler not to run, ran %d times", *calls)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, mr, calls := setupIdempotencyApp(t)

	postWithKey(t, app, "/flaky", "retry-me")
	if mr.Exists(idempotencyPrefix + "POST:/flaky:retry-me") {
		t.Fatal("expected server error response not to be stored")
	}
	postWithKey(t, app, "/flaky", "retry-me")
	if *calls != 2 {
		t.Fatalf("expected retry to reach the handler, ran %d times", *calls)
	}
}

func TestIdempotencyKeysAreScopedByPath(t *testing.T) {
	app, _, calls := setupIdempotencyApp(t)

	postWithKey(t, app, "/students", "shared")
	postWithKey(t, app, "/flaky", "shared")
	if *calls != 2 {
		t.Fatalf("expected both paths to run, ran %d times", *calls)
	}
}

func TestIdempotencyFailsClosedWhenRedisDown(t *testing.T) {
	app, mr, calls := setupIdempotencyApp(t)
	mr.Close()

	status, _, _ := postWithKey(t, app, "/students", "abc")
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected %d got %d", fiber.StatusServiceUnavailable, status)
	}
	if *calls != 0 {
		t.Fatalf("expected handler not to run, ran %d times", *calls)
	}
}
