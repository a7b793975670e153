package e2e

import (
	"testing"

	"github.com/gofiber/fiber/v2"
)

const testJWTSecret = "test-secret-for-e2e"

func TestAuthRejectsMissingToken(t *testing.T) {
	app, _ := authApp(testJWTSecret)

	resp, err := doRequest(app, "GET", "/jobs", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	assertStatus(t, resp, fiber.StatusUnauthorized)
	if code := errorCode(t, resp); code != "UNAUTHORIZED" {
		t.Errorf("error code = %s, want UNAUTHORIZED", code)
	}
}

func TestAuthRejectsForgedToken(t *testing.T) {
	app, _ := authApp(testJWTSecret)
	_, other := authApp("a-different-secret")

	token, err := other.GenerateToken("mallory")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp, err := doRequestWithAuth(app, "GET", "/jobs", token)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	assertStatus(t, resp, fiber.StatusUnauthorized)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	app, m := authApp(testJWTSecret)

	token, err := m.GenerateToken("user-123")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp, err := doRequestWithAuth(app, "GET", "/jobs", token)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	assertStatus(t, resp, fiber.StatusOK)
	if body := parseJSON(t, resp); body["userId"] != "user-123" {
		t.Errorf("userId = %v, want user-123", body["userId"])
	}
}
