package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

// asUser stands in for the JWT middleware.
func asUser(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", &jwt.Token{Claims: jwt.MapClaims{"sub": userID}})
		return c.Next()
	}
}

func testCatalog(t *testing.T) *entitlement.Catalog {
	t.Helper()
	c, err := entitlement.NewCatalog(
		entitlement.CatalogEntry{ID: "sub.monthly", Kind: entitlement.KindAutoRenewable, DisplayName: "Monthly"},
		entitlement.CatalogEntry{ID: "removeads", Kind: entitlement.KindNonConsumable, DisplayName: "Remove Ads"},
		entitlement.CatalogEntry{ID: "coins.100", Kind: entitlement.KindConsumable, DisplayName: "100 Coins"},
	)
	require.NoError(t, err)
	return c
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decode[dto.ErrorResponse](t, resp).Message
}

