package controllers

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studymate/checkout/internal/pkg/checkout"
)

func TestCheckoutErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{checkout.ErrInvalidPlan, fiber.StatusUnprocessableEntity},
		{checkout.ErrUnsupportedProvider, fiber.StatusUnprocessableEntity},
		{checkout.ErrMissingTxID, fiber.StatusUnprocessableEntity},
		{checkout.ErrUserNotFound, fiber.StatusNotFound},
		{checkout.ErrCheckoutNotFound, fiber.StatusNotFound},
		{checkout.ErrForbidden, fiber.StatusForbidden},
		{checkout.ErrInvalidToken, fiber.StatusForbidden},
		{checkout.ErrExpired, fiber.StatusConflict},
		{checkout.ErrAlreadyProcessed, fiber.StatusConflict},
		{checkout.ErrTransactionReused, fiber.StatusConflict},
		{checkout.ErrProviderRejected, fiber.StatusBadGateway},
		{checkout.ErrProviderUnavailable, fiber.StatusServiceUnavailable},
		{fmt.Errorf("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		status, message := checkoutErrorStatus(tt.err)
		assert.Equal(t, tt.wantStatus, status, "error %v", tt.err)
		assert.NotEmpty(t, message)
	}
}

// Wrapped sentinels keep their HTTP mapping.
func TestCheckoutErrorStatusWrapped(t *testing.T) {
	status, _ := checkoutErrorStatus(fmt.Errorf("confirm: %w", checkout.ErrTransactionReused))
	assert.Equal(t, fiber.StatusConflict, status)
}

// With a configured webhook secret, unsigned or badly signed notifications
// are rejected before any storage or provider access.
func TestMercadoPagoWebhookRejectsInvalidSignature(t *testing.T) {
	t.Setenv("MP_WEBHOOK_SECRET", "top-secret")

	app := fiber.New()
	app.Post("/webhooks/mercadopago", HandleMercadoPagoWebhook)

	tests := []struct {
		name      string
		signature string
		requestID string
	}{
		{name: "missing signature"},
		{name: "garbage signature", signature: "ts=1,v1=deadbeef", requestID: "req-1"},
		{name: "missing ts", signature: "v1=deadbeef", requestID: "req-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/webhooks/mercadopago?data.id=123",
				strings.NewReader(`{"type":"payment","data":{"id":123}}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.signature != "" {
				req.Header.Set("X-Signature", tt.signature)
			}
			if tt.requestID != "" {
				req.Header.Set("X-Request-Id", tt.requestID)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestCurrentUserID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		wantID uint
		wantOK bool
	}{
		{"valid id", "42", 42, true},
		{"missing header", "", 0, false},
		{"zero id", "0", 0, false},
		{"not a number", "abc", 0, false},
		{"negative", "-1", 0, false},
		{"padded", "  7  ", 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			var gotID uint
			var gotOK bool
			app.Get("/probe", func(c *fiber.Ctx) error {
				gotID, gotOK = currentUserID(c)
				return c.SendStatus(fiber.StatusOK)
			})

			req := httptest.NewRequest("GET", "/probe", nil)
			if tt.header != "" {
				req.Header.Set("X-User-ID", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantOK, gotOK)
			assert.Equal(t, tt.wantID, gotID)
		})
	}
}
