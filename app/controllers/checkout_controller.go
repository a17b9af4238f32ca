package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/cache"
	"github.com/studymate/checkout/internal/pkg/checkout"
	"github.com/studymate/checkout/internal/pkg/database"
	"github.com/studymate/checkout/internal/pkg/entitlements"
	"github.com/studymate/checkout/internal/pkg/env"
	"github.com/studymate/checkout/internal/pkg/mercadopago"
	"github.com/studymate/checkout/internal/pkg/metrics/counter"
	"github.com/studymate/checkout/internal/pkg/reconcile"
	"github.com/studymate/checkout/internal/pkg/webhook"
)

var validate = validator.New()

const requestTimeout = 20 * time.Second

func newEntitlements() *entitlements.Service {
	return entitlements.NewService(database.GetDB(), cache.NewStore())
}

func newOrchestrator() *checkout.Service {
	gateways := map[string]checkout.ProviderGateway{
		models.ProviderMercadoPago: mercadopago.NewClientFromEnv(),
	}
	return checkout.NewServiceFromDB(database.GetDB(), gateways, newEntitlements())
}

// currentUserID reads the authenticated user id injected by the upstream auth
// layer. This engine never authenticates requests itself.
func currentUserID(c *fiber.Ctx) (uint, bool) {
	raw := strings.TrimSpace(c.Get("X-User-ID"))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

type createCheckoutRequest struct {
	PlanCode string `json:"plan_code" validate:"required,min=3,max=50"`
	Provider string `json:"provider" validate:"required,oneof=mercadopago manual"`
}

// HandleCreateCheckout opens a new checkout session and, for providers with a
// hosted page, returns the URL to redirect the client to.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}

	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	domain := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	svc := newOrchestrator()
	result, err := svc.CreateCheckout(ctx, checkout.CreateCheckoutInput{
		UserID:     userID,
		PlanCode:   req.PlanCode,
		Provider:   req.Provider,
		NotifyURL:  domain + "/webhooks/mercadopago",
		SuccessURL: env.GetEnv("CHECKOUT_SUCCESS_URL", domain+"/billing/success"),
		FailureURL: env.GetEnv("CHECKOUT_FAILURE_URL", domain+"/billing/failure"),
	})
	if err != nil {
		return failCheckout(c, userID, err)
	}

	session := result.Session
	if err := counter.AddCheckoutCreated(session.PlanCode); err != nil {
		fiberlog.Warnf("[Checkout] created counter update failed: %v", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"checkout_id":  session.CheckoutID,
		"auth_token":   session.AuthToken,
		"plan_code":    session.PlanCode,
		"amount_cents": session.AmountCents,
		"currency":     session.Currency,
		"provider":     session.Provider,
		"expires_at":   session.ExpiresAt,
		"payment_url":  result.PaymentURL,
	})
}

type confirmCheckoutRequest struct {
	AuthToken string `json:"auth_token" validate:"required"`
	TxID      string `json:"tx_id" validate:"required,min=1,max=191"`
	Provider  string `json:"provider" validate:"omitempty,oneof=mercadopago manual"`
}

// HandleConfirmCheckout applies a user-submitted manual confirmation.
func HandleConfirmCheckout(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}

	var req confirmCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	svc := newOrchestrator()
	result, err := svc.ConfirmManual(ctx, checkout.ConfirmManualInput{
		CheckoutID: c.Params("checkout_id"),
		UserID:     userID,
		AuthToken:  req.AuthToken,
		TxID:       req.TxID,
		Provider:   req.Provider,
	})
	if err != nil {
		return failCheckout(c, userID, err)
	}

	if result.Applied {
		if err := counter.AddCheckoutConfirmed(result.Session.PlanCode); err != nil {
			fiberlog.Warnf("[Checkout] confirmed counter update failed: %v", err)
		}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"checkout_id": result.Session.CheckoutID,
		"status":      result.Session.Status,
		"applied":     result.Applied,
		"entitlement": result.Snapshot(),
	})
}

// HandleReconcileCheckout is the pull-based recovery path for checkouts whose
// webhook never arrived.
func HandleReconcileCheckout(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rec := reconcile.NewReconciler(newOrchestrator())
	outcome, err := rec.Reconcile(ctx, c.Params("checkout_id"), userID)
	if err != nil {
		return failCheckout(c, userID, err)
	}

	snap := entitlements.SnapshotOf(outcome.Entitlement, time.Now())
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"checkout_id": outcome.Session.CheckoutID,
		"status":      outcome.Session.Status,
		"not_ready":   outcome.NotReady,
		"applied":     outcome.Applied,
		"entitlement": snap,
	})
}

// HandleGetEntitlement is the pull-model read the surrounding application
// uses to gate premium features.
func HandleGetEntitlement(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}

	snap, err := newEntitlements().GetSnapshot(userID)
	if err != nil {
		fiberlog.Errorf("[Checkout] entitlement snapshot for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlement lookup failed"})
	}
	return c.Status(fiber.StatusOK).JSON(snap)
}

// HandleGrantTrial starts the one-shot account trial. Granting an already
// used trial is not an error; the current snapshot comes back unchanged.
func HandleGrantTrial(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}

	exists, err := models.UserExists(database.GetDB(), userID)
	if err != nil {
		fiberlog.Errorf("[Checkout] user lookup for %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user lookup failed"})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}

	ent, err := newEntitlements().GrantTrial(userID)
	if err != nil {
		fiberlog.Errorf("[Checkout] trial grant for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "trial grant failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"trial_used":  ent.TrialUsed,
		"entitlement": entitlements.SnapshotOf(ent, time.Now()),
	})
}

// HandleMercadoPagoWebhook receives provider push notifications. Irrelevant,
// duplicate and definitely-unresolvable events all answer 2xx so the provider
// stops retrying; only transient failures surface as 5xx.
func HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	query := c.Queries()

	// Signature check runs before anything touches the store, so forged
	// notifications cannot drive dedup inserts or provider fetches. A
	// deployment without a configured secret skips verification.
	if secret := env.GetEnv("MP_WEBHOOK_SECRET", ""); secret != "" {
		dataID := query["data.id"]
		if dataID == "" {
			dataID = query["id"]
		}
		if !mercadopago.VerifyWebhookSignature(dataID, c.Get("X-Request-Id"), c.Get("X-Signature"), secret) {
			fiberlog.Warnf("[Webhook] rejected notification with invalid signature (request-id=%q)", c.Get("X-Request-Id"))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	ing := webhook.NewIngestor(newOrchestrator())
	outcome, err := ing.HandleNotification(ctx, models.ProviderMercadoPago, rawBody, query)
	if err != nil {
		fiberlog.Errorf("[Webhook] notification handling failed: %v", err)
		if errors.Is(err, checkout.ErrProviderUnavailable) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	if err := counter.AddWebhookReceived(webhookOutcomeLabel(outcome)); err != nil {
		fiberlog.Warnf("[Webhook] received counter update failed: %v", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"ignored":   outcome.Ignored,
		"duplicate": outcome.Duplicate,
		"finalized": outcome.Finalized,
	})
}

func webhookOutcomeLabel(o *webhook.Outcome) string {
	switch {
	case o.Finalized:
		return "finalized"
	case o.Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// HandleExpireStaleCheckouts bulk-expires pending sessions past their window.
// Operator-triggered, guarded by basic auth in the router.
func HandleExpireStaleCheckouts(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	n, err := newOrchestrator().ExpireStale(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "expire failed"})
	}
	fiberlog.Infof("[Checkout] expired %d stale sessions", n)
	if err := counter.AddCheckoutsExpired(n); err != nil {
		fiberlog.Warnf("[Checkout] expired counter update failed: %v", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"expired": n})
}

// HandleCheckoutStats serves the Redis-backed counters for operators.
func HandleCheckoutStats(c *fiber.Ctx) error {
	stats, err := counter.Stats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats lookup failed"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// failCheckout maps a typed orchestrator failure to its HTTP shape. The body
// always carries the caller's current entitlement snapshot so the UI can
// render consistent state even on failure.
func failCheckout(c *fiber.Ctx, userID uint, err error) error {
	status, message := checkoutErrorStatus(err)
	if status >= fiber.StatusInternalServerError {
		fiberlog.Errorf("[Checkout] request for user %d failed: %v", userID, err)
	}

	body := fiber.Map{"error": message}
	if snap, snapErr := newEntitlements().GetSnapshot(userID); snapErr == nil {
		body["entitlement"] = snap
	}
	return c.Status(status).JSON(body)
}

func checkoutErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, checkout.ErrInvalidPlan):
		return fiber.StatusUnprocessableEntity, "unknown plan"
	case errors.Is(err, checkout.ErrUnsupportedProvider):
		return fiber.StatusUnprocessableEntity, "unsupported payment provider"
	case errors.Is(err, checkout.ErrMissingTxID):
		return fiber.StatusUnprocessableEntity, "transaction id is required"
	case errors.Is(err, checkout.ErrUserNotFound):
		return fiber.StatusNotFound, "user not found"
	case errors.Is(err, checkout.ErrCheckoutNotFound):
		return fiber.StatusNotFound, "checkout not found"
	case errors.Is(err, checkout.ErrForbidden):
		return fiber.StatusForbidden, "checkout belongs to another user"
	case errors.Is(err, checkout.ErrInvalidToken):
		return fiber.StatusForbidden, "invalid confirmation token"
	case errors.Is(err, checkout.ErrExpired):
		return fiber.StatusConflict, "checkout expired"
	case errors.Is(err, checkout.ErrAlreadyProcessed):
		return fiber.StatusConflict, "checkout already processed"
	case errors.Is(err, checkout.ErrTransactionReused):
		return fiber.StatusConflict, "transaction already used"
	case errors.Is(err, checkout.ErrProviderRejected):
		return fiber.StatusBadGateway, "payment provider rejected the request"
	case errors.Is(err, checkout.ErrProviderUnavailable):
		return fiber.StatusServiceUnavailable, "payment provider unavailable, try again later"
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}
