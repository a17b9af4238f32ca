package checkout

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/entitlements"
	"github.com/studymate/checkout/internal/pkg/plans"
)

// Service is the checkout orchestrator. It owns the session state machine and
// guarantees at-most-once monetary effect across the three finalize entry
// paths (manual confirm, webhook, reconciliation).
type Service struct {
	repo     Repository
	gateways map[string]ProviderGateway
	ents     *entitlements.Service
}

// NewService creates an orchestrator from an injected repository. Gateways
// are keyed by provider name; the manual provider has none.
func NewService(repo Repository, gateways map[string]ProviderGateway, ents *entitlements.Service) *Service {
	if gateways == nil {
		gateways = map[string]ProviderGateway{}
	}
	return &Service{repo: repo, gateways: gateways, ents: ents}
}

// NewServiceFromDB creates an orchestrator from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateways map[string]ProviderGateway, ents *entitlements.Service) *Service {
	return NewService(NewRepository(db), gateways, ents)
}

// Gateway returns the provider gateway for a provider name, if any.
func (s *Service) Gateway(provider string) (ProviderGateway, bool) {
	gw, ok := s.gateways[normalizeProvider(provider)]
	return gw, ok
}

// Repo exposes the repository for collaborators sharing the store (webhook
// ingestor, reconciliation poller).
func (s *Service) Repo() Repository {
	return s.repo
}

// CreateCheckoutInput carries a client's intent to buy a plan. UserID is
// trusted, authentication happens upstream.
type CreateCheckoutInput struct {
	UserID     uint
	PlanCode   string
	Provider   string
	NotifyURL  string
	SuccessURL string
	FailureURL string
}

// CreateCheckoutResult is the created session plus the provider-hosted page
// to redirect the client to (empty for the manual provider).
type CreateCheckoutResult struct {
	Session    *models.CheckoutSession
	PaymentURL string
}

// CreateCheckout validates the plan, generates the session tokens and
// persists a pending session. For providers with a gateway it also creates
// the hosted payment preference and stores the provider's reference.
func (s *Service) CreateCheckout(ctx context.Context, in CreateCheckoutInput) (*CreateCheckoutResult, error) {
	plan, err := plans.Resolve(in.PlanCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, in.PlanCode)
	}

	provider := normalizeProvider(in.Provider)
	switch provider {
	case models.ProviderMercadoPago, models.ProviderManual:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, in.Provider)
	}

	user, err := s.repo.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	checkoutID, err := NewCheckoutID()
	if err != nil {
		return nil, err
	}
	authToken, err := NewAuthToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.CheckoutSession{
		CheckoutID:  checkoutID,
		UserID:      in.UserID,
		PlanCode:    plan.Code,
		AmountCents: plan.PriceCents,
		Currency:    defaultCurrency,
		Provider:    provider,
		AuthToken:   authToken,
		Status:      models.CheckoutStatusPending,
		ExpiresAt:   now.Add(models.CheckoutWindow),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	result := &CreateCheckoutResult{Session: session}

	gw, ok := s.gateways[provider]
	if !ok {
		return result, nil
	}

	pref, err := gw.CreatePreference(ctx, PreferenceRequest{
		CheckoutID:  checkoutID,
		PlanCode:    plan.Code,
		Title:       planTitle(plan.Code),
		AmountCents: plan.PriceCents,
		Currency:    session.Currency,
		PayerEmail:  user.Email,
		NotifyURL:   in.NotifyURL,
		SuccessURL:  in.SuccessURL,
		FailureURL:  in.FailureURL,
	})
	if err != nil {
		// The pending session stays behind; it expires on its own after the
		// checkout window.
		return nil, fmt.Errorf("create preference for %s: %w", checkoutID, err)
	}
	if err := s.repo.SetProviderReference(ctx, checkoutID, pref.Reference); err != nil {
		return nil, err
	}
	ref := pref.Reference
	session.ProviderReference = &ref
	result.PaymentURL = pref.PaymentURL
	return result, nil
}

// ConfirmManualInput is a user-submitted confirmation with the session's
// secret token and an external receipt id.
type ConfirmManualInput struct {
	CheckoutID string
	UserID     uint
	AuthToken  string
	TxID       string
	Provider   string
}

// Result reports the outcome of a finalize attempt. Applied distinguishes a
// fresh monetary effect from an idempotent replay; both are success.
type Result struct {
	Applied     bool
	Session     *models.CheckoutSession
	Entitlement *models.Entitlement
}

// Snapshot converts the result's entitlement state to the read surface
// callers hand to the UI.
func (r *Result) Snapshot() entitlements.Snapshot {
	return entitlements.SnapshotOf(r.Entitlement, time.Now())
}

// ConfirmManual applies a user-submitted confirmation. Checks run in fixed
// order: ownership, token, state (expiry is observed and written before the
// transaction-reuse check), idempotency, then the atomic payment + activation
// + confirm sequence.
func (s *Service) ConfirmManual(ctx context.Context, in ConfirmManualInput) (*Result, error) {
	if strings.TrimSpace(in.TxID) == "" {
		return nil, ErrMissingTxID
	}
	provider := normalizeProvider(in.Provider)
	if provider == "" {
		provider = models.ProviderManual
	}

	var result *Result
	err := s.repo.WithCheckoutLock(ctx, in.CheckoutID, func(repo Repository) error {
		now := time.Now()

		session, err := repo.GetSessionByCheckoutID(ctx, in.CheckoutID)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrCheckoutNotFound
		}
		if session.UserID != in.UserID {
			return ErrForbidden
		}
		if subtle.ConstantTimeCompare([]byte(session.AuthToken), []byte(in.AuthToken)) != 1 {
			return ErrInvalidToken
		}
		switch session.Status {
		case models.CheckoutStatusConfirmed:
			return ErrAlreadyProcessed
		case models.CheckoutStatusExpired:
			return ErrExpired
		}
		if session.IsExpired(now) {
			if err := repo.MarkSessionExpired(ctx, session.CheckoutID, now); err != nil {
				return err
			}
			return ErrExpired
		}

		existing, err := repo.GetPaymentByProviderTx(ctx, provider, in.TxID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrTransactionReused
		}

		created, err := repo.CreatePayment(ctx, &models.Payment{
			UUID:         uuid.New().String(),
			UserID:       session.UserID,
			Provider:     provider,
			ProviderTxID: in.TxID,
			AmountCents:  session.AmountCents,
			Currency:     session.Currency,
			PlanCode:     session.PlanCode,
			Status:       models.PaymentStatusPaid,
			PaidAt:       now,
		})
		if err != nil {
			return err
		}
		if !created {
			// Lost the race against another checkout using the same receipt.
			return ErrTransactionReused
		}

		ent, err := repo.ApplyActivation(ctx, session.UserID, session.PlanCode, now)
		if err != nil {
			return err
		}
		if err := repo.MarkSessionConfirmed(ctx, session.CheckoutID, now); err != nil {
			return err
		}
		session.Status = models.CheckoutStatusConfirmed
		session.ConfirmedAt = &now

		result = &Result{Applied: true, Session: session, Entitlement: ent}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSnapshot(result.Session.UserID)
	return result, nil
}

// FinalizeInput is the shared idempotent path's input, fed identically by the
// webhook ingestor and the reconciliation poller.
type FinalizeInput struct {
	CheckoutRef string
	Provider    string
	TxID        string
	AmountCents int64
	Currency    string
	PlanCode    string
}

// FinalizePayment converts a provider-approved payment into local Payment,
// session and entitlement state. Safe to call any number of times for the
// same (provider, tx_id): whichever caller's insert wins applies the money,
// every other caller lands in the already-applied branch and re-ensures the
// terminal state.
func (s *Service) FinalizePayment(ctx context.Context, in FinalizeInput) (*Result, error) {
	if strings.TrimSpace(in.TxID) == "" {
		return nil, ErrMissingTxID
	}
	provider := normalizeProvider(in.Provider)

	var result *Result
	err := s.repo.WithCheckoutLock(ctx, in.CheckoutRef, func(repo Repository) error {
		now := time.Now()

		session, err := repo.GetSessionByCheckoutID(ctx, in.CheckoutRef)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrCheckoutNotFound
		}
		if session.Status == models.CheckoutStatusExpired {
			return ErrExpired
		}
		if session.Status == models.CheckoutStatusPending && session.IsExpired(now) {
			if err := repo.MarkSessionExpired(ctx, session.CheckoutID, now); err != nil {
				return err
			}
			return ErrExpired
		}

		planCode := session.PlanCode
		if p := plans.Normalize(in.PlanCode); plans.IsPurchasable(p) {
			planCode = p
		}
		amount := in.AmountCents
		if amount <= 0 {
			amount = session.AmountCents
		}
		currency := strings.ToUpper(strings.TrimSpace(in.Currency))
		if currency == "" {
			currency = session.Currency
		}

		existing, err := repo.GetPaymentByProviderTx(ctx, provider, in.TxID)
		if err != nil {
			return err
		}
		if existing != nil && existing.UserID != session.UserID {
			// Same receipt already applied to a different user's checkout.
			return ErrTransactionReused
		}
		// When the existing payment belongs to the same user, this call is
		// treated as a replay even if it arrived through a different checkout
		// of that user: the payment row does not record which checkout it
		// settled, so the two cases cannot be told apart. The session is
		// confirmed without a second activation, which keeps the money
		// applied exactly once.

		applied := false
		if existing == nil {
			created, err := repo.CreatePayment(ctx, &models.Payment{
				UUID:         uuid.New().String(),
				UserID:       session.UserID,
				Provider:     provider,
				ProviderTxID: in.TxID,
				AmountCents:  amount,
				Currency:     currency,
				PlanCode:     planCode,
				Status:       models.PaymentStatusPaid,
				PaidAt:       now,
			})
			if err != nil {
				return err
			}
			applied = created
		}

		var ent *models.Entitlement
		if applied {
			ent, err = repo.ApplyActivation(ctx, session.UserID, planCode, now)
			if err != nil {
				return err
			}
		} else {
			// Already applied: do not stack the plan again, just make sure
			// the ledger row exists and the session reaches its terminal
			// state.
			ent, err = repo.EnsureEntitlement(ctx, session.UserID)
			if err != nil {
				return err
			}
			fiberlog.Infof("[Checkout] finalize replay for %s (%s/%s), already applied", session.CheckoutID, provider, in.TxID)
		}

		if session.Status != models.CheckoutStatusConfirmed {
			if err := repo.MarkSessionConfirmed(ctx, session.CheckoutID, now); err != nil {
				return err
			}
			session.Status = models.CheckoutStatusConfirmed
			session.ConfirmedAt = &now
		}

		result = &Result{Applied: applied, Session: session, Entitlement: ent}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSnapshot(result.Session.UserID)
	return result, nil
}

// ExpireStale marks every pending session past its validity window as
// expired and returns how many were transitioned.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, time.Now())
}

func (s *Service) invalidateSnapshot(userID uint) {
	if s.ents != nil {
		s.ents.InvalidateSnapshot(userID)
	}
}

const defaultCurrency = "ARS"

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func planTitle(code string) string {
	switch code {
	case "premium_30":
		return "StudyMate Premium (30 days)"
	case "premium_90":
		return "StudyMate Premium (90 days)"
	case "premium_365":
		return "StudyMate Premium (365 days)"
	default:
		return "StudyMate Premium"
	}
}
