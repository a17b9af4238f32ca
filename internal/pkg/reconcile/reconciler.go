package reconcile

import (
	"context"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/checkout"
)

// Reconciler is the pull-based fallback for checkouts whose webhook never
// arrived: it asks the provider directly and feeds approved payments through
// the same finalize path the webhook uses.
type Reconciler struct {
	repo         checkout.Repository
	orchestrator *checkout.Service
}

func NewReconciler(orchestrator *checkout.Service) *Reconciler {
	return &Reconciler{repo: orchestrator.Repo(), orchestrator: orchestrator}
}

// Outcome is a reconciliation result. NotReady is the normal polling answer
// when the provider has no approved payment yet; it is not a failure.
type Outcome struct {
	NotReady       bool
	Applied        bool
	AlreadyApplied bool
	Session        *models.CheckoutSession
	Entitlement    *models.Entitlement
}

// Reconcile checks the provider for a checkout's payment and finalizes it if
// approved. Ownership and already-confirmed checks mirror the manual confirm
// path; an already-confirmed session returns success immediately.
func (r *Reconciler) Reconcile(ctx context.Context, checkoutID string, userID uint) (*Outcome, error) {
	session, err := r.repo.GetSessionByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, checkout.ErrCheckoutNotFound
	}
	if session.UserID != userID {
		return nil, checkout.ErrForbidden
	}

	if session.Status == models.CheckoutStatusConfirmed {
		ent, err := r.repo.EnsureEntitlement(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		return &Outcome{AlreadyApplied: true, Session: session, Entitlement: ent}, nil
	}

	gw, ok := r.orchestrator.Gateway(session.Provider)
	if !ok {
		// The manual provider has no provider-side state to query.
		return nil, fmt.Errorf("%w: %q has no searchable payments API",
			checkout.ErrUnsupportedProvider, session.Provider)
	}

	payment, err := gw.SearchLatestByExternalReference(ctx, session.CheckoutID)
	if err != nil {
		return nil, fmt.Errorf("search payments for %s: %w", session.CheckoutID, err)
	}
	if payment == nil || !payment.Approved() {
		ent, err := r.repo.EnsureEntitlement(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		status := "none"
		if payment != nil {
			status = payment.Status
		}
		fiberlog.Infof("[Reconcile] %s not ready yet (provider status=%s)", session.CheckoutID, status)
		return &Outcome{NotReady: true, Session: session, Entitlement: ent}, nil
	}

	res, err := r.orchestrator.FinalizePayment(ctx, checkout.FinalizeInput{
		CheckoutRef: session.CheckoutID,
		Provider:    session.Provider,
		TxID:        payment.ID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("[Reconcile] %s finalized via poll (applied=%t)", session.CheckoutID, res.Applied)
	return &Outcome{
		Applied:        res.Applied,
		AlreadyApplied: !res.Applied,
		Session:        res.Session,
		Entitlement:    res.Entitlement,
	}, nil
}
