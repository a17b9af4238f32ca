// Package checkouttest provides an in-memory checkout.Repository used by
// orchestrator, webhook and reconciliation tests so they run without MySQL.
// Transactional scopes are serialized on one mutex and rolled back by
// snapshotting state, mirroring the storage guarantees the GORM repository
// gets from row locks and transactions.
package checkouttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/checkout"
	"github.com/studymate/checkout/internal/pkg/entitlements"
	"github.com/studymate/checkout/internal/pkg/plans"
)

type Repo struct {
	mu sync.Mutex

	sessions     map[string]*models.CheckoutSession
	payments     map[string]*models.Payment
	events       map[string]*models.WebhookEvent
	entitlements map[uint]*models.Entitlement
	users        map[uint]*models.User
	nextID       uint
}

func NewRepo() *Repo {
	return &Repo{
		sessions:     map[string]*models.CheckoutSession{},
		payments:     map[string]*models.Payment{},
		events:       map[string]*models.WebhookEvent{},
		entitlements: map[uint]*models.Entitlement{},
		users:        map[uint]*models.User{},
	}
}

// AddUser seeds a user row.
func (r *Repo) AddUser(u models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == 0 {
		u.ID = r.id()
	}
	r.users[u.ID] = &u
}

// SetSessionExpiry rewrites a stored session's validity window so tests can
// put sessions past their deadline.
func (r *Repo) SetSessionExpiry(checkoutID string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[checkoutID]; ok {
		s.ExpiresAt = expiresAt
	}
}

// Session returns a copy of a stored session, if any.
func (r *Repo) Session(checkoutID string) *models.CheckoutSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[checkoutID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// PaymentCount reports the number of stored payment rows.
func (r *Repo) PaymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

// EventCount reports the number of stored webhook event rows.
func (r *Repo) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Entitlement returns a copy of the user's ledger row, if any.
func (r *Repo) Entitlement(userID uint) *models.Entitlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entitlements[userID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (r *Repo) id() uint {
	r.nextID++
	return r.nextID
}

func paymentKey(provider, txID string) string {
	return provider + "|" + txID
}

func eventKey(provider, eventID string) string {
	return provider + "|" + eventID
}

// unlocked is the view handed to WithCheckoutLock callbacks: same store, no
// re-locking, so nested repository calls do not deadlock.
type unlocked struct {
	r *Repo
}

var _ checkout.Repository = (*Repo)(nil)
var _ checkout.Repository = unlocked{}

func (r *Repo) CreateSession(ctx context.Context, s *models.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.CreateSession(ctx, s)
}

func (u unlocked) CreateSession(_ context.Context, s *models.CheckoutSession) error {
	if _, ok := u.r.sessions[s.CheckoutID]; ok {
		return fmt.Errorf("duplicate checkout id %s", s.CheckoutID)
	}
	if s.ID == 0 {
		s.ID = u.r.id()
	}
	cp := *s
	u.r.sessions[s.CheckoutID] = &cp
	return nil
}

func (r *Repo) GetSessionByCheckoutID(ctx context.Context, checkoutID string) (*models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.GetSessionByCheckoutID(ctx, checkoutID)
}

func (u unlocked) GetSessionByCheckoutID(_ context.Context, checkoutID string) (*models.CheckoutSession, error) {
	s, ok := u.r.sessions[checkoutID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *Repo) SetProviderReference(ctx context.Context, checkoutID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.SetProviderReference(ctx, checkoutID, ref)
}

func (u unlocked) SetProviderReference(_ context.Context, checkoutID, ref string) error {
	if s, ok := u.r.sessions[checkoutID]; ok {
		v := ref
		s.ProviderReference = &v
	}
	return nil
}

func (r *Repo) MarkSessionExpired(ctx context.Context, checkoutID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.MarkSessionExpired(ctx, checkoutID, now)
}

func (u unlocked) MarkSessionExpired(_ context.Context, checkoutID string, now time.Time) error {
	if s, ok := u.r.sessions[checkoutID]; ok && s.Status == models.CheckoutStatusPending {
		s.Status = models.CheckoutStatusExpired
		s.UpdatedAt = now
	}
	return nil
}

func (r *Repo) MarkSessionConfirmed(ctx context.Context, checkoutID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.MarkSessionConfirmed(ctx, checkoutID, now)
}

func (u unlocked) MarkSessionConfirmed(_ context.Context, checkoutID string, now time.Time) error {
	if s, ok := u.r.sessions[checkoutID]; ok && s.Status == models.CheckoutStatusPending {
		t := now
		s.Status = models.CheckoutStatusConfirmed
		s.ConfirmedAt = &t
		s.UpdatedAt = now
	}
	return nil
}

func (r *Repo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.ExpireStale(ctx, now)
}

func (u unlocked) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, s := range u.r.sessions {
		if s.Status == models.CheckoutStatusPending && !now.Before(s.ExpiresAt) {
			s.Status = models.CheckoutStatusExpired
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *Repo) GetPaymentByProviderTx(ctx context.Context, provider, txID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.GetPaymentByProviderTx(ctx, provider, txID)
}

func (u unlocked) GetPaymentByProviderTx(_ context.Context, provider, txID string) (*models.Payment, error) {
	p, ok := u.r.payments[paymentKey(provider, txID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *Repo) CreatePayment(ctx context.Context, p *models.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.CreatePayment(ctx, p)
}

func (u unlocked) CreatePayment(_ context.Context, p *models.Payment) (bool, error) {
	key := paymentKey(p.Provider, p.ProviderTxID)
	if _, ok := u.r.payments[key]; ok {
		return false, nil
	}
	if p.ID == 0 {
		p.ID = u.r.id()
	}
	cp := *p
	u.r.payments[key] = &cp
	return true, nil
}

func (r *Repo) ApplyActivation(ctx context.Context, userID uint, planCode string, now time.Time) (*models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.ApplyActivation(ctx, userID, planCode, now)
}

func (u unlocked) ApplyActivation(ctx context.Context, userID uint, planCode string, now time.Time) (*models.Entitlement, error) {
	plan, err := plans.Resolve(planCode)
	if err != nil {
		return nil, checkout.ErrInvalidPlan
	}
	if _, err := u.EnsureEntitlement(ctx, userID); err != nil {
		return nil, err
	}
	stored := u.r.entitlements[userID]
	until := entitlements.NextPremiumUntil(stored.PremiumUntil, now, plan.DurationDays)
	stored.PlanCode = plan.Code
	stored.PremiumUntil = &until
	stored.UpdatedAt = now
	cp := *stored
	return &cp, nil
}

func (r *Repo) EnsureEntitlement(ctx context.Context, userID uint) (*models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.EnsureEntitlement(ctx, userID)
}

func (u unlocked) EnsureEntitlement(_ context.Context, userID uint) (*models.Entitlement, error) {
	e, ok := u.r.entitlements[userID]
	if !ok {
		e = &models.Entitlement{ID: u.r.id(), UserID: userID, PlanCode: plans.PlanFree}
		u.r.entitlements[userID] = e
	}
	cp := *e
	return &cp, nil
}

func (r *Repo) CreateWebhookEventIfNotExists(ctx context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.CreateWebhookEventIfNotExists(ctx, e)
}

func (u unlocked) CreateWebhookEventIfNotExists(_ context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := eventKey(e.Provider, e.EventID)
	if stored, ok := u.r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	if e.ID == 0 {
		e.ID = u.r.id()
	}
	cp := *e
	u.r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *Repo) MarkWebhookProcessed(ctx context.Context, eventID uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.MarkWebhookProcessed(ctx, eventID, processingError)
}

func (u unlocked) MarkWebhookProcessed(_ context.Context, eventID uint, processingError string) error {
	for _, e := range u.r.events {
		if e.ID == eventID {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("webhook event %d not found", eventID)
}

func (r *Repo) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unlocked{r}.GetUser(ctx, userID)
}

func (u unlocked) GetUser(_ context.Context, userID uint) (*models.User, error) {
	usr, ok := u.r.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *usr
	return &cp, nil
}

// WithCheckoutLock serializes scopes on the store mutex and restores the
// pre-scope state when fn fails, matching the GORM transaction rollback.
func (r *Repo) WithCheckoutLock(_ context.Context, _ string, fn func(checkout.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapSessions := cloneMap(r.sessions)
	snapPayments := cloneMap(r.payments)
	snapEvents := cloneMap(r.events)
	snapEnts := cloneMap(r.entitlements)

	if err := fn(unlocked{r}); err != nil {
		r.sessions = snapSessions
		r.payments = snapPayments
		r.events = snapEvents
		r.entitlements = snapEnts
		return err
	}
	return nil
}

func (u unlocked) WithCheckoutLock(ctx context.Context, checkoutID string, fn func(checkout.Repository) error) error {
	// Already inside a scope.
	return fn(u)
}

func cloneMap[K comparable, V any](m map[K]*V) map[K]*V {
	out := make(map[K]*V, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}
