package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/entitlements"
)

// Repository provides the durable operations the orchestrator runs. Lookup
// methods return (nil, nil) when the record does not exist so state-machine
// branches stay explicit in the service.
type Repository interface {
	CreateSession(ctx context.Context, s *models.CheckoutSession) error
	GetSessionByCheckoutID(ctx context.Context, checkoutID string) (*models.CheckoutSession, error)
	SetProviderReference(ctx context.Context, checkoutID, ref string) error
	MarkSessionExpired(ctx context.Context, checkoutID string, now time.Time) error
	// MarkSessionConfirmed only transitions pending sessions; confirming an
	// already-confirmed session is a no-op.
	MarkSessionConfirmed(ctx context.Context, checkoutID string, now time.Time) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	GetPaymentByProviderTx(ctx context.Context, provider, txID string) (*models.Payment, error)
	// CreatePayment reports created=false when the (provider, provider_tx_id)
	// unique constraint rejected the insert.
	CreatePayment(ctx context.Context, p *models.Payment) (bool, error)

	ApplyActivation(ctx context.Context, userID uint, planCode string, now time.Time) (*models.Entitlement, error)
	EnsureEntitlement(ctx context.Context, userID uint) (*models.Entitlement, error)

	CreateWebhookEventIfNotExists(ctx context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, eventID uint, processingError string) error

	GetUser(ctx context.Context, userID uint) (*models.User, error)

	// WithCheckoutLock runs fn inside one transaction holding a row lock on
	// the named session, so concurrent finalize attempts serialize on it.
	WithCheckoutLock(ctx context.Context, checkoutID string, fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a checkout repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSession(ctx context.Context, s *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) GetSessionByCheckoutID(ctx context.Context, checkoutID string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := r.db.WithContext(ctx).Where("checkout_id = ?", checkoutID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SetProviderReference(ctx context.Context, checkoutID, ref string) error {
	return r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("checkout_id = ?", checkoutID).
		Update("provider_reference", ref).Error
}

func (r *gormRepository) MarkSessionExpired(ctx context.Context, checkoutID string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("checkout_id = ? AND status = ?", checkoutID, models.CheckoutStatusPending).
		Updates(map[string]interface{}{
			"status":     models.CheckoutStatusExpired,
			"updated_at": now,
		}).Error
}

func (r *gormRepository) MarkSessionConfirmed(ctx context.Context, checkoutID string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("checkout_id = ? AND status = ?", checkoutID, models.CheckoutStatusPending).
		Updates(map[string]interface{}{
			"status":       models.CheckoutStatusConfirmed,
			"confirmed_at": &now,
			"updated_at":   now,
		}).Error
}

func (r *gormRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("status = ? AND expires_at <= ?", models.CheckoutStatusPending, now).
		Updates(map[string]interface{}{
			"status":     models.CheckoutStatusExpired,
			"updated_at": now,
		})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) GetPaymentByProviderTx(ctx context.Context, provider, txID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("provider = ? AND provider_tx_id = ?", provider, txID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePayment(ctx context.Context, p *models.Payment) (bool, error) {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *gormRepository) ApplyActivation(ctx context.Context, userID uint, planCode string, now time.Time) (*models.Entitlement, error) {
	e, err := entitlements.ApplyActivation(r.db.WithContext(ctx), userID, planCode, now)
	if err != nil {
		if errors.Is(err, entitlements.ErrInvalidPlan) {
			return nil, ErrInvalidPlan
		}
		return nil, err
	}
	return e, nil
}

func (r *gormRepository) EnsureEntitlement(ctx context.Context, userID uint) (*models.Entitlement, error) {
	return models.GetOrCreateEntitlement(r.db.WithContext(ctx), userID)
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND event_id = ?", event.Provider, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, eventID uint, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}

func (r *gormRepository) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	u, err := models.FindUserByID(r.db.WithContext(ctx), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *gormRepository) WithCheckoutLock(ctx context.Context, checkoutID string, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock: concurrent finalize attempts for the same checkout
		// serialize here instead of racing on check-then-act.
		var locked models.CheckoutSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("checkout_id = ?", checkoutID).
			First(&locked).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return fn(&gormRepository{db: tx})
	})
}

// isDuplicateKey recognizes the unique-constraint violation that acts as the
// concurrency-control primitive on payment inserts.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
