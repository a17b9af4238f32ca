package models

import "time"

// Payment provider constants used across checkout-related models.
const (
	ProviderMercadoPago = "mercadopago"
	ProviderManual      = "manual"
)

const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusConfirmed = "confirmed"
	CheckoutStatusExpired   = "expired"
)

// CheckoutWindow is how long a created checkout stays confirmable.
const CheckoutWindow = 30 * time.Minute

// CheckoutSession represents one purchase attempt. Sessions are never deleted;
// they terminate as either confirmed or expired and are kept for audit.
type CheckoutSession struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CheckoutID        string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_checkout_sessions_checkout_id" json:"checkout_id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	PlanCode          string     `gorm:"type:varchar(50);not null" json:"plan_code"`
	AmountCents       int64      `gorm:"not null" json:"amount_cents"`
	Currency          string     `gorm:"type:char(3);not null" json:"currency"`
	Provider          string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	AuthToken         string     `gorm:"type:varchar(64);not null" json:"-"`
	ProviderReference *string    `gorm:"type:varchar(191);default:null" json:"provider_reference,omitempty"`
	Status            string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ExpiresAt         time.Time  `gorm:"not null" json:"expires_at"`
	ConfirmedAt       *time.Time `gorm:"type:timestamp;default:null" json:"confirmed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the session's validity window has passed.
func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
