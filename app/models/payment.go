package models

import "time"

const PaymentStatusPaid = "paid"

// Payment is one accepted monetary transaction. The (provider, provider_tx_id)
// pair is the system-wide idempotency key: whichever finalize path inserts the
// row first wins, every later attempt must observe the conflict. Rows are never
// mutated after creation.
type Payment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	Provider     string    `gorm:"type:varchar(20);not null;index:ux_payments_provider_tx,unique,priority:1" json:"provider"`
	ProviderTxID string    `gorm:"type:varchar(191);not null;index:ux_payments_provider_tx,unique,priority:2" json:"provider_tx_id"`
	AmountCents  int64     `gorm:"not null" json:"amount_cents"`
	Currency     string    `gorm:"type:char(3);not null" json:"currency"`
	PlanCode     string    `gorm:"type:varchar(50);not null" json:"plan_code"`
	Status       string    `gorm:"type:varchar(16);not null;default:'paid'" json:"status"`
	PaidAt       time.Time `gorm:"not null" json:"paid_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
