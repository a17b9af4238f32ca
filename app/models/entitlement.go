package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Entitlement is the per-user subscription state. Exactly one row per user,
// created lazily on first touch with the default free plan. PremiumUntil only
// ever moves forward across activations (stacking, never shortening).
type Entitlement struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"uniqueIndex" json:"user_id"`
	PlanCode       string     `gorm:"type:varchar(50);not null;default:'free'" json:"plan_code"`
	PremiumUntil   *time.Time `gorm:"type:timestamp;default:null" json:"premium_until,omitempty"`
	TrialUsed      bool       `gorm:"default:false" json:"trial_used"`
	TrialStartedAt *time.Time `gorm:"type:timestamp;default:null" json:"trial_started_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetOrCreateEntitlement returns the user's row or creates the free default.
func GetOrCreateEntitlement(db *gorm.DB, userID uint) (*Entitlement, error) {
	var e Entitlement
	if err := db.Where("user_id = ?", userID).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e = Entitlement{UserID: userID, PlanCode: "free"}
			if err := db.Create(&e).Error; err != nil {
				return nil, err
			}
			return &e, nil
		}
		return nil, err
	}
	return &e, nil
}
