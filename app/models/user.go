package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// User is the read-only slice of the account table the engine needs: identity
// for ownership checks and email/name for payer prefill on provider
// preferences. Authentication lives outside this service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(150)" json:"name"`
	Email     string    `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindUserByID resolves a user id or reports gorm.ErrRecordNotFound.
func FindUserByID(db *gorm.DB, id uint) (*User, error) {
	var u User
	if err := db.First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists is a cheap existence probe used before creating checkouts.
func UserExists(db *gorm.DB, id uint) (bool, error) {
	var u User
	err := db.Select("id").First(&u, "id = ?", id).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}
