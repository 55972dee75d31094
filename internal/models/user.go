package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountType string

const (
	AccountTypeEmployee AccountType = "employee"
	AccountTypeManager  AccountType = "manager"
)

type User struct {
	ID           uuid.UUID   `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Name         string      `gorm:"type:varchar(50);not null" json:"name"`
	LastName     string      `gorm:"type:varchar(50);not null" json:"last_name"`
	Email        string      `gorm:"type:citext;uniqueIndex;not null" json:"email"`
	PasswordHash string      `gorm:"type:varchar(255);not null" json:"-"`
	AccountType  AccountType `gorm:"type:account_type;not null" json:"account_type"`

	// Second factor. Present iff the second factor is enabled; the secret
	// staged during enrollment lives in the session until verified.
	TwoFASecret *string `gorm:"type:varchar(64)" json:"-"`

	// Reset-token pair. Set and cleared together; consumption is fused
	// with the password update (conditional UPDATE in the repository).
	ResetTokenHash      *string    `gorm:"type:varchar(64)" json:"-"`
	ResetTokenExpiresAt *time.Time `gorm:"type:timestamptz" json:"-"`

	PhoneNumber string     `gorm:"type:varchar(20)" json:"phone_number"`
	HomeAddress string     `gorm:"type:varchar(255)" json:"home_address"`
	DateOfBirth *time.Time `gorm:"type:date" json:"date_of_birth"`
	CompanyID   *uuid.UUID `gorm:"type:uuid" json:"company_id"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// TwoFAEnabled reports whether a verified second-factor secret is on file.
func (u *User) TwoFAEnabled() bool {
	return u.TwoFASecret != nil && *u.TwoFASecret != ""
}

// HasActiveReset reports whether an unexpired reset token is in flight.
func (u *User) HasActiveReset(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now)
}

// BeforeCreate hook to generate UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
