package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const RestoreMaxAttempts = 5

// RestoreCredential is a one-time emailed code proving mailbox ownership.
// It becomes unusable after success, expiry, or attempt exhaustion.
type RestoreCredential struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email       string     `gorm:"type:varchar(320);not null;index" json:"email"`
	CodeHash    string     `gorm:"type:varchar(128);not null;index" json:"-"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null;default:5" json:"max_attempts"`
	ExpiresAt   time.Time  `gorm:"type:timestamp;not null" json:"expires_at"`
	UsedAt      *time.Time `gorm:"type:timestamp;default:null" json:"used_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (r *RestoreCredential) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = RestoreMaxAttempts
	}
	return nil
}

// Usable reports whether the credential can still be confirmed at now.
func (r *RestoreCredential) Usable(now time.Time) bool {
	return r.UsedAt == nil && now.Before(r.ExpiresAt) && r.Attempts < r.MaxAttempts
}
