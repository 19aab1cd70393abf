package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TokenStatusIssued    = "issued"
	TokenStatusActivated = "activated"
	TokenStatusRevoked   = "revoked"
)

const RevokedReasonRestoreRotation = "restore_rotation"

// AccessToken is a single-use activation credential tied to one order.
// At most one token per order may be in "issued" state at a time; issuing a
// new one revokes all prior issued tokens. "activated" and "revoked" are
// terminal.
type AccessToken struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID       string     `gorm:"type:varchar(36);not null;index" json:"order_id"`
	Status        string     `gorm:"type:varchar(32);not null;default:'issued';index" json:"status"`
	RevokedReason string     `gorm:"type:varchar(128);default:null" json:"revoked_reason,omitempty"`
	IssuedAt      time.Time  `gorm:"autoCreateTime" json:"issued_at"`
	ActivatedAt   *time.Time `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	RevokedAt     *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
}

func (t *AccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
