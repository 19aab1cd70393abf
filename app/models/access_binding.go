package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	BindingStatusActive   = "active"
	BindingStatusInactive = "inactive"
)

// AccessBinding associates an order's access with one Telegram user identity,
// unique per (order, user). Repeated redemptions reactivate the existing row.
// Subscription lifecycle events flip the status of all bindings of an order.
type AccessBinding struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID        string    `gorm:"type:varchar(36);not null;index:ux_access_bindings_order_user,unique,priority:1" json:"order_id"`
	TelegramUserID string    `gorm:"type:varchar(64);not null;index;index:ux_access_bindings_order_user,unique,priority:2" json:"telegram_user_id"`
	Status         string    `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	BoundAt        time.Time `gorm:"autoCreateTime" json:"bound_at"`
}

func (b *AccessBinding) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
