package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderModeOneTime      = "one_time"
	OrderModeSubscription = "subscription"
)

// Payment lifecycle statuses. customer.subscription.updated writes the raw
// provider status (e.g. "active"), so OrderStatusActive is part of the set.
const (
	OrderStatusCreated        = "created"
	OrderStatusSessionCreated = "session_created"
	OrderStatusPaid           = "paid"
	OrderStatusActive         = "active"
	OrderStatusExpired        = "expired"
	OrderStatusFailed         = "failed"
	OrderStatusPastDue        = "past_due"
	OrderStatusCanceled       = "canceled"
)

const (
	FulfillmentPending = "pending"
	FulfillmentDone    = "done"
	FulfillmentPartial = "partial"
)

const (
	AccessPending     = "pending"
	AccessTokenIssued = "token_issued"
	AccessActive      = "active"
	AccessGracePeriod = "grace_period"
	AccessExpired     = "expired"
	AccessRevoked     = "revoked"
)

// Order is one purchase attempt and the aggregate root for access state.
// Tokens and bindings reference it by ID; rows are never deleted.
type Order struct {
	ID                    string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email                 string     `gorm:"type:varchar(320);not null;index" json:"email" validate:"required,email"`
	ClickID               string     `gorm:"type:varchar(128);not null;default:''" json:"clickid"`
	TelegramChatID        string     `gorm:"type:varchar(64);default:null" json:"telegram_chat_id,omitempty"`
	Mode                  string     `gorm:"type:varchar(32);not null" json:"mode" validate:"oneof=one_time subscription"`
	Plan                  string     `gorm:"type:varchar(64);not null" json:"plan" validate:"required"`
	Locale                string     `gorm:"type:varchar(8);not null;default:'en'" json:"locale"`
	AmountMinor           int64      `gorm:"not null" json:"amount_minor"`
	Currency              string     `gorm:"type:varchar(16);not null" json:"currency"`
	Status                string     `gorm:"type:varchar(32);not null;default:'created';index" json:"status"`
	FulfillmentStatus     string     `gorm:"type:varchar(32);not null;default:'pending'" json:"fulfillment_status"`
	AccessStatus          string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"access_status"`
	StripeSessionID       string     `gorm:"type:varchar(128);default:null;uniqueIndex" json:"stripe_session_id,omitempty"`
	StripePaymentIntentID string     `gorm:"type:varchar(128);default:null;index" json:"stripe_payment_intent_id,omitempty"`
	StripeCustomerID      string     `gorm:"type:varchar(128);default:null;index" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID  string     `gorm:"type:varchar(128);default:null;index" json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// IsPaid reports whether the order currently grants paid access.
func (o *Order) IsPaid() bool {
	return o.AccessStatus == AccessActive || o.Status == OrderStatusPaid || o.Status == OrderStatusActive
}
